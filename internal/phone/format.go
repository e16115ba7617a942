// Package phone normalizes raw phone numbers into WhatsApp chat addresses.
package phone

import (
	"strconv"
	"strings"
)

const (
	// UserSuffix is the address suffix for individual contacts.
	UserSuffix = "@c.us"
	// GroupSuffix is the address suffix for group chats.
	GroupSuffix = "@g.us"

	countryCode   = "55"
	mobileDigit   = "9"
	maxNinthDDD   = 30
	localDigitLen = 8
)

// Format converts a raw digit string into a chat address.
//
// Brazilian numbers ("55" prefix) are rebuilt from country code, area code and
// the trailing eight local digits; area codes up to 30 get the mobile "9"
// inserted before the local part. Any other input is suffixed unchanged.
// Short or malformed input yields a malformed address; the session rejects it
// at send time.
func Format(number string) string {
	if prefix(number, 2) != countryCode {
		return number + UserSuffix
	}

	ddd := substr(number, 2, 2)
	local := suffix(number, localDigitLen)

	if area, err := strconv.Atoi(leadingDigits(ddd)); err == nil && area <= maxNinthDDD {
		return countryCode + ddd + mobileDigit + local + UserSuffix
	}
	return countryCode + ddd + local + UserSuffix
}

// Digits returns the user part of an address ("5511988887777@c.us" -> "5511988887777").
func Digits(address string) string {
	if i := strings.IndexByte(address, '@'); i >= 0 {
		address = address[:i]
	}
	if i := strings.IndexByte(address, ':'); i >= 0 {
		address = address[:i]
	}
	return address
}

// IsGroup reports whether the address belongs to the group namespace.
func IsGroup(address string) bool {
	return strings.Contains(address, GroupSuffix)
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func substr(s string, start, n int) string {
	if start >= len(s) {
		return ""
	}
	end := start + n
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// leadingDigits mirrors lenient integer parsing: "3x" reads as 3, "x3" as nothing.
func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

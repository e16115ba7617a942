package phone

import (
	"fmt"
	"strings"
	"testing"
)

func TestFormat_LowAreaCodeInsertsNinthDigit(t *testing.T) {
	for ddd := 11; ddd <= 30; ddd++ {
		local := "98887777"
		number := fmt.Sprintf("55%d%s", ddd, local)
		got := Format(number)
		want := fmt.Sprintf("55%d9%s@c.us", ddd, local)
		if got != want {
			t.Errorf("Format(%q) = %q, want %q", number, got, want)
		}
	}
}

func TestFormat_HighAreaCodeKeepsLocalNumber(t *testing.T) {
	for _, ddd := range []int{31, 41, 61, 99} {
		number := fmt.Sprintf("55%d%s", ddd, "85270469")
		got := Format(number)
		want := fmt.Sprintf("55%d85270469@c.us", ddd)
		if got != want {
			t.Errorf("Format(%q) = %q, want %q", number, got, want)
		}
	}
}

func TestFormat_DropsExistingNinthDigitForHighAreaCode(t *testing.T) {
	// 12-digit input: only the trailing 8 digits survive.
	got := Format("5541985270469")
	if got != "554185270469@c.us" {
		t.Errorf("got %q", got)
	}
}

func TestFormat_LowAreaCodeWithNinthDigitAlreadyPresent(t *testing.T) {
	got := Format("5511988887777")
	if got != "5511988887777@c.us" {
		t.Errorf("got %q", got)
	}
}

func TestFormat_ForeignNumberUnchanged(t *testing.T) {
	for _, number := range []string{"14155552671", "447911123456", "5", ""} {
		got := Format(number)
		if got != number+"@c.us" {
			t.Errorf("Format(%q) = %q", number, got)
		}
	}
}

func TestFormat_ShortBrazilianInputIsMalformedNotPanicking(t *testing.T) {
	got := Format("5511")
	if !strings.HasSuffix(got, "@c.us") {
		t.Errorf("expected suffix, got %q", got)
	}
	if got != "551195511@c.us" {
		t.Errorf("got %q", got)
	}
}

func TestFormat_NonNumericAreaCode(t *testing.T) {
	if got := Format("55ab12345678"); got != "55ab12345678@c.us" {
		t.Errorf("got %q", got)
	}
}

func TestDigits(t *testing.T) {
	cases := map[string]string{
		"5511988887777@c.us":              "5511988887777",
		"5511988887777@s.whatsapp.net":    "5511988887777",
		"5511988887777:12@s.whatsapp.net": "5511988887777",
		"5511988887777":                   "5511988887777",
	}
	for in, want := range cases {
		if got := Digits(in); got != want {
			t.Errorf("Digits(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsGroup(t *testing.T) {
	if !IsGroup("120363025246125888@g.us") {
		t.Error("group address not detected")
	}
	if IsGroup("5511988887777@c.us") {
		t.Error("user address detected as group")
	}
}

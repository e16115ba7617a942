package domain

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Message type tags carried by InboundMessage.Type.
const (
	TypeChat            = "chat"
	TypeVoiceNote       = "ptt"
	TypeImage           = "image"
	TypeAudio           = "audio"
	TypeVideo           = "video"
	TypeDocument        = "document"
	TypeSticker         = "sticker"
	TypeE2ENotification = "e2e_notification"
)

// InboundMessage is a message received by the session.
type InboundMessage struct {
	ID            string
	From          string // chat address the message arrived in
	Author        string // sender inside a group chat, empty for direct chats
	Body          string
	Type          string
	IsGroup       bool
	HasMedia      bool
	FromMe        bool
	NotifyName    string // contact display name
	ContactNumber string // digits of the sender
	Timestamp     time.Time
}

// Content is either a text body or a media attachment.
type Content struct {
	Text  string
	Media *Media
}

// Text builds text content.
func Text(s string) Content { return Content{Text: s} }

// WithMedia builds media content.
func WithMedia(m *Media) Content { return Content{Media: m} }

// IsMedia reports whether the content carries an attachment.
func (c Content) IsMedia() bool { return c.Media != nil }

// Media is an attachment with base64-encoded data.
type Media struct {
	MimeType string
	Data     string
	Filename string
}

// Go's builtin table lacks these and slim images ship no /etc/mime.types.
func init() {
	for ext, typ := range map[string]string{
		".ogg":  "audio/ogg",
		".opus": "audio/ogg",
		".mp3":  "audio/mpeg",
		".m4a":  "audio/mp4",
		".mp4":  "video/mp4",
	} {
		if mime.TypeByExtension(ext) == "" {
			mime.AddExtensionType(ext, typ)
		}
	}
}

// NewMedia wraps raw bytes as a media payload.
func NewMedia(mimeType string, raw []byte, filename string) *Media {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	if mimeType == "application/ogg" {
		mimeType = "audio/ogg"
	}
	return &Media{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
		Filename: filename,
	}
}

// MediaFromFile reads a file from disk, guessing its MIME type from the extension.
func MediaFromFile(path string) (*Media, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	return NewMedia(mimeType, raw, filepath.Base(path)), nil
}

// Bytes decodes the media payload.
func (m *Media) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Data)
}

// SendOptions tunes a single send.
type SendOptions struct {
	Caption          string
	SendAudioAsVoice bool
	Quoted           *InboundMessage // reply to this message
}

// SendResult describes an accepted send.
type SendResult struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Ack       int       `json:"ack"`
}

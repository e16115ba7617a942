// Package browser drives WhatsApp Web in a Chrome instance through the
// DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// chromeNames are the executables tried on PATH when no binary is configured.
var chromeNames = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell"}

// FindChrome returns explicit when it exists, else the first Chrome found on
// PATH, else "".
func FindChrome(explicit string) string {
	if explicit != "" {
		if p, err := exec.LookPath(explicit); err == nil {
			return p
		}
		return ""
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Bridge launches Chrome on a persistent profile so the WhatsApp Web login
// survives restarts.
type Bridge struct {
	cfg BridgeConfig
}

type BridgeConfig struct {
	ProfileDir string // Chrome user data directory
	ExecPath   string // Chrome binary, empty lets chromedp search PATH
	Headless   bool
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{cfg: cfg}
}

func (b *Bridge) ProfileDir() string { return b.cfg.ProfileDir }

// Launch starts Chrome and returns a tab context. cancel closes the tab and
// kills the browser process.
func (b *Bridge) Launch(parent context.Context) (context.Context, context.CancelFunc, error) {
	if b.cfg.ProfileDir == "" {
		return nil, nil, fmt.Errorf("browser profile dir is required")
	}
	if err := os.MkdirAll(b.cfg.ProfileDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, b.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(b.chromeLog(slog.LevelDebug)),
		chromedp.WithErrorf(b.chromeLog(slog.LevelWarn)),
	)
	return tabCtx, func() {
		tabCancel()
		allocCancel()
	}, nil
}

func (b *Bridge) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(b.cfg.ProfileDir),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1280, 900),
		// WhatsApp Web refuses sessions it recognizes as automated.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("headless", b.cfg.Headless),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	return opts
}

func (b *Bridge) chromeLog(level slog.Level) func(string, ...any) {
	return func(format string, args ...any) {
		b.cfg.Logger.Log(context.Background(), level, fmt.Sprintf(format, args...), "component", "chromedp")
	}
}

// SelectorSet contains CSS selectors for WhatsApp Web.
type SelectorSet struct {
	URL        string // WhatsApp Web entry point
	QRCode     string // element carrying the pairing payload in data-ref
	ChatList   string // rendered once the session is logged in
	UnreadChat string // chat rows with an unread badge
	Message    string // inbound message rows carrying data-id
	Input      string // composer
	SendButton string
	AttachBtn  string
	FileInput  string // hidden <input type=file> of the attach dialog
	Caption    string // caption box in the media preview
}

// WhatsAppSelectors returns the default selectors for web.whatsapp.com.
func WhatsAppSelectors() SelectorSet {
	return SelectorSet{
		URL:        "https://web.whatsapp.com",
		QRCode:     "div[data-ref]",
		ChatList:   "#pane-side",
		UnreadChat: "#pane-side [aria-label*='unread']",
		Message:    "div.message-in",
		Input:      "footer div[contenteditable='true']",
		SendButton: "span[data-icon='send']",
		AttachBtn:  "span[data-icon='plus'], span[data-icon='attach-menu-plus']",
		FileInput:  "input[type='file']",
		Caption:    "div[contenteditable='true'][data-lexical-editor='true']",
	}
}

// Override replaces non-empty fields of s with those of o.
func (s SelectorSet) Override(o SelectorSet) SelectorSet {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.URL, o.URL)
	set(&s.QRCode, o.QRCode)
	set(&s.ChatList, o.ChatList)
	set(&s.UnreadChat, o.UnreadChat)
	set(&s.Message, o.Message)
	set(&s.Input, o.Input)
	set(&s.SendButton, o.SendButton)
	set(&s.AttachBtn, o.AttachBtn)
	set(&s.FileInput, o.FileInput)
	set(&s.Caption, o.Caption)
	return s
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"isazap/internal/browser"
	"isazap/internal/domain"
	"isazap/internal/phone"
)

const (
	browserSendTimeout = 60 * time.Second
	maxChatsPerPoll    = 5
)

// Browser drives WhatsApp Web in Chrome. Pairing, login persistence and
// transport are WhatsApp Web's own; this type only scrapes and clicks.
type Browser struct {
	bridge       *browser.Bridge
	sel          browser.SelectorSet
	pollInterval time.Duration
	logger       *slog.Logger

	hmu      sync.RWMutex
	handlers []func(domain.SessionEvent)

	page    sync.Mutex // serializes chromedp actions on the single tab
	crashed atomic.Bool
	taskCtx context.Context
	cancel  context.CancelFunc

	seen     map[string]struct{}
	baseline bool
}

type BrowserConfig struct {
	ClientID     string
	StoreDir     string
	ChromePath   string
	Headless     bool
	PollInterval time.Duration
	Selectors    browser.SelectorSet // non-empty fields override the defaults
	Logger       *slog.Logger
}

func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	return &Browser{
		bridge: browser.NewBridge(browser.BridgeConfig{
			ProfileDir: BrowserProfileDir(cfg.StoreDir, cfg.ClientID),
			ExecPath:   cfg.ChromePath,
			Headless:   cfg.Headless,
			Logger:     cfg.Logger,
		}),
		sel:          browser.WhatsAppSelectors().Override(cfg.Selectors),
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		seen:         make(map[string]struct{}),
	}
}

// BrowserProfileDir is the Chrome profile directory for a client ID.
func BrowserProfileDir(storeDir, clientID string) string {
	return filepath.Join(storeDir, "session-"+clientID)
}

func (b *Browser) On(handler func(domain.SessionEvent)) {
	b.hmu.Lock()
	b.handlers = append(b.handlers, handler)
	b.hmu.Unlock()
}

func (b *Browser) emit(evt domain.SessionEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.hmu.RLock()
	handlers := make([]func(domain.SessionEvent), len(b.handlers))
	copy(handlers, b.handlers)
	b.hmu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (b *Browser) Initialize(ctx context.Context) error {
	taskCtx, cancel, err := b.bridge.Launch(context.Background())
	if err != nil {
		return err
	}

	navCtx, navCancel := context.WithTimeout(taskCtx, browserSendTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(b.sel.URL),
		chromedp.WaitReady("body"),
	); err != nil {
		cancel()
		return fmt.Errorf("open whatsapp web: %w", err)
	}

	b.page.Lock()
	b.taskCtx, b.cancel = taskCtx, cancel
	b.page.Unlock()
	chromedp.ListenTarget(taskCtx, b.onTargetEvent(taskCtx))

	b.logger.Info("whatsapp web opened", "profile", b.bridge.ProfileDir())
	go b.watch(taskCtx)
	return nil
}

// watch polls the page for pairing codes, readiness and new messages until
// the tab dies or the session is closed.
func (b *Browser) watch(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var lastQR string
	ready := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if b.crashed.Load() {
			b.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "browser: tab crashed"})
			return
		}

		loggedIn, qr, err := b.probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: fmt.Sprintf("browser: %v", err)})
			return
		}

		switch {
		case !loggedIn && ready:
			b.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "logged out"})
			return
		case !loggedIn:
			if qr != "" && qr != lastQR {
				lastQR = qr
				b.emit(domain.SessionEvent{Type: domain.EventQR, QRCode: qr})
			}
		case !ready:
			ready = true
			b.emit(domain.SessionEvent{Type: domain.EventAuthenticated})
			b.emit(domain.SessionEvent{Type: domain.EventReady})
			b.baseline = true
			fallthrough
		default:
			if err := b.pollMessages(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("poll messages failed", "err", err)
			}
		}
	}
}

// onTargetEvent handles DevTools events on the WhatsApp tab. Listeners run on
// the protocol reader goroutine, so page actions are started separately.
func (b *Browser) onTargetEvent(ctx context.Context) func(any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *inspector.EventTargetCrashed:
			b.logger.Error("whatsapp web tab crashed")
			b.crashed.Store(true)
		case *page.EventJavascriptDialogOpening:
			b.logger.Debug("dismissing page dialog", "type", e.Type, "message", e.Message)
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil && ctx.Err() == nil {
					b.logger.Warn("dismiss dialog failed", "err", err)
				}
			}()
		}
	}
}

func (b *Browser) probe(ctx context.Context) (loggedIn bool, qr string, err error) {
	b.page.Lock()
	defer b.page.Unlock()

	js := fmt.Sprintf(`(function(){
		var qr = document.querySelector(%q);
		return {loggedIn: document.querySelector(%q) !== null, qr: qr ? (qr.getAttribute('data-ref') || '') : ''};
	})()`, b.sel.QRCode, b.sel.ChatList)

	var res struct {
		LoggedIn bool   `json:"loggedIn"`
		QR       string `json:"qr"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return false, "", err
	}
	return res.LoggedIn, res.QR, nil
}

// scrapedMessage is the shape returned by the in-page extraction script.
type scrapedMessage struct {
	DataID   string `json:"id"`
	Body     string `json:"body"`
	Name     string `json:"name"`
	HasImage bool   `json:"image"`
	HasAudio bool   `json:"audio"`
	HasDoc   bool   `json:"doc"`
}

func (b *Browser) pollMessages(ctx context.Context) error {
	b.page.Lock()
	defer b.page.Unlock()

	var count int
	countJS := fmt.Sprintf(`document.querySelectorAll(%q).length`, b.sel.UnreadChat)
	if err := chromedp.Run(ctx, chromedp.Evaluate(countJS, &count)); err != nil {
		return fmt.Errorf("count unread chats: %w", err)
	}
	if count > maxChatsPerPoll {
		count = maxChatsPerPoll
	}

	for i := 0; i < count; i++ {
		var raw string
		openJS := fmt.Sprintf(`(function(){
			var el = document.querySelectorAll(%q)[0];
			if (!el) return false;
			var row = el.closest('[role="listitem"]') || el;
			row.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
			row.click();
			return true;
		})()`, b.sel.UnreadChat)
		extractJS := fmt.Sprintf(`(function(){
			var header = document.querySelector('#main header span[title]');
			var name = header ? header.getAttribute('title') : '';
			var rows = Array.from(document.querySelectorAll(%q)).slice(-10);
			return JSON.stringify(rows.map(function(row){
				var holder = row.closest('[data-id]') || row.querySelector('[data-id]');
				var text = row.querySelector('span.selectable-text');
				return {
					id: holder ? holder.getAttribute('data-id') : '',
					body: text ? text.innerText : '',
					name: name,
					image: row.querySelector('img[src^="blob:"]') !== null,
					audio: row.querySelector('[data-icon="audio-play"]') !== null,
					doc: row.querySelector('[data-icon^="document"]') !== null
				};
			}));
		})()`, b.sel.Message)

		var opened bool
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(openJS, &opened),
			chromedp.Sleep(400*time.Millisecond),
			chromedp.Evaluate(extractJS, &raw),
		); err != nil {
			return fmt.Errorf("read chat: %w", err)
		}
		if !opened {
			break
		}

		var scraped []scrapedMessage
		if err := json.Unmarshal([]byte(raw), &scraped); err != nil {
			return fmt.Errorf("decode scraped messages: %w", err)
		}
		b.deliver(scraped)
	}

	// Rows read during the first poll after login are history.
	b.baseline = false
	return nil
}

// deliver emits message events for rows not seen before. During the first
// poll after login rows are only recorded.
func (b *Browser) deliver(scraped []scrapedMessage) {
	for _, s := range scraped {
		if s.DataID == "" {
			continue
		}
		if _, ok := b.seen[s.DataID]; ok {
			continue
		}
		b.seen[s.DataID] = struct{}{}
		if b.baseline {
			continue
		}
		msg, ok := parseScraped(s)
		if !ok {
			continue
		}
		b.emit(domain.SessionEvent{Type: domain.EventMessage, Message: &msg})
	}
}

// parseScraped decodes a WhatsApp Web row. data-id is
// "<fromMe>_<chat>_<msgID>" with a trailing "_<participant>" in groups.
func parseScraped(s scrapedMessage) (domain.InboundMessage, bool) {
	parts := strings.Split(s.DataID, "_")
	if len(parts) < 3 || parts[0] == "true" {
		return domain.InboundMessage{}, false
	}
	msg := domain.InboundMessage{
		ID:         parts[2],
		From:       parts[1],
		Body:       s.Body,
		Type:       domain.TypeChat,
		IsGroup:    phone.IsGroup(parts[1]),
		NotifyName: s.Name,
		Timestamp:  time.Now(),
	}
	msg.ContactNumber = phone.Digits(msg.From)
	if msg.IsGroup && len(parts) >= 4 {
		msg.Author = parts[3]
		msg.ContactNumber = phone.Digits(parts[3])
	}
	switch {
	case s.HasAudio:
		msg.Type, msg.HasMedia = domain.TypeVoiceNote, true
	case s.HasImage:
		msg.Type, msg.HasMedia = domain.TypeImage, true
	case s.HasDoc:
		msg.Type, msg.HasMedia = domain.TypeDocument, true
	}
	return msg, true
}

func (b *Browser) SendMessage(ctx context.Context, to string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	b.page.Lock()
	defer b.page.Unlock()

	if b.taskCtx == nil {
		return nil, domain.ErrNotReady
	}
	if phone.IsGroup(to) {
		return nil, fmt.Errorf("%w: group chats are not reachable through the browser backend", domain.ErrInvalidDestination)
	}
	digits := phone.Digits(to)
	if digits == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, to)
	}

	runCtx, cancel := context.WithTimeout(b.taskCtx, browserSendTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var err error
	if content.IsMedia() {
		err = b.sendMedia(runCtx, digits, content.Media, opts.Caption)
	} else {
		if opts.Quoted != nil {
			b.logger.Debug("browser backend sends replies without quoting", "to", to)
		}
		err = b.sendText(runCtx, digits, content.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", to, err)
	}
	return &domain.SendResult{
		ID:        "browser-" + uuid.NewString(),
		To:        to,
		Timestamp: time.Now(),
		Ack:       1,
	}, nil
}

func (b *Browser) sendText(ctx context.Context, digits, text string) error {
	link := fmt.Sprintf("%s/send?phone=%s&text=%s", b.sel.URL, digits, url.QueryEscape(text))
	return chromedp.Run(ctx,
		chromedp.Navigate(link),
		chromedp.WaitVisible(b.sel.SendButton, chromedp.ByQuery),
		chromedp.Click(b.sel.SendButton, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
}

func (b *Browser) sendMedia(ctx context.Context, digits string, media *domain.Media, caption string) error {
	data, err := media.Bytes()
	if err != nil {
		return fmt.Errorf("decode media: %w", err)
	}

	name := media.Filename
	if name == "" {
		name = "attachment"
	}
	dir, err := os.MkdirTemp("", "isazap-upload-")
	if err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write upload file: %w", err)
	}

	link := fmt.Sprintf("%s/send?phone=%s", b.sel.URL, digits)
	actions := []chromedp.Action{
		chromedp.Navigate(link),
		chromedp.WaitVisible(b.sel.Input, chromedp.ByQuery),
		chromedp.Click(b.sel.AttachBtn, chromedp.ByQuery),
		chromedp.SetUploadFiles(b.sel.FileInput, []string{path}, chromedp.ByQuery),
		chromedp.WaitVisible(b.sel.Caption, chromedp.ByQuery),
	}
	if caption != "" {
		actions = append(actions, chromedp.SendKeys(b.sel.Caption, caption, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Click(b.sel.SendButton, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	return chromedp.Run(ctx, actions...)
}

func (b *Browser) Close() error {
	b.page.Lock()
	cancel := b.cancel
	b.taskCtx, b.cancel = nil, nil
	b.page.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

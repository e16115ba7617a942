package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"isazap/internal/domain"
	"isazap/internal/phone"
)

// Whatsmeow is a multi-device session backed by go.mau.fi/whatsmeow.
// The device store is a SQLite file keyed by client ID.
type Whatsmeow struct {
	clientID string
	storeDir string
	logger   *slog.Logger

	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	handlers  []func(domain.SessionEvent)
	cancel    context.CancelFunc
}

type WhatsmeowConfig struct {
	ClientID string
	StoreDir string
	Logger   *slog.Logger
}

func NewWhatsmeow(cfg WhatsmeowConfig) *Whatsmeow {
	return &Whatsmeow{
		clientID: cfg.ClientID,
		storeDir: cfg.StoreDir,
		logger:   cfg.Logger,
	}
}

// StorePath returns the SQLite device store path for this client.
func (w *Whatsmeow) StorePath() string {
	return filepath.Join(w.storeDir, w.clientID+".db")
}

func (w *Whatsmeow) On(handler func(domain.SessionEvent)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

func (w *Whatsmeow) emit(evt domain.SessionEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	w.mu.RLock()
	handlers := make([]func(domain.SessionEvent), len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (w *Whatsmeow) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(w.storeDir, 0o700); err != nil {
		return fmt.Errorf("create session store dir: %w", err)
	}

	dsn := "file:" + w.StorePath() + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, NewWALogger(w.logger, "store"))
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, NewWALogger(w.logger, "client"))
	client.EnableAutoReconnect = false
	client.AddEventHandler(w.handleEvent)

	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.client = client
	w.container = container
	w.cancel = cancel
	w.mu.Unlock()

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(runCtx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go w.watchQR(qrChan)
		return nil
	}

	// Restored login: the stored credentials count as authentication.
	w.emit(domain.SessionEvent{Type: domain.EventAuthenticated})
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (w *Whatsmeow) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			w.emit(domain.SessionEvent{Type: domain.EventQR, QRCode: item.Code})
		case "success":
			w.logger.Debug("pairing qr accepted")
		case "timeout":
			w.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "pairing timed out"})
		default:
			if item.Error != nil {
				w.emit(domain.SessionEvent{Type: domain.EventAuthFailure, Reason: item.Error.Error()})
			} else {
				w.logger.Debug("qr channel event", "event", item.Event)
			}
		}
	}
}

func (w *Whatsmeow) handleEvent(raw any) {
	switch v := raw.(type) {
	case *events.Connected:
		w.emit(domain.SessionEvent{Type: domain.EventReady})
	case *events.PairSuccess:
		w.logger.Info("paired", "jid", v.ID.String(), "platform", v.Platform)
		w.emit(domain.SessionEvent{Type: domain.EventAuthenticated})
	case *events.PairError:
		w.emit(domain.SessionEvent{Type: domain.EventAuthFailure, Reason: v.Error.Error()})
	case *events.ConnectFailure:
		w.emit(domain.SessionEvent{Type: domain.EventAuthFailure, Reason: fmt.Sprintf("connect failure: %v", v.Reason)})
		w.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "connect failure"})
	case *events.LoggedOut:
		w.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: fmt.Sprintf("logged out: %v", v.Reason)})
	case *events.StreamReplaced:
		w.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "stream replaced"})
	case *events.Disconnected:
		w.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "connection lost"})
	case *events.KeepAliveTimeout:
		w.emit(domain.SessionEvent{Type: domain.EventChangeState, State: "TIMEOUT"})
	case *events.KeepAliveRestored:
		w.emit(domain.SessionEvent{Type: domain.EventChangeState, State: "CONNECTED"})
	case *events.Message:
		if v.Info.IsFromMe || v.Info.Chat.Server == types.BroadcastServer {
			return
		}
		msg := convertMessage(v)
		w.emit(domain.SessionEvent{Type: domain.EventMessage, Message: &msg})
	}
}

// convertMessage maps a whatsmeow message event onto the domain model.
func convertMessage(v *events.Message) domain.InboundMessage {
	m := v.Message
	if m.GetEphemeralMessage() != nil {
		m = m.GetEphemeralMessage().GetMessage()
	}
	if m.GetViewOnceMessage() != nil {
		m = m.GetViewOnceMessage().GetMessage()
	}

	msg := domain.InboundMessage{
		ID:            v.Info.ID,
		From:          toAddress(v.Info.Chat),
		IsGroup:       v.Info.IsGroup,
		FromMe:        v.Info.IsFromMe,
		NotifyName:    v.Info.PushName,
		ContactNumber: contactNumber(v.Info.MessageSource),
		Timestamp:     v.Info.Timestamp,
	}
	if v.Info.IsGroup {
		msg.Author = toAddress(v.Info.Sender.ToNonAD())
	}

	switch {
	case m.GetConversation() != "":
		msg.Type, msg.Body = domain.TypeChat, m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Type, msg.Body = domain.TypeChat, m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		msg.Type, msg.Body, msg.HasMedia = domain.TypeImage, m.GetImageMessage().GetCaption(), true
	case m.GetVideoMessage() != nil:
		msg.Type, msg.Body, msg.HasMedia = domain.TypeVideo, m.GetVideoMessage().GetCaption(), true
	case m.GetAudioMessage() != nil:
		msg.Type, msg.HasMedia = domain.TypeAudio, true
		if m.GetAudioMessage().GetPTT() {
			msg.Type = domain.TypeVoiceNote
		}
	case m.GetDocumentMessage() != nil:
		msg.Type, msg.Body, msg.HasMedia = domain.TypeDocument, m.GetDocumentMessage().GetCaption(), true
	case m.GetStickerMessage() != nil:
		msg.Type, msg.HasMedia = domain.TypeSticker, true
	case m.GetProtocolMessage() != nil, m.GetSenderKeyDistributionMessage() != nil:
		msg.Type = domain.TypeE2ENotification
	default:
		msg.Type = "unknown"
	}
	return msg
}

// contactNumber returns the sender's phone number. Chats in LID addressing
// mode carry it in SenderAlt; without one the LID user is the best we have.
func contactNumber(src types.MessageSource) string {
	if src.Sender.Server == types.HiddenUserServer && src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt.User
	}
	return src.Sender.User
}

// toAddress renders a JID in the "<user>@c.us" form used across the app.
func toAddress(jid types.JID) string {
	if jid.Server == types.DefaultUserServer {
		return jid.User + phone.UserSuffix
	}
	return jid.String()
}

// ParseAddress converts an app address into a whatsmeow JID.
func ParseAddress(addr string) (types.JID, error) {
	addr = strings.TrimSpace(addr)
	if strings.HasSuffix(addr, phone.UserSuffix) {
		addr = strings.TrimSuffix(addr, phone.UserSuffix) + "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(addr)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidDestination, addr, err)
	}
	switch {
	case jid.User == "":
		return types.JID{}, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, addr)
	case jid.Server == types.DefaultUserServer, jid.Server == types.HiddenUserServer, jid.Server == types.GroupServer:
	default:
		return types.JID{}, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, addr)
	}
	if jid.Server != types.GroupServer {
		for _, r := range jid.User {
			if r < '0' || r > '9' {
				return types.JID{}, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, addr)
			}
		}
	}
	return jid, nil
}

func (w *Whatsmeow) SendMessage(ctx context.Context, to string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()

	if client == nil || client.Store.ID == nil || !client.IsConnected() {
		return nil, domain.ErrNotReady
	}

	jid, err := ParseAddress(to)
	if err != nil {
		return nil, err
	}

	var msg *waE2E.Message
	if content.IsMedia() {
		msg, err = w.buildMedia(ctx, client, content.Media, opts)
		if err != nil {
			return nil, err
		}
	} else {
		msg = buildText(content.Text, opts.Quoted)
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", to, err)
	}
	return &domain.SendResult{
		ID:        resp.ID,
		To:        to,
		Timestamp: resp.Timestamp,
		Ack:       1,
	}, nil
}

// buildText builds a plain message, or a quoted reply when quoted is set.
func buildText(text string, quoted *domain.InboundMessage) *waE2E.Message {
	if quoted == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	ctxInfo := &waE2E.ContextInfo{
		StanzaID:      proto.String(quoted.ID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(quoted.Body)},
	}
	participant := quoted.Author
	if participant == "" {
		participant = quoted.From
	}
	if jid, err := ParseAddress(participant); err == nil {
		ctxInfo.Participant = proto.String(jid.String())
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: ctxInfo,
		},
	}
}

// mediaKind picks the upload class for a MIME type.
func mediaKind(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"), strings.HasPrefix(mimeType, "application/ogg"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func (w *Whatsmeow) buildMedia(ctx context.Context, client *whatsmeow.Client, media *domain.Media, opts domain.SendOptions) (*waE2E.Message, error) {
	data, err := media.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}

	kind := mediaKind(media.MimeType)
	up, err := client.Upload(ctx, data, kind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(opts.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(opts.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case whatsmeow.MediaAudio:
		mimeType := media.MimeType
		if opts.SendAudioAsVoice && strings.Contains(mimeType, "ogg") {
			mimeType = "audio/ogg; codecs=opus"
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			PTT:           proto.Bool(opts.SendAudioAsVoice),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(media.Filename),
			FileName:      proto.String(media.Filename),
			Caption:       proto.String(opts.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}
}

func (w *Whatsmeow) Close() error {
	w.mu.Lock()
	client, container, cancel := w.client, w.container, w.cancel
	w.client, w.container, w.cancel = nil, nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			return fmt.Errorf("close device store: %w", err)
		}
	}
	return nil
}

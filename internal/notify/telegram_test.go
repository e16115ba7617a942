package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	failures map[int64]int // remaining failures per chat
	err      error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if f.failures[msg.ChatID] > 0 {
		f.failures[msg.ChatID]--
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func newTestTelegram(t *testing.T, s Sender, ids ...string) *Telegram {
	t.Helper()
	tg, err := newTelegram(s, TelegramConfig{ChatIDs: ids, Brand: "ISAZAP", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	tg.backoff = time.Millisecond
	return tg
}

func TestTelegram_NotifyAllChats(t *testing.T) {
	s := &fakeSender{}
	tg := newTestTelegram(t, s, "100", " 200 ")

	if err := tg.Notify(context.Background(), "Contato Isazap."); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.sent))
	}
	if s.sent[1].ChatID != 200 || s.sent[0].Text != "[ISAZAP] Contato Isazap." {
		t.Errorf("unexpected messages %+v", s.sent)
	}
}

func TestTelegram_RetriesTransientErrors(t *testing.T) {
	s := &fakeSender{failures: map[int64]int{100: 2}, err: errors.New("Too Many Requests: retry after 1")}
	tg := newTestTelegram(t, s, "100")

	if err := tg.Notify(context.Background(), "x"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(s.sent) != 1 {
		t.Errorf("expected 1 delivered message, got %d", len(s.sent))
	}
}

func TestTelegram_OneChatFailingDoesNotBlockOthers(t *testing.T) {
	s := &fakeSender{failures: map[int64]int{100: 99}, err: errors.New("chat not found")}
	tg := newTestTelegram(t, s, "100", "200")

	err := tg.Notify(context.Background(), "x")
	if err == nil {
		t.Fatal("expected an error for chat 100")
	}
	if len(s.sent) != 1 || s.sent[0].ChatID != 200 {
		t.Errorf("expected delivery to chat 200, got %+v", s.sent)
	}
}

func TestTelegram_CancelledContext(t *testing.T) {
	s := &fakeSender{failures: map[int64]int{100: 99}, err: errors.New("boom")}
	tg := newTestTelegram(t, s, "100")
	tg.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tg.Notify(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewTelegram_BadChatID(t *testing.T) {
	if _, err := newTelegram(&fakeSender{}, TelegramConfig{ChatIDs: []string{"abc"}, Logger: testLogger()}); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestTelegram_TruncatesOnRuneBoundary(t *testing.T) {
	s := &fakeSender{}
	tg := newTestTelegram(t, s, "100")

	// "[ISAZAP] " is 9 bytes; each "ç" is 2, so the cut lands mid-rune.
	if err := tg.Notify(context.Background(), strings.Repeat("ç", telegramMaxMsgLen)); err != nil {
		t.Fatal(err)
	}
	got := s.sent[0].Text
	if !utf8.ValidString(got) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if len(got) != telegramMaxMsgLen-1 {
		t.Errorf("expected %d bytes, got %d", telegramMaxMsgLen-1, len(got))
	}
}

func TestTruncateUTF8(t *testing.T) {
	for _, tt := range []struct {
		in   string
		max  int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"aç", 2, "a"},
		{"a🎉b", 4, "a"},
		{"a🎉b", 5, "a🎉"},
	} {
		if got := truncateUTF8(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

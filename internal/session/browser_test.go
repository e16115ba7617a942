package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/inspector"

	"isazap/internal/domain"
)

func TestParseScraped_Direct(t *testing.T) {
	msg, ok := parseScraped(scrapedMessage{
		DataID: "false_5511988887777@c.us_3EB0C767D26A",
		Body:   "1",
		Name:   "Maria",
	})
	if !ok {
		t.Fatal("expected message")
	}
	if msg.ID != "3EB0C767D26A" || msg.From != "5511988887777@c.us" || msg.ContactNumber != "5511988887777" {
		t.Errorf("unexpected %+v", msg)
	}
	if msg.Type != domain.TypeChat || msg.IsGroup {
		t.Errorf("unexpected type/group %+v", msg)
	}
}

func TestParseScraped_Group(t *testing.T) {
	msg, ok := parseScraped(scrapedMessage{
		DataID: "false_120363025246125888@g.us_3EB0_5511988887777@c.us",
		Body:   "2",
	})
	if !ok {
		t.Fatal("expected message")
	}
	if !msg.IsGroup || msg.Author != "5511988887777@c.us" || msg.ContactNumber != "5511988887777" {
		t.Errorf("unexpected %+v", msg)
	}
}

func TestParseScraped_SkipsOwnAndMalformed(t *testing.T) {
	for _, id := range []string{"true_5511988887777@c.us_3EB0", "garbage"} {
		if _, ok := parseScraped(scrapedMessage{DataID: id}); ok {
			t.Errorf("expected %q to be skipped", id)
		}
	}
}

func TestParseScraped_VoiceNote(t *testing.T) {
	msg, _ := parseScraped(scrapedMessage{DataID: "false_5511988887777@c.us_X", HasAudio: true})
	if msg.Type != domain.TypeVoiceNote || !msg.HasMedia {
		t.Errorf("unexpected %+v", msg)
	}
}

func TestBrowser_DeliverBaselineAndDedup(t *testing.T) {
	b := NewBrowser(BrowserConfig{ClientID: "ISAZAP", StoreDir: t.TempDir(), Logger: testLogger()})
	var got []string
	b.On(func(evt domain.SessionEvent) { got = append(got, evt.Message.Body) })

	old := scrapedMessage{DataID: "false_5511988887777@c.us_A", Body: "history"}
	b.baseline = true
	b.deliver([]scrapedMessage{old})
	b.baseline = false

	b.deliver([]scrapedMessage{old, {DataID: "false_5511988887777@c.us_B", Body: "1"}})
	b.deliver([]scrapedMessage{{DataID: "false_5511988887777@c.us_B", Body: "1"}})

	if len(got) != 1 || got[0] != "1" {
		t.Fatalf("expected only the new message once, got %v", got)
	}
}

func TestBrowserProfileDir(t *testing.T) {
	if got := BrowserProfileDir("/data", "ISAZAP"); got != filepath.Join("/data", "session-ISAZAP") {
		t.Errorf("got %q", got)
	}
}

func TestBrowser_CrashEndsWatch(t *testing.T) {
	b := NewBrowser(BrowserConfig{ClientID: "ISAZAP", StoreDir: t.TempDir(), PollInterval: 5 * time.Millisecond, Logger: testLogger()})
	events := make(chan domain.SessionEvent, 1)
	b.On(func(evt domain.SessionEvent) { events <- evt })

	b.onTargetEvent(context.Background())(&inspector.EventTargetCrashed{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go b.watch(ctx)

	select {
	case evt := <-events:
		if evt.Type != domain.EventDisconnected || !strings.Contains(evt.Reason, "crashed") {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("watch did not report the crash")
	}
}

package responder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"isazap/internal/domain"
	"isazap/internal/phone"
)

const actionTimeout = 2 * time.Minute

// Notifier receives a copy of operator relays.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Responder answers inbound messages with the scripted menu. Each message is
// handled on its own; nothing is remembered between messages.
type Responder struct {
	session   domain.Session
	menu      *Menu
	operator  string
	assetsDir string
	scheduler *Scheduler
	notifiers []Notifier
	observer  domain.SendObserver
	logger    *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand

	wg sync.WaitGroup
}

type Config struct {
	Session        domain.Session
	Menu           *Menu
	OperatorNumber string // overrides the menu's operator when set
	AssetsDir      string
	Scheduler      *Scheduler // defaults to real timers
	Notifiers      []Notifier
	Observer       domain.SendObserver
	Rand           *rand.Rand // defaults to a time-seeded source
	Logger         *slog.Logger
}

func New(cfg Config) *Responder {
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler(nil)
	}
	if cfg.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	operator := cfg.OperatorNumber
	if operator == "" {
		operator = cfg.Menu.Operator
	}
	return &Responder{
		session:   cfg.Session,
		menu:      cfg.Menu,
		operator:  operator,
		assetsDir: cfg.AssetsDir,
		scheduler: cfg.Scheduler,
		notifiers: cfg.Notifiers,
		observer:  cfg.Observer,
		rand:      cfg.Rand,
		logger:    cfg.Logger,
	}
}

// Run consumes inbound messages until the bus closes or ctx is done. Every
// message is handled on its own goroutine.
func (r *Responder) Run(ctx context.Context, bus domain.MessageBus) {
	ch := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(msg)
			}()
		}
	}
}

// Pending returns the number of delayed steps still waiting to fire.
func (r *Responder) Pending() int { return r.scheduler.Pending() }

// Shutdown cancels every pending delayed step and waits for in-flight handlers.
func (r *Responder) Shutdown() {
	n := r.scheduler.Stop()
	r.wg.Wait()
	r.logger.Info("responder stopped", "cancelled_steps", n)
}

// Accept runs the filter pipeline and reports why a message was dropped.
func Accept(msg domain.InboundMessage) (bool, string) {
	switch {
	case msg.IsGroup:
		return false, "group chat"
	case strings.EqualFold(msg.Type, domain.TypeE2ENotification):
		return false, "e2e notification"
	case msg.Body == "":
		return false, "empty body"
	case strings.Contains(msg.From, phone.GroupSuffix):
		return false, "group sender"
	}
	return true, ""
}

// fallbackApplies mirrors the default branch guard. After Accept it is
// always true.
func fallbackApplies(msg domain.InboundMessage) bool {
	return msg.Body != "" || msg.Body == "0" || msg.Type == domain.TypeVoiceNote || msg.HasMedia
}

// Handle evaluates one inbound message: filter, pick a script, run its
// immediate steps and schedule the delayed ones.
func (r *Responder) Handle(msg domain.InboundMessage) {
	if ok, reason := Accept(msg); !ok {
		r.logger.Debug("inbound ignored", "from", msg.From, "id", msg.ID, "reason", reason)
		return
	}

	code, script := r.menu.Lookup(msg.Body)
	if code == "" && !fallbackApplies(msg) {
		return
	}

	data := TemplateData{
		Name:   msg.NotifyName,
		Number: msg.ContactNumber,
		Brand:  r.menu.Brand,
	}
	if data.Number == "" {
		data.Number = phone.Digits(msg.From)
	}
	data.Greeting = r.menu.greeting(r.intn(len(r.menu.Greetings)), data)

	eventID := msg.ID
	if eventID == "" {
		eventID = fmt.Sprintf("%s-%d", msg.From, time.Now().UnixNano())
	}
	branch := code
	if branch == "" {
		branch = "default"
	}
	r.logger.Info("menu reply", "from", msg.From, "id", msg.ID, "branch", branch)

	for i := range script.Steps {
		step := script.Steps[i]
		delay := step.After
		if step.Jitter > 0 {
			delay += time.Duration(r.int64n(int64(step.Jitter)))
		}
		if delay <= 0 {
			r.runStep(msg, step, data, branch, i)
			continue
		}
		if !r.scheduler.Schedule(eventID, delay, func() { r.runStep(msg, step, data, branch, i) }) {
			r.logger.Warn("responder stopped, step dropped", "id", msg.ID, "branch", branch, "step", i)
		}
	}
}

// runStep executes actions in order. A failure aborts the rest of the step
// unless the action ignores errors.
func (r *Responder) runStep(msg domain.InboundMessage, step Step, data TemplateData, branch string, index int) {
	for j := range step.Actions {
		a := &step.Actions[j]
		if err := r.runAction(msg, a, data); err != nil {
			if a.IgnoreErrors {
				r.logger.Warn("optional action failed", "branch", branch, "step", index, "kind", a.Kind, "to", msg.From, "err", err)
				continue
			}
			r.logger.Error("menu step aborted", "branch", branch, "step", index, "kind", a.Kind, "to", msg.From, "err", err)
			return
		}
	}
}

func (r *Responder) runAction(msg domain.InboundMessage, a *Action, data TemplateData) error {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch a.Kind {
	case ActionReply, ActionText:
		text, err := a.render(data)
		if err != nil {
			return err
		}
		opts := domain.SendOptions{}
		if a.Kind == ActionReply {
			quoted := msg
			opts.Quoted = &quoted
		}
		return r.send(ctx, msg.From, domain.Text(text), opts, "text", text)

	case ActionMedia:
		media, err := domain.MediaFromFile(r.assetPath(a.File))
		if err != nil {
			return err
		}
		opts := domain.SendOptions{Caption: a.Caption, SendAudioAsVoice: a.Voice}
		return r.send(ctx, msg.From, domain.WithMedia(media), opts, "media", a.File)

	case ActionRelay:
		text, err := a.render(data)
		if err != nil {
			return err
		}
		if err := r.send(ctx, r.operator+phone.UserSuffix, domain.Text(text), domain.SendOptions{}, "text", text); err != nil {
			return err
		}
		for _, n := range r.notifiers {
			if err := n.Notify(ctx, text); err != nil {
				r.logger.Warn("operator notifier failed", "err", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown action kind %q", a.Kind)
}

func (r *Responder) send(ctx context.Context, to string, content domain.Content, opts domain.SendOptions, kind, body string) error {
	start := time.Now()
	res, err := r.session.SendMessage(ctx, to, content, opts)
	if r.observer != nil {
		rec := domain.SendRecord{
			Source:  domain.SourceResponder,
			To:      to,
			Kind:    kind,
			Body:    body,
			Err:     err,
			Latency: time.Since(start),
		}
		if res != nil {
			rec.MessageID = res.ID
		}
		r.observer.ObserveSend(rec)
	}
	return err
}

func (r *Responder) assetPath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(r.assetsDir, file)
}

func (r *Responder) intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.IntN(n)
}

func (r *Responder) int64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.Int64N(n)
}

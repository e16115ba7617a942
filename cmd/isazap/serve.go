package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"isazap/internal/browser"
	"isazap/internal/bus"
	"isazap/internal/config"
	"isazap/internal/dispatch"
	"isazap/internal/domain"
	"isazap/internal/eventlog"
	"isazap/internal/live"
	"isazap/internal/metrics"
	"isazap/internal/notify"
	"isazap/internal/responder"
	"isazap/internal/server"
	"isazap/internal/session"

	"github.com/spf13/cobra"
)

const pruneInterval = 6 * time.Hour

// sessionFactory returns a constructor for the configured backend.
func sessionFactory(cfg *config.Config, log *slog.Logger) (session.Factory, error) {
	sc := cfg.Session
	switch sc.Backend {
	case config.BackendWhatsmeow, "":
		return func() domain.Session {
			return session.NewWhatsmeow(session.WhatsmeowConfig{
				ClientID: sc.ClientID,
				StoreDir: sc.StoreDir,
				Logger:   log.With("backend", config.BackendWhatsmeow),
			})
		}, nil
	case config.BackendBrowser:
		sel := browser.SelectorSet{
			QRCode:     sc.Selectors.QRCode,
			ChatList:   sc.Selectors.ChatList,
			SendButton: sc.Selectors.SendButton,
			AttachBtn:  sc.Selectors.AttachBtn,
			FileInput:  sc.Selectors.FileInput,
			Caption:    sc.Selectors.Caption,
		}
		return func() domain.Session {
			return session.NewBrowser(session.BrowserConfig{
				ClientID:     sc.ClientID,
				StoreDir:     sc.StoreDir,
				ChromePath:   sc.ChromePath,
				Headless:     sc.Headless,
				PollInterval: time.Duration(sc.PollIntervalMs) * time.Millisecond,
				Selectors:    sel,
				Logger:       log.With("backend", config.BackendBrowser),
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", sc.Backend)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: session, auto-responder, HTTP API and live channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			log, closer, err := newLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closer.Close()
			logger = log

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	factory, err := sessionFactory(cfg, log)
	if err != nil {
		return err
	}
	menu, err := responder.LoadMenu(cfg.Menu.ScriptPath)
	if err != nil {
		return err
	}

	events := bus.NewEventBus(log)
	inbound := bus.New(100, log)

	sup := session.NewSupervisor(session.SupervisorConfig{
		Factory: factory,
		Logger:  log.With("component", "supervisor"),
	})
	sup.On(events.Emit)

	var observers domain.SendObservers

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		observers = append(observers, m)
		events.On(bus.Wildcard, m.HandleEvent)
	}

	var (
		store    *eventlog.SQLiteStore
		recorder *eventlog.Recorder
	)
	if cfg.EventLog.Enabled {
		store, err = eventlog.NewSQLiteStore(cfg.EventLog.DBPath, log)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = eventlog.NewRecorder(store, log.With("component", "eventlog"))
		defer recorder.Close()
		observers = append(observers, recorder)
		events.On(bus.Wildcard, recorder.HandleEvent)
		retention := time.Duration(cfg.EventLog.RetentionDays) * 24 * time.Hour
		go recorder.PruneLoop(ctx, retention, pruneInterval)
	}

	hub := live.NewHub(live.HubConfig{Brand: cfg.General.Brand, Logger: log.With("component", "live")})
	defer hub.Close()
	var qrOut io.Writer
	switch {
	case cfg.Session.PrintQR && stdoutIsTerminal():
		qrOut = os.Stdout
	case cfg.Session.PrintQR:
		log.Info("stdout is not a terminal, QR codes go to the live channel only")
	}
	status := live.NewStatus(live.StatusConfig{
		Hub:    hub,
		Brand:  cfg.General.Brand,
		QROut:  qrOut,
		Logger: log.With("component", "live"),
	})
	events.On(bus.Wildcard, status.HandleEvent)

	events.On(domain.EventMessage, func(ev domain.SessionEvent) {
		if ev.Message != nil {
			inbound.Publish(*ev.Message)
		}
	})

	var notifiers []responder.Notifier
	if tc := cfg.Notify.Telegram; tc.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:   tc.Token,
			ChatIDs: tc.ChatIDs,
			Brand:   cfg.General.Brand,
			Logger:  log.With("component", "telegram"),
		})
		if err != nil {
			log.Error("telegram notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	resp := responder.New(responder.Config{
		Session:        sup,
		Menu:           menu,
		OperatorNumber: cfg.Menu.OperatorNumber,
		AssetsDir:      cfg.General.AssetsDir,
		Notifiers:      notifiers,
		Observer:       observers,
		Logger:         log.With("component", "responder"),
	})
	go resp.Run(ctx, inbound)

	api := dispatch.NewHandler(dispatch.HandlerConfig{
		Session:  sup,
		Fetcher:  dispatch.NewFetcher(time.Duration(cfg.HTTP.FetchTimeout) * time.Second),
		Brand:    cfg.General.Brand,
		Observer: observers,
		Logger:   log.With("component", "dispatch"),
	})

	srvCfg := server.Config{
		Host:        cfg.HTTP.Host,
		Port:        cfg.HTTP.Port,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		AssetsDir:   cfg.General.AssetsDir,
		API:         api,
		LivePath:    cfg.Live.Path,
		Live:        hub,
		Session:     sup,
		Observers:   hub.Observers,
		Pending:     resp.Pending,
		LastEvent:   events.Last,
		Logger:      log.With("component", "http"),
	}
	if m != nil {
		m.GaugeFunc("isazap_live_observers", "Connected live channel observers", func() int64 { return int64(hub.Observers()) })
		m.GaugeFunc("isazap_pending_replies", "Delayed replies waiting to fire", func() int64 { return int64(resp.Pending()) })
		m.GaugeFunc("isazap_session_restarts", "Backend rebuilds since start", func() int64 { return int64(sup.Restarts()) })
		m.GaugeFunc("isazap_inbound_dropped", "Inbound messages dropped on a full inbox", inbound.Dropped)
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
		srvCfg.Metrics = m.Handler()
	}
	srv := server.New(srvCfg)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx) }()

	log.Info("isazap starting", "version", version, "backend", cfg.Session.Backend, "addr", srv.Addr())
	if err := sup.Initialize(ctx); err != nil {
		log.Error("session start failed, retrying in background", "err", err)
	}

	select {
	case <-ctx.Done():
		err = <-srvErr
	case err = <-srvErr:
	}

	log.Info("shutting down")
	resp.Shutdown()
	if cerr := sup.Close(); cerr != nil {
		log.Warn("session close", "err", cerr)
	}
	inbound.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

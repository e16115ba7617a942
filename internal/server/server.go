// Package server mounts the dispatch API, the live channel, status and static
// assets on one chi router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"isazap/internal/domain"
)

const shutdownTimeout = 5 * time.Second

// StateSource reports the session lifecycle state.
type StateSource interface {
	State() domain.SessionState
}

// Routes mounts extra handlers, e.g. the dispatch API.
type Routes interface {
	Routes(r chi.Router)
}

type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	AssetsDir   string

	API       Routes
	LivePath  string
	Live      http.Handler
	Session   StateSource
	Observers func() int // live observers, may be nil
	Pending   func() int // delayed replies waiting to fire, may be nil
	LastEvent func() (domain.SessionEvent, bool)

	MetricsPath string
	Metrics     http.Handler // nil disables the endpoint

	Logger *slog.Logger
}

type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// Status is the body of GET /status.
type Status struct {
	State          domain.SessionState `json:"state"`
	Ready          bool                `json:"ready"`
	Observers      int                 `json:"observers"`
	PendingReplies int                 `json:"pendingReplies"`
	LastEvent      string              `json:"lastEvent,omitempty"`
	LastEventAt    *time.Time          `json:"lastEventAt,omitempty"`
}

func New(cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.LivePath == "" {
		cfg.LivePath = "/ws"
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.API != nil {
		cfg.API.Routes(r)
	}
	if cfg.Live != nil {
		r.Handle(cfg.LivePath, cfg.Live)
	}
	r.Get("/status", statusHandler(cfg))
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, cfg.Metrics)
	}
	if cfg.AssetsDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.AssetsDir)))
	}

	return &Server{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		handler: r,
		logger:  cfg.Logger,
	}
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Addr() string { return s.addr }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func statusHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{State: domain.StateStarting}
		if cfg.Session != nil {
			st.State = cfg.Session.State()
		}
		st.Ready = st.State == domain.StateReady
		if cfg.Observers != nil {
			st.Observers = cfg.Observers()
		}
		if cfg.Pending != nil {
			st.PendingReplies = cfg.Pending()
		}
		if cfg.LastEvent != nil {
			if ev, ok := cfg.LastEvent(); ok {
				st.LastEvent = string(ev.Type)
				st.LastEventAt = &ev.Timestamp
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	}
}

// requestLogger logs one line per request. WebSocket upgrades are logged by
// the live hub instead.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}

package session

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf-style logger onto slog.
type slogAdapter struct {
	logger *slog.Logger
	module string
}

// NewWALogger wraps logger as a whatsmeow logger tagged with module.
func NewWALogger(logger *slog.Logger, module string) waLog.Logger {
	return &slogAdapter{logger: logger, module: module}
}

func (a *slogAdapter) log(level slog.Level, msg string, args []any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	a.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", a.module)
}

func (a *slogAdapter) Errorf(msg string, args ...any) { a.log(slog.LevelError, msg, args) }
func (a *slogAdapter) Warnf(msg string, args ...any)  { a.log(slog.LevelWarn, msg, args) }
func (a *slogAdapter) Infof(msg string, args ...any)  { a.log(slog.LevelInfo, msg, args) }

// Debugf is demoted below slog's debug level; whatsmeow is very chatty here.
func (a *slogAdapter) Debugf(msg string, args ...any) { a.log(slog.LevelDebug-4, msg, args) }

func (a *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{logger: a.logger, module: a.module + "/" + module}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"isazap/internal/config"
	"isazap/internal/domain"
	"isazap/internal/eventlog"
	"isazap/internal/live"
	"isazap/internal/phone"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNotPaired = errors.New("session is not paired, run `isazap pair` first")

// stdoutIsTerminal reports whether QR blocks on stdout would be seen by a person.
func stdoutIsTerminal() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// waitReady starts sess and blocks until it reports ready. onQR is called for
// every pairing code; returning an error from it aborts the wait.
func waitReady(ctx context.Context, sess domain.Session, onQR func(code string) error) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	sess.On(func(ev domain.SessionEvent) {
		switch ev.Type {
		case domain.EventQR:
			if err := onQR(ev.QRCode); err != nil {
				finish(err)
			}
		case domain.EventReady:
			finish(nil)
		case domain.EventAuthFailure:
			finish(fmt.Errorf("authentication failed: %s", ev.Reason))
		case domain.EventDisconnected:
			finish(fmt.Errorf("disconnected: %s", ev.Reason))
		}
	})
	if err := sess.Initialize(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pairCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this bot to a phone by scanning a QR code in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			factory, err := sessionFactory(cfg, logger)
			if err != nil {
				return err
			}
			sess := factory()
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			err = waitReady(ctx, sess, func(code string) error {
				if !stdoutIsTerminal() {
					// Piped: emit the raw payload for another QR renderer.
					fmt.Println(code)
					return nil
				}
				fmt.Println("Scan this code with WhatsApp > Linked devices:")
				live.PrintQR(os.Stdout, code)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Println("✓ Paired. Session stored under", cfg.Session.StoreDir)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the scan")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		file    string
		caption string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <number> [text]",
		Short: "Send one message from a paired session and exit",
		Example: `  isazap send 41999990000 "Olá!"
  isazap send 41999990000 --file catalogo.pdf --caption "Nosso catálogo"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			if file == "" && strings.TrimSpace(text) == "" {
				return errors.New("nothing to send: give a text or --file")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			to := phone.Format(args[0])

			content := domain.Text(text)
			opts := domain.SendOptions{}
			kind, body := "text", text
			if file != "" {
				if caption == "" {
					caption = text
				}
				media, err := domain.MediaFromFile(file)
				if err != nil {
					return err
				}
				content = domain.WithMedia(media)
				opts.Caption = caption
				kind, body = "media", caption
			}

			factory, err := sessionFactory(cfg, logger)
			if err != nil {
				return err
			}
			sess := factory()
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := waitReady(ctx, sess, func(string) error { return errNotPaired }); err != nil {
				return err
			}

			start := time.Now()
			res, sendErr := sess.SendMessage(ctx, to, content, opts)
			rec := domain.SendRecord{
				Source:  domain.SourceCLI,
				To:      to,
				Kind:    kind,
				Body:    body,
				Err:     sendErr,
				Latency: time.Since(start),
			}
			if res != nil {
				rec.MessageID = res.ID
			}
			recordCLISend(cfg.EventLog, rec)
			if sendErr != nil {
				return fmt.Errorf("send: %w", sendErr)
			}
			fmt.Fprintf(os.Stdout, "✓ Sent to %s (%s)\n", to, rec.MessageID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "send a local file as media")
	cmd.Flags().StringVar(&caption, "caption", "", "caption for --file")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for the session and the send")
	return cmd
}

// recordCLISend appends a one-shot send to the event log when it is enabled.
func recordCLISend(cfg config.EventLogConfig, rec domain.SendRecord) {
	if !cfg.Enabled {
		return
	}
	store, err := eventlog.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Warn("event log unavailable", "err", err)
		return
	}
	defer store.Close()
	recorder := eventlog.NewRecorder(store, logger)
	recorder.ObserveSend(rec)
	recorder.Close()
}

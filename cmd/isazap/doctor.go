package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"isazap/internal/browser"
	"isazap/internal/config"
	"isazap/internal/eventlog"
	"isazap/internal/responder"
	"isazap/internal/session"

	"github.com/spf13/cobra"
)

type doctor struct {
	passed, failed, warned int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ISAZAP installation",
		Long: `Verifies the configuration, session store, marketing assets, menu,
event log and HTTP port. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ISAZAP Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			d := &doctor{}

			// 1. Config file
			cfg, found, err := config.LoadOrDefaults(cfgPath)
			switch {
			case err != nil:
				d.fail("Config file", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", d.passed, d.failed)
				return fmt.Errorf("config unreadable")
			case !found:
				d.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'isazap init')", cfgPath))
			default:
				d.pass("Config file", cfgPath)
			}

			// 2. Validation
			if err := config.Validate(cfg); err != nil {
				d.fail("Config validation", err.Error())
			} else {
				d.pass("Config validation", "valid")
			}

			// 3. Menu
			menu, err := responder.LoadMenu(cfg.Menu.ScriptPath)
			switch {
			case err != nil:
				d.fail("Menu", err.Error())
			case cfg.Menu.ScriptPath == "":
				d.pass("Menu", "built-in")
			default:
				d.pass("Menu", cfg.Menu.ScriptPath)
			}

			// 4. Assets
			d.checkAssets(cfg.General.AssetsDir, menu)

			// 5. Session store
			d.checkSession(cfg.Session)

			// 6. Event log
			if cfg.EventLog.Enabled {
				if err := checkEventLog(cfg.EventLog.DBPath); err != nil {
					d.fail("Event log", err.Error())
				} else {
					d.pass("Event log", cfg.EventLog.DBPath)
				}
			}

			// 7. HTTP port
			if err := checkPort(cfg.HTTP.Host, cfg.HTTP.Port); err != nil {
				d.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.HTTP.Port, err))
			} else {
				d.pass("HTTP port", fmt.Sprintf(":%d available", cfg.HTTP.Port))
			}

			// 8. Telegram
			if tc := cfg.Notify.Telegram; tc.Enabled {
				switch {
				case tc.Token == "":
					d.fail("Telegram", "enabled but no token configured")
				case len(tc.ChatIDs) == 0:
					d.warn("Telegram", "enabled but no chat ids, relays will not be copied")
				default:
					d.pass("Telegram", fmt.Sprintf("%d chat(s)", len(tc.ChatIDs)))
				}
			}

			// 9. Log file
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					d.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
			if d.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ISAZAP.\n")
				return fmt.Errorf("%d check(s) failed", d.failed)
			}
			if d.warned > 0 {
				fmt.Printf("\nISAZAP should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ISAZAP is ready to run.\n")
			}
			return nil
		},
	}
}

func (d *doctor) checkAssets(dir string, menu *responder.Menu) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		d.fail("Assets", fmt.Sprintf("not a directory: %s", dir))
		return
	}
	d.pass("Assets", dir)

	for _, name := range []string{"index.html", "icon.svg", "check.svg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			d.warn("Asset: "+name, "missing, the landing page will be incomplete")
		}
	}
	if menu == nil {
		return
	}
	for _, f := range menu.MediaFiles() {
		p := f
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, f)
		}
		if _, err := os.Stat(p); err != nil {
			d.fail("Asset: "+f, "referenced by the menu but missing")
		} else {
			d.pass("Asset: "+f, p)
		}
	}
}

func (d *doctor) checkSession(sc config.SessionConfig) {
	if err := os.MkdirAll(sc.StoreDir, 0o700); err != nil {
		d.fail("Session store", fmt.Sprintf("cannot create %s: %v", sc.StoreDir, err))
		return
	}
	d.pass("Session store", sc.StoreDir)

	switch sc.Backend {
	case config.BackendBrowser:
		if bin := browser.FindChrome(sc.ChromePath); bin == "" {
			if sc.ChromePath != "" {
				d.fail("Chrome", "session.chromePath not found: "+sc.ChromePath)
			} else {
				d.fail("Chrome", "no Chrome/Chromium on PATH, required by the browser backend")
			}
		} else {
			d.pass("Chrome", bin)
		}
		if _, err := os.Stat(session.BrowserProfileDir(sc.StoreDir, sc.ClientID)); err != nil {
			d.warn("Pairing", "no browser profile yet, scan the QR on first start")
		} else {
			d.pass("Pairing", "browser profile present")
		}
	default:
		dev := session.NewWhatsmeow(session.WhatsmeowConfig{ClientID: sc.ClientID, StoreDir: sc.StoreDir})
		if _, err := os.Stat(dev.StorePath()); err != nil {
			d.warn("Pairing", "no device store yet, run 'isazap pair'")
		} else {
			d.pass("Pairing", dev.StorePath())
		}
	}
}

// checkEventLog opens the event log, runs its migrations and reads from it.
func checkEventLog(dbPath string) error {
	store, err := eventlog.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Recent(ctx, "", 1); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

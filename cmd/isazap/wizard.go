package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"isazap/internal/config"
	"isazap/internal/phone"

	"github.com/spf13/cobra"
)

var knownBackends = []struct {
	ID   string
	Desc string
}{
	{config.BackendWhatsmeow, "multi-device protocol, no browser needed"},
	{config.BackendBrowser, "drives WhatsApp Web in Chrome"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: backend → assets → operator → HTTP → Telegram → save config",
		Long:  "Guides you through the session backend, the marketing assets directory, the operator number, the HTTP port and the optional Telegram copy of operator relays. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadRaw(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(os.Stdin, os.Stdout, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'isazap pair' to link a phone, then 'isazap serve'.")
			return nil
		},
	}
}

// runWizard edits cfg from answers read on in, prompting on out.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Backend
	fmt.Fprintln(out, "\n--- Step 1: Session backend ---")
	defNum := "1"
	for i, b := range knownBackends {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, b.ID, b.Desc)
		if b.ID == cfg.Session.Backend {
			defNum = strconv.Itoa(i + 1)
		}
	}
	choice, err := prompt("Choose backend", defNum)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownBackends) {
		idx = 1
	}
	cfg.Session.Backend = knownBackends[idx-1].ID
	if cfg.Session.Backend == config.BackendBrowser {
		headless, err := prompt("Run Chrome headless (y/n)", yesNo(cfg.Session.Headless))
		if err != nil {
			return err
		}
		cfg.Session.Headless = strings.HasPrefix(strings.ToLower(headless), "y")
	}
	fmt.Fprintf(out, "  Using backend: %s\n", cfg.Session.Backend)

	// Step 2: Assets
	fmt.Fprintln(out, "\n--- Step 2: Assets ---")
	assets, err := prompt("Directory with index.html and the marketing files", cfg.General.AssetsDir)
	if err != nil {
		return err
	}
	cfg.General.AssetsDir = config.ExpandPath(assets)

	// Step 3: Operator
	fmt.Fprintln(out, "\n--- Step 3: Operator ---")
	op, err := prompt("Number that receives 'talk to a human' relays", cfg.Menu.OperatorNumber)
	if err != nil {
		return err
	}
	cfg.Menu.OperatorNumber = onlyDigits(phone.Digits(op))

	// Step 4: HTTP
	fmt.Fprintln(out, "\n--- Step 4: HTTP ---")
	port, err := prompt("HTTP port", strconv.Itoa(cfg.HTTP.Port))
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(port); err == nil && n > 0 && n < 65536 {
		cfg.HTTP.Port = n
	} else {
		fmt.Fprintf(out, "  Invalid port %q, keeping %d\n", port, cfg.HTTP.Port)
	}

	// Step 5: Telegram
	fmt.Fprintln(out, "\n--- Step 5: Telegram (optional) ---")
	tg, err := prompt("Copy operator relays to Telegram (y/n)", yesNo(cfg.Notify.Telegram.Enabled))
	if err != nil {
		return err
	}
	cfg.Notify.Telegram.Enabled = strings.HasPrefix(strings.ToLower(tg), "y")
	if cfg.Notify.Telegram.Enabled {
		tok, err := prompt("Telegram bot token (from @BotFather, or ${TELEGRAM_BOT_TOKEN})", cfg.Notify.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Notify.Telegram.Token = tok
		ids, err := prompt("Chat ids, comma separated", strings.Join(cfg.Notify.Telegram.ChatIDs, ","))
		if err != nil {
			return err
		}
		var list config.FlexStringList
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				list = append(list, id)
			}
		}
		cfg.Notify.Telegram.ChatIDs = list
	}

	_, err = config.Resolve(cfg)
	return err
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

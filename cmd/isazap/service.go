package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"isazap/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "br.com.isazap.bot"
	systemdUnit  = "isazap.service"
)

type serviceParams struct {
	Label  string
	Exec   string
	Config string
	Log    string
	ErrLog string
}

// serviceUnit is an install target: where the unit goes and what it says.
type serviceUnit struct {
	Path     string
	Contents []byte
	Hints    []string
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove ISAZAP as a background service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a user service that runs 'isazap serve' at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			unit, err := renderService(runtime.GOOS, home, execPath, cfgPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(unit.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(unit.Path, unit.Contents, 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", unit.Path)
			for _, h := range unit.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			p, err := servicePath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("remove service: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", p)
			return nil
		},
	})
	return cmd
}

func servicePath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func renderService(goos, home, execPath, cfgPath string) (*serviceUnit, error) {
	p, err := servicePath(goos, home)
	if err != nil {
		return nil, err
	}
	logDir := filepath.Join(config.DefaultConfigDir(), "logs")
	params := serviceParams{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    filepath.Join(logDir, "isazap.log"),
		ErrLog: filepath.Join(logDir, "isazap-error.log"),
	}

	tmpl, hints := systemdTemplate, []string{
		"To start:  systemctl --user start isazap",
		"To enable: systemctl --user enable isazap",
		"To stop:   systemctl --user stop isazap",
	}
	if goos == "darwin" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		tmpl, hints = launchdTemplate, []string{
			"To start: launchctl load " + p,
			"To stop:  launchctl unload " + p,
		}
	}

	var buf bytes.Buffer
	if err := template.Must(template.New("unit").Parse(tmpl)).Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("render service: %w", err)
	}
	return &serviceUnit{Path: p, Contents: buf.Bytes(), Hints: hints}, nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=ISAZAP WhatsApp marketing bot
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

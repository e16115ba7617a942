package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"isazap/internal/config"
	"isazap/internal/session"

	"github.com/spf13/cobra"
)

// Archive entries are stored as "<role>/<base name>" so restore can map them
// back onto the configured paths, which may differ between machines.
const (
	roleConfig   = "config"
	roleSession  = "session"
	roleEventLog = "eventlog"
	roleMenu     = "menu"
)

type backupFile struct {
	role string
	path string
}

func (f backupFile) entry() string { return f.role + "/" + filepath.Base(f.path) }

// backupSet lists the files worth saving. The whatsmeow device store keeps
// the pairing, so a restore avoids scanning the QR again.
func backupSet(cfgPath string, cfg *config.Config) []backupFile {
	var files []backupFile
	add := func(role, p string, sqlite bool) {
		if p == "" {
			return
		}
		if _, err := os.Stat(p); err != nil {
			return
		}
		files = append(files, backupFile{role, p})
		if !sqlite {
			return
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			if _, err := os.Stat(p + suffix); err == nil {
				files = append(files, backupFile{role, p + suffix})
			}
		}
	}

	add(roleConfig, cfgPath, false)
	add(roleMenu, cfg.Menu.ScriptPath, false)
	if cfg.Session.Backend != config.BackendBrowser {
		dev := session.NewWhatsmeow(session.WhatsmeowConfig{ClientID: cfg.Session.ClientID, StoreDir: cfg.Session.StoreDir})
		add(roleSession, dev.StorePath(), true)
	}
	add(roleEventLog, cfg.EventLog.DBPath, true)
	return files
}

// restoreTargets maps archive roles onto directories for this machine.
func restoreTargets(cfgPath string, cfg *config.Config) map[string]string {
	targets := map[string]string{
		roleConfig:   filepath.Dir(cfgPath),
		roleSession:  cfg.Session.StoreDir,
		roleEventLog: filepath.Dir(cfg.EventLog.DBPath),
		roleMenu:     filepath.Dir(cfgPath),
	}
	if cfg.Menu.ScriptPath != "" {
		targets[roleMenu] = filepath.Dir(cfg.Menu.ScriptPath)
	}
	return targets
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of ISAZAP data (config, paired session, event log)",
		Long: `Creates a compressed .tar.gz archive containing the config file, the
menu override, the WhatsApp device store and the event log. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("isazap-backup-%s.tar.gz", ts))
			}

			files := backupSet(cfgPath, cfg)
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (config: %s)", cfgPath)
			}

			m := manifest{Version: version, Created: time.Now().UTC(), Backend: cfg.Session.Backend}
			if err := createTarGz(outputPath, files, m); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				size := int64(0)
				if info, err := os.Stat(f.path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", f.entry(), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.isazap/backups/isazap-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore ISAZAP data from a backup archive",
		Long: `Restores the config, menu, device store and event log from a .tar.gz
backup archive created by 'isazap backup'. Stop the bot first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: isazap restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			targets := restoreTargets(cfgPath, cfg)

			if !force {
				if existing := backupSet(cfgPath, cfg); len(existing) > 0 {
					fmt.Printf("WARNING: This will overwrite existing data:\n")
					for _, f := range existing {
						fmt.Printf("  %s\n", f.path)
					}
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, meta, err := extractTarGz(inputPath, targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			if meta != nil {
				fmt.Printf("Backup of isazap %s (%s backend), taken %s\n", meta.Version, meta.Backend, meta.Created.Local().Format(time.DateTime))
				if meta.Backend != cfg.Session.Backend {
					fmt.Printf("NOTE: config uses the %s backend, session files may not apply.\n", cfg.Session.Backend)
				}
			}
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// manifestName is an archive entry outside every role describing the backup.
const manifestName = "MANIFEST.json"

type manifest struct {
	Version string    `json:"version"`
	Created time.Time `json:"created"`
	Backend string    `json:"backend"`
	Entries []string  `json:"entries"`
}

// createTarGz writes the archive next to outputPath and renames it into
// place, so a failed backup never leaves a truncated file behind.
func createTarGz(outputPath string, files []backupFile, m manifest) error {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".isazap-backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(tmp, files, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outputPath)
}

func writeArchive(w io.Writer, files []backupFile, m manifest) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		m.Entries = append(m.Entries, f.entry())
	}
	meta, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: manifestName, Mode: 0o600, Size: int64(len(meta)), ModTime: m.Created, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(meta); err != nil {
		return err
	}

	for _, f := range files {
		if err := copyIntoTar(tw, f); err != nil {
			return fmt.Errorf("add %s: %w", f.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func copyIntoTar(tw *tar.Writer, f backupFile) error {
	src, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = f.entry()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// extractTarGz writes every known entry of a backup archive into the
// directory registered for its role. Unknown roles, nested names and
// anything that is not a regular file are skipped.
func extractTarGz(archivePath string, targets map[string]string) ([]string, *manifest, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	var (
		tr       = tar.NewReader(gz)
		restored []string
		meta     *manifest
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, meta, nil
		}
		if err != nil {
			return nil, nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Name == manifestName {
			meta = &manifest{}
			if err := json.NewDecoder(tr).Decode(meta); err != nil {
				return nil, nil, fmt.Errorf("read manifest: %w", err)
			}
			continue
		}

		role, name, ok := strings.Cut(path.Clean(hdr.Name), "/")
		dir, known := targets[role]
		if !ok || !known || name == "" || name == ".." || strings.Contains(name, "/") {
			continue
		}
		dst, err := restoreEntry(tr, dir, name)
		if err != nil {
			return nil, nil, err
		}
		restored = append(restored, dst)
	}
}

func restoreEntry(r io.Reader, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return "", fmt.Errorf("extract %s: %w", dst, err)
	}
	return dst, out.Close()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}

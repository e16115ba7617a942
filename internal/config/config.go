package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for isazap.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Session  SessionConfig  `json:"session"`
	HTTP     HTTPConfig     `json:"http"`
	Live     LiveConfig     `json:"live"`
	Menu     MenuConfig     `json:"menu"`
	Notify   NotifyConfig   `json:"notify"`
	EventLog EventLogConfig `json:"eventLog"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	Brand     string `json:"brand"`             // shown in status notices and API acknowledgements
	LogLevel  string `json:"logLevel"`          // debug | info | warn | error
	LogFile   string `json:"logFile,omitempty"` // optional log file path
	AssetsDir string `json:"assetsDir"`         // landing page, status icons and marketing files
}

// SessionConfig selects and tunes the WhatsApp session backend.
type SessionConfig struct {
	Backend        string        `json:"backend"`  // "whatsmeow" | "browser"
	ClientID       string        `json:"clientId"` // keys the on-disk session store
	StoreDir       string        `json:"storeDir"`
	Headless       bool          `json:"headless"`             // browser backend only
	ChromePath     string        `json:"chromePath,omitempty"` // browser backend only, empty searches PATH
	PollIntervalMs int           `json:"pollIntervalMs"`       // browser backend only
	PrintQR        bool          `json:"printQR"`              // also render pairing codes on the terminal
	Selectors      BrowserSelect `json:"selectors,omitempty"`
}

// BrowserSelect overrides the CSS selectors used against WhatsApp Web.
type BrowserSelect struct {
	QRCode     string `json:"qrCode,omitempty"`
	ChatList   string `json:"chatList,omitempty"`
	SendButton string `json:"sendButton,omitempty"`
	AttachBtn  string `json:"attachButton,omitempty"`
	FileInput  string `json:"fileInput,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

type HTTPConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	CORSOrigins  []string `json:"corsOrigins,omitempty"`
	FetchTimeout int      `json:"fetchTimeoutSeconds"` // remote media download timeout
}

type LiveConfig struct {
	Path string `json:"path"` // WebSocket endpoint path
}

type MenuConfig struct {
	ScriptPath     string `json:"scriptPath,omitempty"` // YAML override for the built-in menu
	OperatorNumber string `json:"operatorNumber"`       // receives "talk to a human" relays
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool           `json:"enabled"`
	Token   string         `json:"token"`
	ChatIDs FlexStringList `json:"chatIds"`
}

// FlexStringList accepts chat IDs written as JSON strings or numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FlexStringList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("chat id %s: %w", item, err)
		}
		out = append(out, n.String())
	}
	*f = out
	return nil
}

type EventLogConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.isazap).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".isazap"
	}
	return filepath.Join(home, ".isazap")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env from the working directory and from the config
// directory, if present. Variables already set in the environment win.
func LoadDotEnv() {
	for _, p := range []string{".env", filepath.Join(DefaultConfigDir(), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads the JSON config at path over the defaults, substitutes
// ${VAR} references, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(expandEnv(string(data), jsonEscape))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	ApplyEnv(cfg)
	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadRaw reads the config at path over the defaults exactly as written:
// ${VAR} references, "~" paths and environment overrides are left alone.
// Commands that edit and save the file use it so resolved secrets are not
// written back.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve returns a copy of a raw config with env references, overrides and
// paths applied, as Load would produce it, and validates the copy.
func Resolve(raw *Config) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := json.Unmarshal([]byte(expandEnv(string(data), jsonEscape)), cfg); err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	ApplyEnv(cfg)
	expandPaths(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefaults loads the config at path, falling back to defaults when the
// file does not exist. Parse and validation errors are still returned.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		cfg := Defaults()
		ApplyEnv(cfg)
		expandPaths(cfg)
		return cfg, false, Validate(cfg)
	}
	cfg, err := Load(path)
	return cfg, true, err
}

// ApplyEnv applies the process environment overrides that do not need a config file.
func ApplyEnv(cfg *Config) {
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		cfg.HTTP.Port = port
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" && cfg.Notify.Telegram.Token == "" {
		cfg.Notify.Telegram.Token = tok
	}
}

func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.General.LogFile,
		&cfg.General.AssetsDir,
		&cfg.Session.StoreDir,
		&cfg.Session.ChromePath,
		&cfg.Menu.ScriptPath,
		&cfg.EventLog.DBPath,
	} {
		*p = ExpandPath(*p)
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnvVars replaces ${VAR} with the variable's value and ${VAR:-def}
// with def when VAR is unset or empty. Unresolved references stay as written.
func ExpandEnvVars(s string) string {
	return expandEnv(s, func(v string) string { return v })
}

func expandEnv(s string, escape func(string) string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name, def, hasDef := strings.Cut(ref[2:len(ref)-1], ":-")
		if v := os.Getenv(name); v != "" {
			return escape(v)
		}
		if hasDef {
			return escape(def)
		}
		return ref
	})
}

// jsonEscape makes a value safe to splice into a JSON string literal.
func jsonEscape(v string) string {
	b, _ := json.Marshal(v)
	return string(b[1 : len(b)-1])
}

// Save writes cfg atomically. The file may hold the bot token, so it is
// private to the user.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(cfg.General.Brand) == "" {
		errs = append(errs, "general.brand is required")
	}

	switch cfg.Session.Backend {
	case BackendWhatsmeow, BackendBrowser:
		// valid
	default:
		errs = append(errs, "session.backend must be one of: whatsmeow, browser")
	}
	if cfg.Session.ClientID == "" {
		errs = append(errs, "session.clientId is required")
	} else if strings.ContainsAny(cfg.Session.ClientID, `/\ `) {
		errs = append(errs, "session.clientId must not contain slashes or spaces")
	}
	if cfg.Session.Backend == BackendBrowser && cfg.Session.PollIntervalMs < 100 {
		errs = append(errs, "session.pollIntervalMs must be >= 100")
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 0 and 65535")
	}
	if cfg.HTTP.FetchTimeout < 1 {
		errs = append(errs, "http.fetchTimeoutSeconds must be >= 1")
	}
	if !strings.HasPrefix(cfg.Live.Path, "/") {
		errs = append(errs, "live.path must start with /")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when enabled")
		}
		for _, id := range cfg.Notify.Telegram.ChatIDs {
			if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
				errs = append(errs, fmt.Sprintf("notify.telegram.chatIds: %q is not a numeric chat ID", id))
			}
		}
	}

	if cfg.EventLog.Enabled && cfg.EventLog.RetentionDays < 1 {
		errs = append(errs, "eventLog.retentionDays must be >= 1")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

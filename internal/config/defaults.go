package config

// Session backends.
const (
	BackendWhatsmeow = "whatsmeow"
	BackendBrowser   = "browser"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Brand:     "ISAZAP",
			LogLevel:  "info",
			AssetsDir: ".",
		},
		Session: SessionConfig{
			Backend:        BackendWhatsmeow,
			ClientID:       "ISAZAP",
			StoreDir:       "~/.isazap/sessions",
			Headless:       true,
			PollIntervalMs: 1500,
			PrintQR:        true,
		},
		HTTP: HTTPConfig{
			Host:         "",
			Port:         8000,
			CORSOrigins:  []string{"*"},
			FetchTimeout: 30,
		},
		Live: LiveConfig{
			Path: "/ws",
		},
		Menu: MenuConfig{
			OperatorNumber: "5541985270469",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		EventLog: EventLogConfig{
			Enabled:       true,
			DBPath:        "~/.isazap/events.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

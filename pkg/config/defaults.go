package config

// DefaultConfig returns the built-in configuration. User YAML is merged on
// top of this, so every field here must be a sane value for a host that
// runs warden with an empty config file.
func DefaultConfig() *Config {
	return &Config{
		StateDir:      "/var/lib/warden",
		LogLevel:      "info",
		AutonomyLevel: AutonomySuggest,

		TriggerIntervalS: 30,
		ReviewIntervalS:  60,
		SARIntervalS:     900,
		SARFreshS:        1800,

		ContextBudgetTokens: 131072,
		ReviewContextTokens: 32768,
		MetaContextTokens:   131072,
		SummaryTokens:       256,
		CompressAgeS:        3600,

		TriggerModel:      "qwen3:1b",
		ReviewModel:       "qwen3:4b",
		MetaModel:         "qwen3:14b",
		TriggerBackendURL: "http://127.0.0.1:11434/v1",
		ReviewBackendURL:  "http://127.0.0.1:11434/v1",
		MetaBackendURL:    "http://127.0.0.1:11434/v1",

		ClassifierMaxLines:   5,
		MetricsRetentionDays: 30,
		ProtectedServices: []string{
			"sshd", "systemd-networkd", "NetworkManager", "systemd", "dbus", "systemd-logind",
		},
		CriticalServices: []string{"sshd"},
		CleanupCommands:  []string{"journalctl --vacuum-time=7d"},
		Thresholds: Thresholds{
			CPUPct:      90,
			MemPct:      90,
			DiskPct:     85,
			LoadPerCore: 2.0,
		},

		DebounceWindowS:     300,
		EscalationCooldownS: 600,
		ReopenCooldownS:     86400,
		ActionTimeoutS:      120,
		RebuildTimeoutS:     600,
		QueueMaxPending:     25,
		SnapshotIntervalS:   300,
		CleanupIntervalS:    3600,
		ShutdownGraceS:      20,

		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "warden",
			Password:        "warden",
			DBName:          "warden",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		SemanticURL: "http://127.0.0.1:8000",
		APIListen:   "127.0.0.1:8077",
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Bus        BusConfig        `yaml:"bus"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Retry      RetryConfig      `yaml:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Store      StoreConfig      `yaml:"store"`
	Events     EventsConfig     `yaml:"events"`
	Web        WebConfig        `yaml:"web"`
	Worker     WorkerConfig     `yaml:"worker"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Vault      VaultConfig      `yaml:"vault"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type BusConfig struct {
	BasePath     string        `yaml:"base_path"`
	MaxInbox     int           `yaml:"max_inbox"`
	MaxMsgBytes  int           `yaml:"max_msg_bytes"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	LockStale    time.Duration `yaml:"lock_stale"`
	SkewWindow   time.Duration `yaml:"skew_window"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MonitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	AgentTimeout  time.Duration `yaml:"agent_timeout"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	ReadyInterval time.Duration `yaml:"ready_interval"`
	GracePeriod   time.Duration `yaml:"grace_period"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Multiplier    float64       `yaml:"multiplier"`
	JitterPercent int           `yaml:"jitter_percent"`
}

type CheckpointConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	MaxPerRun int           `yaml:"max_per_run"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type EventsConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type WorkerConfig struct {
	Runtime     string   `yaml:"runtime"` // "docker" or "local"
	Image       string   `yaml:"image"`
	Command     []string `yaml:"command"`
	MaxRunning  int      `yaml:"max_running"`
	Workspaces  string   `yaml:"workspaces"`
	CrashesSkip int      `yaml:"crashes_before_skip"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
		},
		Bus: BusConfig{
			BasePath:     "data/sessions",
			MaxInbox:     100,
			MaxMsgBytes:  256 * 1024,
			LockTimeout:  5 * time.Second,
			LockStale:    30 * time.Second,
			SkewWindow:   2 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			Interval:      5 * time.Second,
			AgentTimeout:  10 * time.Minute,
			ReadyTimeout:  30 * time.Second,
			ReadyInterval: 250 * time.Millisecond,
			GracePeriod:   10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2,
			JitterPercent: 20,
		},
		Checkpoint: CheckpointConfig{
			Enabled:   true,
			Interval:  2 * time.Minute,
			MaxPerRun: 10,
		},
		Store: StoreConfig{
			Path: "data/swarm.db",
		},
		Events: EventsConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: false,
			Port:    8080,
		},
		Worker: WorkerConfig{
			Runtime:     "local",
			Image:       "swarm-worker:latest",
			MaxRunning:  5,
			Workspaces:  "data/workspaces",
			CrashesSkip: 3,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SWARM_CONFIG")
	if path == "" {
		path = "config/swarm.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SWARM_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("SWARM_CHECKPOINTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Checkpoint.Enabled = b
		}
	}
	if v := os.Getenv("SWARM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("SWARM_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.InitialDelay = d
		}
	}
	if v := os.Getenv("SWARM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARM_BASE_PATH"); v != "" {
		cfg.Bus.BasePath = v
	}
	if v := os.Getenv("SWARM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Events.Port = port
		}
	}
	if v := os.Getenv("SWARM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SWARM_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SWARM_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

// SlogLevel maps the configured level string to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

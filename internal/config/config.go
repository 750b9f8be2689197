package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Motion  MotionConfig  `yaml:"motion"`
	Notify  NotifyConfig  `yaml:"notify"`
	Workers WorkersConfig `yaml:"workers"`
}

// ServerConfig covers the HTTP listener, storage and credentials.
type ServerConfig struct {
	HTTPAddr         string   `yaml:"http_addr"`
	DatabaseURL      string   `yaml:"database_url"`
	JWTSecret        string   `yaml:"jwt_secret"`
	IngestSecret     string   `yaml:"ingest_secret"`
	IngestMaxSkew    Duration `yaml:"ingest_max_skew"`
	DispatchInterval Duration `yaml:"dispatch_interval"`
	DispatchBatch    int      `yaml:"dispatch_batch"`
}

// EngineConfig tunes geofence evaluation.
type EngineConfig struct {
	ConfirmationDelay Duration `yaml:"confirmation_delay"`
	MaxAccuracyMeters float64  `yaml:"max_accuracy_meters"`
	RecentEventLimit  int      `yaml:"recent_event_limit"`
}

// MotionConfig tunes driving session detection. Speeds are meters per second.
type MotionConfig struct {
	StartSpeed float64  `yaml:"start_speed"`
	StopSpeed  float64  `yaml:"stop_speed"`
	StartAfter Duration `yaml:"start_after"`
	StopAfter  Duration `yaml:"stop_after"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	WebhookURL      string   `yaml:"webhook_url"`
	Template        string   `yaml:"template"`
	Cooldown        Duration `yaml:"cooldown"`
	DedupeWindow    Duration `yaml:"dedupe_window"`
	EscalationAfter Duration `yaml:"escalation_after"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	RatePerMinute   int      `yaml:"rate_per_minute"`
	QueueSize       int      `yaml:"queue_size"`
	QueueWorkers    int      `yaml:"queue_workers"`
}

// WorkersConfig bounds parallel work.
type WorkersConfig struct {
	BatchUsers int `yaml:"batch_users"`
}

// Duration reads Go duration strings ("90s", "3m") from yaml.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load builds the configuration: defaults, then .env, then environment
// variables, then the yaml file named by LOCSHARE_CONFIG.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		Server: ServerConfig{
			HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
			DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
			JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
			IngestSecret:     getenvDefault("INGEST_HMAC_SECRET", ""),
			IngestMaxSkew:    Duration(getenvDuration("INGEST_MAX_SKEW", 5*time.Minute)),
			DispatchInterval: Duration(getenvDuration("OUTBOX_DISPATCH_INTERVAL", time.Second)),
			DispatchBatch:    getenvIntDefault("OUTBOX_DISPATCH_BATCH", 100),
		},
		Engine: EngineConfig{
			ConfirmationDelay: Duration(getenvDuration("GEOFENCE_CONFIRMATION_DELAY", 3*time.Second)),
			MaxAccuracyMeters: getenvFloatDefault("GEOFENCE_MAX_ACCURACY_METERS", 0),
			RecentEventLimit:  getenvIntDefault("GEOFENCE_RECENT_EVENT_LIMIT", 20),
		},
		Motion: MotionConfig{
			StartSpeed: getenvFloatDefault("MOTION_START_SPEED", 6.7),
			StopSpeed:  getenvFloatDefault("MOTION_STOP_SPEED", 2.0),
			StartAfter: Duration(getenvDuration("MOTION_START_AFTER", time.Minute)),
			StopAfter:  Duration(getenvDuration("MOTION_STOP_AFTER", 3*time.Minute)),
		},
		Notify: NotifyConfig{
			WebhookURL:      getenvDefault("GEOFENCE_WEBHOOK_URL", ""),
			Template:        getenvDefault("GEOFENCE_NOTIFY_TEMPLATE", ""),
			Cooldown:        Duration(getenvDuration("GEOFENCE_NOTIFY_COOLDOWN", 0)),
			DedupeWindow:    Duration(getenvDuration("GEOFENCE_NOTIFY_DEDUP_WINDOW", 0)),
			EscalationAfter: Duration(getenvDuration("GEOFENCE_ESCALATION_AFTER", 0)),
			RequestTimeout:  Duration(getenvDuration("GEOFENCE_NOTIFY_TIMEOUT", 5*time.Second)),
			RatePerMinute:   getenvIntDefault("GEOFENCE_NOTIFY_RATE_PER_MINUTE", 0),
			QueueSize:       getenvIntDefault("GEOFENCE_NOTIFY_QUEUE_SIZE", 256),
			QueueWorkers:    getenvIntDefault("GEOFENCE_NOTIFY_QUEUE_WORKERS", 2),
		},
		Workers: WorkersConfig{
			BatchUsers: getenvIntDefault("GEOFENCE_BATCH_WORKERS", 4),
		},
	}

	if path := os.Getenv("LOCSHARE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at wiring.
func (c Config) Validate() error {
	if c.Server.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.Engine.ConfirmationDelay < 0 {
		return errors.New("config: confirmation delay must not be negative")
	}
	if c.Engine.RecentEventLimit <= 0 {
		return errors.New("config: recent event limit must be positive")
	}
	if c.Motion.StopSpeed >= c.Motion.StartSpeed {
		return errors.New("config: motion stop speed must be below start speed")
	}
	if c.Workers.BatchUsers <= 0 {
		return errors.New("config: batch workers must be positive")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

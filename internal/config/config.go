package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"db_dsn"`
	// EnsureSchema creates the archive table on start.
	EnsureSchema bool `yaml:"ensure_schema"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	Queues         []string `yaml:"queue_prefixes"`
	ServiceMinutes int      `yaml:"service_minutes"`
	MaxSequence    int      `yaml:"max_sequence"`
	ResourceCount  int      `yaml:"resource_count"`
	ResourcePolicy string   `yaml:"resource_policy"`
	ResourceSeed   uint64   `yaml:"resource_seed"`

	RateLimitWindow        time.Duration `yaml:"rate_limit_window"`
	RateLimitEvictInterval time.Duration `yaml:"rate_limit_evict_interval"`

	RolloverInterval time.Duration `yaml:"rollover_check_interval"`
	Timezone         string        `yaml:"timezone"`

	Notify NotifyConfig `yaml:"notify"`

	EventBuffer int `yaml:"event_buffer"`

	RateLimitPerMinute int `yaml:"rate_limit_per_min"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`

	// StaffToken guards the staff endpoints when set.
	StaffToken string `yaml:"staff_token"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type NotifyConfig struct {
	Provider     string        `yaml:"provider"`
	WebhookURL   string        `yaml:"webhook_url"`
	WebhookToken string        `yaml:"webhook_token"`
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	Timeout      time.Duration `yaml:"timeout"`
	Template     string        `yaml:"template"`
}

func Default() Config {
	return Config{
		Port:                   "8080",
		NATSSubject:            "qms.tokens",
		Queues:                 []string{"A", "B", "C"},
		ServiceMinutes:         5,
		ResourceCount:          10,
		ResourcePolicy:         "least_loaded",
		RateLimitWindow:        60 * time.Second,
		RateLimitEvictInterval: 5 * time.Minute,
		RolloverInterval:       30 * time.Second,
		Timezone:               "UTC",
		Notify: NotifyConfig{
			Provider:  "log",
			QueueSize: 256,
			Workers:   2,
			Timeout:   5 * time.Second,
		},
		EventBuffer:        1024,
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// any), then the environment. envFile, when set, is loaded into the
// environment first without overriding variables that are already set.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.Queues = normalizeQueues(cfg.Queues)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = readString("PORT", cfg.Port)
	cfg.DatabaseURL = readString("DB_DSN", cfg.DatabaseURL)
	cfg.EnsureSchema = readBool("DB_ENSURE_SCHEMA", cfg.EnsureSchema)
	cfg.NATSURL = readString("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = readString("NATS_SUBJECT", cfg.NATSSubject)
	if raw := os.Getenv("QUEUE_PREFIXES"); raw != "" {
		cfg.Queues = strings.Split(raw, ",")
	}
	cfg.ServiceMinutes = readInt("SERVICE_MINUTES", cfg.ServiceMinutes)
	cfg.MaxSequence = readInt("MAX_SEQUENCE", cfg.MaxSequence)
	cfg.ResourceCount = readInt("RESOURCE_COUNT", cfg.ResourceCount)
	cfg.ResourcePolicy = readString("RESOURCE_POLICY", cfg.ResourcePolicy)
	cfg.ResourceSeed = readUint64("RESOURCE_SEED", cfg.ResourceSeed)
	cfg.RateLimitWindow = readDurationSeconds("RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimitWindow)
	cfg.RateLimitEvictInterval = readDurationSeconds("RATE_LIMIT_EVICT_SECONDS", cfg.RateLimitEvictInterval)
	cfg.RolloverInterval = readDurationSeconds("ROLLOVER_CHECK_SECONDS", cfg.RolloverInterval)
	cfg.Timezone = readString("TIMEZONE", cfg.Timezone)
	cfg.Notify.Provider = readString("NOTIF_PROVIDER", cfg.Notify.Provider)
	cfg.Notify.WebhookURL = readString("NOTIF_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.WebhookToken = readString("NOTIF_WEBHOOK_TOKEN", cfg.Notify.WebhookToken)
	cfg.Notify.QueueSize = readInt("NOTIF_QUEUE_SIZE", cfg.Notify.QueueSize)
	cfg.Notify.Workers = readInt("NOTIF_WORKERS", cfg.Notify.Workers)
	cfg.Notify.Timeout = readDurationSeconds("NOTIF_TIMEOUT_SECONDS", cfg.Notify.Timeout)
	cfg.Notify.Template = readString("NOTIF_TEMPLATE", cfg.Notify.Template)
	cfg.EventBuffer = readInt("EVENT_BUFFER", cfg.EventBuffer)
	cfg.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = readInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.StaffToken = readString("STAFF_API_TOKEN", cfg.StaffToken)
	cfg.LogLevel = readString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = readString("LOG_FORMAT", cfg.LogFormat)
	cfg.OTLPEndpoint = readString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OTLPInsecure = readBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure)
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Queues) == 0 {
		errs = append(errs, errors.New("at least one queue prefix is required"))
	}
	seen := map[string]bool{}
	for _, q := range c.Queues {
		if len(q) != 1 || q[0] < 'A' || q[0] > 'Z' {
			errs = append(errs, fmt.Errorf("queue prefix %q must be a single letter A-Z", q))
		}
		if seen[q] {
			errs = append(errs, fmt.Errorf("queue prefix %q listed twice", q))
		}
		seen[q] = true
	}
	if c.ServiceMinutes <= 0 {
		errs = append(errs, errors.New("service_minutes must be positive"))
	}
	if c.ResourceCount <= 0 {
		errs = append(errs, errors.New("resource_count must be positive"))
	}
	if c.MaxSequence < 0 {
		errs = append(errs, errors.New("max_sequence must not be negative"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate_limit_window must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or text", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func normalizeQueues(queues []string) []string {
	out := make([]string, 0, len(queues))
	for _, q := range queues {
		q = strings.ToUpper(strings.TrimSpace(q))
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func readString(key, fallback string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return fallback
}

func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readUint64(key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

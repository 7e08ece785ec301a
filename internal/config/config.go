package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Source Source       `yaml:"source"`
	Sheet  Sheet        `yaml:"sheet"`
	Schema SchemaConfig `yaml:"schema"`
	Sync   Sync         `yaml:"sync"`
	Hooks  Hooks        `yaml:"hooks"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// Source contains the record source (PostgREST backend) settings.
type Source struct {
	BaseURL       string   `yaml:"base_url"`
	Key           string   `yaml:"-"` // env-only, never in YAML
	Table         string   `yaml:"table"`
	PageSize      int      `yaml:"page_size"`
	OrderBy       string   `yaml:"order_by"`
	ModifiedField string   `yaml:"modified_field"`
	Timeout       Duration `yaml:"timeout"`
}

// Sheet selects and configures the destination grid backend.
type Sheet struct {
	Backend string `yaml:"backend"` // "sqlite" | "csv"
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
}

// SchemaConfig defines the destination column layout.
type SchemaConfig struct {
	Columns  []string `yaml:"columns"`
	Identity string   `yaml:"identity"`
}

// Sync contains window arithmetic and scheduling settings.
type Sync struct {
	Timezone string `yaml:"timezone"`
	Cutover  string `yaml:"cutover"`  // "HH:MM" local cutover instant
	Schedule string `yaml:"schedule"` // cron expression for the daily run
}

// Hooks configures the optional post-merge collaborators.
type Hooks struct {
	CategoryResync bool     `yaml:"category_resync"`
	Categories     []string `yaml:"categories"`
	StalePurge     bool     `yaml:"stale_purge"`
	PurgeFunction  string   `yaml:"purge_function"`
}

// ServerConfig contains HTTP status server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	APIKey          string   `yaml:"-"` // env-only, never in YAML
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("GRIDSYNC_CONFIG_PATH", "config/gridsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultColumns is the destination column layout of the order sheet.
// Order matters: it defines the grid's column indices.
var DefaultColumns = []string{
	"id",
	"order_code",
	"order_no",
	"order_time",
	"payment_time",
	"order_status",
	"orderer_name",
	"orderer_email",
	"orderer_phone",
	"prod_no",
	"prod_name",
	"prod_quantity",
	"prod_price",
	"coupon_discount",
	"order_payment_amount",
	"updated_at",
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Source: Source{
			Table:         "orders",
			PageSize:      1000,
			OrderBy:       "id",
			ModifiedField: "updated_at",
			Timeout:       Duration(30 * time.Second),
		},
		Sheet: Sheet{
			Backend: "sqlite",
			Path:    "data/gridsync.db",
			Name:    "orders",
		},
		Schema: SchemaConfig{
			Columns:  DefaultColumns,
			Identity: "id",
		},
		Sync: Sync{
			Timezone: "Asia/Seoul",
			Cutover:  "15:30",
			Schedule: "40 15 * * *",
		},
		Hooks: Hooks{
			PurgeFunction: "purge_stale_orders",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Source (SOURCE_URL/SOURCE_KEY match the hosted backend's convention)
	if v := os.Getenv("SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("SOURCE_KEY"); v != "" {
		cfg.Source.Key = v
	}
	if v := os.Getenv("GRIDSYNC_SOURCE_TABLE"); v != "" {
		cfg.Source.Table = v
	}
	if v := os.Getenv("GRIDSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Source.PageSize = n
		}
	}
	if v := os.Getenv("GRIDSYNC_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Source.Timeout = Duration(d)
		}
	}

	// Sheet
	if v := os.Getenv("GRIDSYNC_SHEET_BACKEND"); v != "" {
		cfg.Sheet.Backend = v
	}
	if v := os.Getenv("GRIDSYNC_SHEET_PATH"); v != "" {
		cfg.Sheet.Path = v
	}
	if v := os.Getenv("GRIDSYNC_SHEET_NAME"); v != "" {
		cfg.Sheet.Name = v
	}

	// Schema
	if v := os.Getenv("GRIDSYNC_IDENTITY_COLUMN"); v != "" {
		cfg.Schema.Identity = v
	}

	// Sync
	if v := os.Getenv("GRIDSYNC_TIMEZONE"); v != "" {
		cfg.Sync.Timezone = v
	}
	if v := os.Getenv("GRIDSYNC_CUTOVER"); v != "" {
		cfg.Sync.Cutover = v
	}
	if v := os.Getenv("GRIDSYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}

	// Server
	if v := os.Getenv("GRIDSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GRIDSYNC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GRIDSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("GRIDSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GRIDSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// Missing source credentials are a fatal precondition: they are checked
// here, once, before any fetch is attempted.
func (c *Config) validate() error {
	if c.Source.BaseURL == "" {
		return errors.New("SOURCE_URL is required")
	}
	if c.Source.Key == "" {
		return errors.New("SOURCE_KEY is required")
	}
	switch c.Sheet.Backend {
	case "sqlite", "csv":
	default:
		return fmt.Errorf("unknown sheet backend %q", c.Sheet.Backend)
	}
	if len(c.Schema.Columns) == 0 {
		return errors.New("schema.columns must not be empty")
	}
	if c.Schema.Identity == "" {
		return errors.New("schema.identity must not be empty")
	}
	found := false
	for _, col := range c.Schema.Columns {
		if col == c.Schema.Identity {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("identity column %q is not part of schema.columns", c.Schema.Identity)
	}
	if _, err := ParseCutover(c.Sync.Cutover); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Sync.Timezone, err)
	}
	return nil
}

// Cutover is a civil time-of-day, the daily boundary for incremental windows.
type Cutover struct {
	Hour   int
	Minute int
}

// ParseCutover parses an "HH:MM" string.
func ParseCutover(s string) (Cutover, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Cutover{}, fmt.Errorf("invalid cutover %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Cutover{}, fmt.Errorf("invalid cutover hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Cutover{}, fmt.Errorf("invalid cutover minute in %q", s)
	}
	return Cutover{Hour: h, Minute: m}, nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

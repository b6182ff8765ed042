package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pavilion/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Holds      HoldConfig       `yaml:"holds"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Exports    ExportConfig     `yaml:"exports"`
	Calendar   CalendarConfig   `yaml:"calendar"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	ConsumerRef string `yaml:"consumer_ref"`
	// Timeout is a duration string such as "15s".
	Timeout string `yaml:"timeout"`
}

// RequestTimeout parses the configured timeout, defaulting to 15s.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return parseDuration(g.Timeout, 15*time.Second)
}

type HoldConfig struct {
	// TTL is a duration string such as "3m".
	TTL string `yaml:"ttl"`
}

func (h HoldConfig) HoldTTL() time.Duration {
	return parseDuration(h.TTL, models.DefaultHoldTTL)
}

type ReconcilerConfig struct {
	// Interval is a duration string such as "10s".
	Interval string `yaml:"interval"`
}

func (r ReconcilerConfig) SweepInterval() time.Duration {
	return parseDuration(r.Interval, models.DefaultSweepInterval)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

type CalendarConfig struct {
	// Zone is an IANA name; empty means the process local zone. All
	// calendar-day comparisons happen in this one zone.
	Zone string `yaml:"zone"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	ManagerChatIDs []int64 `yaml:"manager_chat_ids"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	LedgerSpreadsheetID string `yaml:"ledger_spreadsheet_id"`
	LedgerSheetName     string `yaml:"ledger_sheet_name"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; missing file is not an error.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway base_url is required")
	}
	if c.Holds.TTL != "" {
		if _, err := time.ParseDuration(c.Holds.TTL); err != nil {
			return fmt.Errorf("holds ttl: %w", err)
		}
	}
	if c.Reconciler.Interval != "" {
		if _, err := time.ParseDuration(c.Reconciler.Interval); err != nil {
			return fmt.Errorf("reconciler interval: %w", err)
		}
	}
	return nil
}

// ValidateResources rejects catalogs with missing or duplicate ids, unknown
// types, or a lawn whose guest bounds are inverted.
func ValidateResources(resources []models.Resource) error {
	ids := make(map[int64]bool)
	for _, res := range resources {
		if res.ID == 0 {
			return fmt.Errorf("resource %q has invalid ID 0", res.Name)
		}
		if ids[res.ID] {
			return fmt.Errorf("duplicate resource ID found: %d", res.ID)
		}
		ids[res.ID] = true

		switch res.Type {
		case models.ResourceRoom, models.ResourceHall, models.ResourceLawn, models.ResourcePhotoshoot:
		default:
			return fmt.Errorf("resource %d has unknown type %q", res.ID, res.Type)
		}

		if res.Type == models.ResourceLawn && res.MaxGuests > 0 && res.MinGuests > res.MaxGuests {
			return fmt.Errorf("resource %d: min_guests %d exceeds max_guests %d", res.ID, res.MinGuests, res.MaxGuests)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.Auth.Enabled && c.API.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Google.LedgerSheetName == "" {
		c.Google.LedgerSheetName = "Bookings"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

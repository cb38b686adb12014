package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // area timezones resolve on hosts without zoneinfo

	"github.com/spf13/viper"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Area     AreaConfig     `mapstructure:"area"`
	Source   SourceConfig   `mapstructure:"source"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	API      APIConfig      `mapstructure:"api"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AreaConfig holds the monitored city and its wall clock
type AreaConfig struct {
	Name      string  `mapstructure:"name"`
	CenterLat float64 `mapstructure:"center_lat"`
	CenterLng float64 `mapstructure:"center_lng"`
	Timezone  string  `mapstructure:"timezone"`
}

// SourceConfig holds the places directory configuration
type SourceConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	OverpassURL    string        `mapstructure:"overpass_url"`
	RadiusMeters   int           `mapstructure:"radius_meters"`
	MaxEntities    int           `mapstructure:"max_entities"`
	Keyword        string        `mapstructure:"keyword"`
	TypeFilter     string        `mapstructure:"type_filter"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
}

// MonitorConfig holds detection behavior configuration
type MonitorConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Window             time.Duration `mapstructure:"window"`
	BootstrapStep      time.Duration `mapstructure:"bootstrap_step"`
	BootstrapMinPoints int           `mapstructure:"bootstrap_min_points"`
	AlertScore         float64       `mapstructure:"alert_score"`
	AlertShare         float64       `mapstructure:"alert_share"`
	AlertZ             float64       `mapstructure:"alert_z"`
	HysteresisCycles   int           `mapstructure:"hysteresis_cycles"`
	Seed               int64         `mapstructure:"seed"`
}

// StorageConfig holds history persistence configuration
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	FilePath string `mapstructure:"file_path"`
	RedisURL string `mapstructure:"redis_url"`
	Key      string `mapstructure:"key"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// APIConfig holds the HTTP dashboard API configuration
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// KafkaConfig holds the snapshot stream configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables. An empty
// path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. CROWDPULSE_SOURCE_API_KEY
	v.SetEnvPrefix("CROWDPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper) {
	// Area defaults
	v.SetDefault("area.name", models.TelAviv.Name)
	v.SetDefault("area.center_lat", models.TelAviv.Lat)
	v.SetDefault("area.center_lng", models.TelAviv.Lng)
	v.SetDefault("area.timezone", "Asia/Jerusalem")

	// Source defaults
	v.SetDefault("source.provider", "google")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("source.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("source.radius_meters", 1400)
	v.SetDefault("source.max_entities", 30)
	v.SetDefault("source.keyword", "fast food")
	v.SetDefault("source.type_filter", "restaurant")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "1s")
	v.SetDefault("source.page_delay", "2s")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "15m")
	v.SetDefault("monitor.window", "168h")
	v.SetDefault("monitor.bootstrap_step", "3h")
	v.SetDefault("monitor.bootstrap_min_points", 40)
	v.SetDefault("monitor.alert_score", 76.0)
	v.SetDefault("monitor.alert_share", 0.25)
	v.SetDefault("monitor.alert_z", 1.0)
	v.SetDefault("monitor.hysteresis_cycles", 2)
	v.SetDefault("monitor.seed", 0)

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dsn", "./data/crowdpulse.db")
	v.SetDefault("storage.file_path", "./data/crowdpulse.json")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("storage.key", "crowdpulse:history:v3")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "crowdpulse.snapshots")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Area config
	if c.Area.Name == "" {
		return fmt.Errorf("area.name is required")
	}
	if c.Area.CenterLat < -90 || c.Area.CenterLat > 90 {
		return fmt.Errorf("area.center_lat must be between -90 and 90")
	}
	if c.Area.CenterLng < -180 || c.Area.CenterLng > 180 {
		return fmt.Errorf("area.center_lng must be between -180 and 180")
	}
	if _, err := time.LoadLocation(c.Area.Timezone); err != nil {
		return fmt.Errorf("area.timezone is invalid: %w", err)
	}

	// Validate Source config
	validProviders := map[string]bool{"google": true, "overpass": true, "demo": true}
	if !validProviders[c.Source.Provider] {
		return fmt.Errorf("source.provider must be one of: google, overpass, demo")
	}
	if c.Source.RadiusMeters < 100 {
		return fmt.Errorf("source.radius_meters must be at least 100")
	}
	if c.Source.MaxEntities < 1 {
		return fmt.Errorf("source.max_entities must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 1*time.Minute {
		return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
	}
	if c.Monitor.Window < 24*time.Hour {
		return fmt.Errorf("monitor.window must be at least 24 hours")
	}
	if c.Monitor.BootstrapStep < 15*time.Minute {
		return fmt.Errorf("monitor.bootstrap_step must be at least 15 minutes")
	}
	if c.Monitor.BootstrapMinPoints < 0 {
		return fmt.Errorf("monitor.bootstrap_min_points must not be negative")
	}
	if c.Monitor.AlertScore < 0 || c.Monitor.AlertScore > 100 {
		return fmt.Errorf("monitor.alert_score must be between 0 and 100")
	}
	if c.Monitor.AlertShare < 0 || c.Monitor.AlertShare > 1 {
		return fmt.Errorf("monitor.alert_share must be between 0.0 and 1.0")
	}
	if c.Monitor.HysteresisCycles < 1 {
		return fmt.Errorf("monitor.hysteresis_cycles must be at least 1")
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	case "file":
		if c.Storage.FilePath == "" {
			return fmt.Errorf("storage.file_path is required for the file backend")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: sqlite, postgres, file, redis, memory")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate API config
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}

	// Validate Kafka config
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must contain at least one broker when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// GetArea returns the monitored area
func (c *Config) GetArea() models.Area {
	return models.Area{Name: c.Area.Name, Lat: c.Area.CenterLat, Lng: c.Area.CenterLng}
}

// GetLocation returns the area's wall clock, falling back to local time
// when the timezone cannot be loaded.
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Area.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

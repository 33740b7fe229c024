package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Push      PushConfig      `mapstructure:"push"`
	Reminder  ReminderConfig  `mapstructure:"reminder"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Directory DirectoryConfig `mapstructure:"directory"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// EngineConfig tunes the optimistic write loop
type EngineConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NotifyConfig tunes notification delivery retries
type NotifyConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// LarkConfig holds Lark API configuration (chat channel A)
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// TelegramConfig holds Telegram bot configuration (chat channel B)
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Token       string `mapstructure:"token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	Debug       bool   `mapstructure:"debug"`
}

// PushConfig holds websocket push channel configuration
type PushConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	BufferSize     int      `mapstructure:"buffer_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ReminderConfig holds the digest reminder schedule
type ReminderConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Schedule string   `mapstructure:"schedule"`
	Types    []string `mapstructure:"types"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DirectoryConfig lists the users notifications are addressed to
type DirectoryConfig struct {
	Users []directory.User `mapstructure:"users"`
}

// Load loads configuration from file and environment variables. Variables
// from a .env file next to the working directory are loaded first; they
// never override the real environment.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/docflow.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Engine defaults
	v.SetDefault("engine.max_attempts", 5)
	v.SetDefault("engine.retry_backoff", 20*time.Millisecond)
	v.SetDefault("engine.write_timeout", 10*time.Second)

	// Notification defaults
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.base_backoff", 500*time.Millisecond)
	v.SetDefault("notify.handler_timeout", 2*time.Minute)

	v.SetDefault("telegram.poll_timeout", 30)

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.buffer_size", 16)

	v.SetDefault("reminder.schedule", "0 9 * * 1-6")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds credential environment variables
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("database.path", "DOCFLOW_DB_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1")
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be at least 1")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	if c.Reminder.Enabled {
		if c.Reminder.Schedule == "" {
			return fmt.Errorf("reminder.schedule is required")
		}
		registry := workflow.DefaultRegistry()
		for _, t := range c.Reminder.Types {
			if _, err := registry.Definition(workflow.ParseDocumentType(t)); err != nil {
				return fmt.Errorf("reminder.types: %w", err)
			}
		}
	}

	if _, err := directory.New(c.Directory.Users); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	return nil
}

// ReminderTypes returns the configured reminder document types
func (c *Config) ReminderTypes() []workflow.DocumentType {
	out := make([]workflow.DocumentType, 0, len(c.Reminder.Types))
	for _, t := range c.Reminder.Types {
		out = append(out, workflow.ParseDocumentType(t))
	}
	return out
}

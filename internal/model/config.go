package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Database drivers understood by the composition root.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and locates the row store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// ServerConfig holds settings for `portal serve`.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// RealtimeConfig points a client at a remote portal server. When URL is
// empty the client runs against the local store and an in-process feed.
type RealtimeConfig struct {
	URL string `mapstructure:"url" yaml:"url"`

	// TokenTTLMin is the lifetime of tokens minted by `portal token`.
	TokenTTLMin int `mapstructure:"token_ttl_min" yaml:"token_ttl_min"`
}

// IdentityConfig names the employee the TUI acts as.
type IdentityConfig struct {
	UserID string `mapstructure:"user_id" yaml:"user_id"`
}

// NotificationsConfig tunes the notification feed.
type NotificationsConfig struct {
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// CommentsConfig tunes comment threads.
type CommentsConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// MailBridgeConfig holds the IMAP mailbox watched for comment replies.
// The password lives in the keyring, never in this file.
type MailBridgeConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox         string `mapstructure:"mailbox" yaml:"mailbox"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// File receives JSON logs. Empty means stderr.
	File string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Realtime      RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	Identity      IdentityConfig      `mapstructure:"identity" yaml:"identity"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Comments      CommentsConfig      `mapstructure:"comments" yaml:"comments"`
	MailBridge    MailBridgeConfig    `mapstructure:"mailbridge" yaml:"mailbridge"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/portal, falling back to the working directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "portal")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/portal/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(ConfigDir(), "portal.db"),
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
		Realtime: RealtimeConfig{
			TokenTTLMin: 60 * 24,
		},
		Notifications: NotificationsConfig{
			Limit: 10,
		},
		Comments: CommentsConfig{
			Capacity: 500,
		},
		MailBridge: MailBridgeConfig{
			Port:            "993",
			TLS:             true,
			Mailbox:         "INBOX",
			PollIntervalSec: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// PORTAL_* environment variables override file values (for example
// PORTAL_DATABASE_DSN). If the file does not exist, defaults are used.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("portal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values and so
	// AutomaticEnv can see every key.
	v.SetDefault("database.driver", def.Database.Driver)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("database.dsn", "")
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.token_ttl_min", def.Realtime.TokenTTLMin)
	v.SetDefault("identity.user_id", "")
	v.SetDefault("notifications.limit", def.Notifications.Limit)
	v.SetDefault("comments.capacity", def.Comments.Capacity)
	v.SetDefault("mailbridge.host", "")
	v.SetDefault("mailbridge.port", def.MailBridge.Port)
	v.SetDefault("mailbridge.username", "")
	v.SetDefault("mailbridge.tls", def.MailBridge.TLS)
	v.SetDefault("mailbridge.mailbox", def.MailBridge.Mailbox)
	v.SetDefault("mailbridge.poll_interval_sec", def.MailBridge.PollIntervalSec)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", "")

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if _, ok := err.(*os.PathError); !ok && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Notifications.Limit <= 0 {
		cfg.Notifications.Limit = def.Notifications.Limit
	}
	if cfg.Comments.Capacity <= 0 {
		cfg.Comments.Capacity = def.Comments.Capacity
	}
	if cfg.MailBridge.PollIntervalSec <= 0 {
		cfg.MailBridge.PollIntervalSec = def.MailBridge.PollIntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("server", cfg.Server)
	v.Set("realtime", cfg.Realtime)
	v.Set("identity", cfg.Identity)
	v.Set("notifications", cfg.Notifications)
	v.Set("comments", cfg.Comments)
	v.Set("mailbridge", cfg.MailBridge)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

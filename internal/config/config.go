package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration, loaded from config/config.yaml
// with environment overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Export   ExportConfig   `mapstructure:"export"`
	Import   ImportConfig   `mapstructure:"import"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release or test
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	LogSQL      bool          `mapstructure:"log_sql"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// BackupConfig holds the snapshot directory and optional offsite target.
type BackupConfig struct {
	Dir     string        `mapstructure:"dir"`
	Offsite OffsiteConfig `mapstructure:"offsite"`
}

// OffsiteConfig describes an S3-compatible bucket for backup copies.
type OffsiteConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// ExportConfig holds the JSON feed output directory and the category
// patterns, a map of category name to search substring.
type ExportConfig struct {
	Dir      string            `mapstructure:"dir"`
	Patterns map[string]string `mapstructure:"patterns"`
}

// ImportConfig holds the CSV feed fetch settings.
type ImportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Proxy   string        `mapstructure:"proxy"`
}

// AdminConfig holds the bearer token protecting the admin routes.
// An empty token disables the admin API.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// LoadConfig reads config/config.yaml, fills defaults for anything missing
// and finishes with environment overrides. A missing config file is not an
// error; the defaults alone give a runnable server.
func LoadConfig() (*Config, error) {
	// Load .env first so its values are visible to the overrides below.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.path", "./data/calendar.db")
	viper.SetDefault("database.log_sql", false)
	viper.SetDefault("database.busy_timeout", 5*time.Second)
	viper.SetDefault("backup.dir", "./backups")
	viper.SetDefault("backup.offsite.enabled", false)
	viper.SetDefault("backup.offsite.region", "us-east-1")
	viper.SetDefault("backup.offsite.prefix", "chess-calendar")
	viper.SetDefault("export.dir", "./exports")
	viper.SetDefault("export.patterns", map[string]string{
		"women":  "women",
		"youth":  "youth",
		"senior": "senior",
		"blitz":  "blitz",
		"rapid":  "rapid",
	})
	viper.SetDefault("import.timeout", 30*time.Second)
	viper.SetDefault("import.proxy", "")
	viper.SetDefault("admin.token", "")
}

// overrideFromEnv applies CHESSCAL_* variables on top of the file values.
// Secrets are expected to arrive this way rather than through yaml.
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("CHESSCAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHESSCAL_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("CHESSCAL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CHESSCAL_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := os.Getenv("CHESSCAL_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}
	if v := os.Getenv("CHESSCAL_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := os.Getenv("CHESSCAL_OFFSITE_BUCKET"); v != "" {
		cfg.Backup.Offsite.Enabled = true
		cfg.Backup.Offsite.Bucket = v
	}
	if v := os.Getenv("CHESSCAL_OFFSITE_REGION"); v != "" {
		cfg.Backup.Offsite.Region = v
	}
	if v := os.Getenv("CHESSCAL_OFFSITE_ENDPOINT"); v != "" {
		cfg.Backup.Offsite.Endpoint = v
	}
	if v := os.Getenv("CHESSCAL_OFFSITE_ACCESS_KEY"); v != "" {
		cfg.Backup.Offsite.AccessKey = v
	}
	if v := os.Getenv("CHESSCAL_OFFSITE_SECRET_KEY"); v != "" {
		cfg.Backup.Offsite.SecretKey = v
	}
}

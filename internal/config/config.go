package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageFS   = "fs"
	StorageSFTP = "sftp"
	StorageNone = "none"
)

// Database drivers. DriverEphemeral keeps all rows in an in-memory SQLite database.
const (
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
	DriverEphemeral = "ephemeral"
)

// Cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Image      ImageConfig      `mapstructure:"image"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	GRPCHealthAddr  string        `mapstructure:"grpc_health_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ClassifierConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	Bucket        string        `mapstructure:"bucket"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FS            FSConfig      `mapstructure:"fs"`
	SFTP          SFTPConfig    `mapstructure:"sftp"`
}

type FSConfig struct {
	Root string `mapstructure:"root"`
}

type SFTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	KeyFile    string `mapstructure:"key_file"`
	KnownHosts string `mapstructure:"known_hosts"`
	BasePath   string `mapstructure:"base_path"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
	SettingsURL string `mapstructure:"settings_url"`
}

type ImageConfig struct {
	TargetSize    int      `mapstructure:"target_size"`
	MaxBytes      int64    `mapstructure:"max_bytes"`
	WorkDir       string   `mapstructure:"work_dir"`
	CameraCommand []string `mapstructure:"camera_command"`
}

type AlertsConfig struct {
	RescanAfter time.Duration `mapstructure:"rescan_after"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Error collects every problem found while validating a configuration.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_health_addr", "")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("classifier.base_url", "http://localhost:4000")
	v.SetDefault("classifier.timeout", 30*time.Second)

	v.SetDefault("storage.backend", StorageFS)
	v.SetDefault("storage.bucket", "lesion-images")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/objects")
	v.SetDefault("storage.timeout", 20*time.Second)
	v.SetDefault("storage.fs.root", "data/objects")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.base_path", "objects")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=skincheck port=5432 sslmode=disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("cache.backend", CacheRedis)
	v.SetDefault("cache.redis_addr", "redis:6379")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("auth.settings_url", "app-settings:")

	v.SetDefault("image.target_size", 224)
	v.SetDefault("image.max_bytes", 10*1024*1024)
	v.SetDefault("image.work_dir", filepath.Join(os.TempDir(), "skincheck"))
	v.SetDefault("image.camera_command", []string{})

	v.SetDefault("alerts.rescan_after", 14*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", true)
}

// Load reads configuration from defaults, an optional YAML file and SKINCHECK_*
// environment variables, in increasing order of precedence. An empty path searches
// ./config/config.yaml and ./config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SKINCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every inconsistency at once as *Error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if u, err := url.Parse(c.Classifier.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("classifier.base_url must be an absolute URL, got %q", c.Classifier.BaseURL)
	}
	if c.Classifier.Timeout <= 0 {
		add("classifier.timeout must be positive")
	}

	switch c.Storage.Backend {
	case StorageNone:
	case StorageFS:
		if c.Storage.FS.Root == "" {
			add("storage.fs.root is required for the fs backend")
		}
	case StorageSFTP:
		if c.Storage.SFTP.Host == "" {
			add("storage.sftp.host is required for the sftp backend")
		}
		if c.Storage.SFTP.Password == "" && c.Storage.SFTP.KeyFile == "" {
			add("storage.sftp needs a password or key_file")
		}
	default:
		add("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != StorageNone && c.Storage.Bucket == "" {
		add("storage.bucket is required")
	}

	switch c.Database.Driver {
	case DriverEphemeral:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			add("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		add("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			add("cache.redis_addr is required for the redis backend")
		}
	default:
		add("unknown cache.backend %q", c.Cache.Backend)
	}

	if c.Image.TargetSize <= 0 {
		add("image.target_size must be positive")
	}
	if c.Image.MaxBytes <= 0 {
		add("image.max_bytes must be positive")
	}
	if c.Alerts.RescanAfter <= 0 {
		add("alerts.rescan_after must be positive")
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// Package config loads the service configuration from a YAML file and
// FORECASTD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const EnvPrefix = "FORECASTD"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetry    time.Duration `mapstructure:"connect_retry"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type AuthConfig struct {
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	LoginWindow      time.Duration `mapstructure:"login_window"`
}

type StorageConfig struct {
	DatasetDir string `mapstructure:"dataset_dir"`
	UploadDir  string `mapstructure:"upload_dir"`
	ResultDir  string `mapstructure:"result_dir"`
}

type EngineConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type NotifyConfig struct {
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromName       string `mapstructure:"from_name"`
	FromAddress    string `mapstructure:"from_address"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.stats_interval", 15*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:forecastd.db?_foreign_keys=on")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.connect_retry", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.login_max_attempts", 5)
	v.SetDefault("auth.login_window", 15*time.Minute)

	v.SetDefault("storage.dataset_dir", "datasets")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.result_dir", "results")

	v.SetDefault("engine.delay", 2*time.Second)

	v.SetDefault("notify.sendgrid_api_key", "")
	v.SetDefault("notify.from_name", "forecastd")
	v.SetDefault("notify.from_address", "")

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configPath (optional) and overlays FORECASTD_* environment
// variables, e.g. FORECASTD_JWT_SECRET for jwt.secret. Only keys with a
// default are visible to the environment overlay.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite3" {
		result = multierror.Append(result, fmt.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		result = multierror.Append(result, errors.New("database.dsn is required"))
	}
	if c.JWT.Secret == "" {
		result = multierror.Append(result, errors.New("jwt.secret is required"))
	}
	if c.JWT.ExpireHours <= 0 {
		result = multierror.Append(result, errors.New("jwt.expire_hours must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		result = multierror.Append(result, fmt.Errorf("auth.bcrypt_cost %d out of range [4, 31]", c.Auth.BcryptCost))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		result = multierror.Append(result, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Storage.DatasetDir == "" || c.Storage.UploadDir == "" || c.Storage.ResultDir == "" {
		result = multierror.Append(result, errors.New("storage directories must not be empty"))
	}
	if c.Engine.Delay < 0 {
		result = multierror.Append(result, errors.New("engine.delay must not be negative"))
	}
	if c.Admin.Username != "" && c.Admin.Password == "" {
		result = multierror.Append(result, errors.New("admin.password is required when admin.username is set"))
	}

	return result.ErrorOrNil()
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.ExpireHours) * time.Hour
}

func (c *Config) NotifyEnabled() bool {
	return c.Notify.SendGridAPIKey != "" && c.Notify.FromAddress != ""
}

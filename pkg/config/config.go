package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Tracing        bool   `mapstructure:"TRACING"`
		Metrics        bool   `mapstructure:"METRICS"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Engagement Engagement `mapstructure:"ENGAGEMENT"`
}

// Engagement holds the campaign rules shared by the API and the worker.
type Engagement struct {
	Timezone       string        `mapstructure:"TIMEZONE"`
	RequiredDays   int           `mapstructure:"REQUIRED_DAYS"`
	DropGraceDays  int           `mapstructure:"DROP_GRACE_DAYS"`
	AllowRejoin    bool          `mapstructure:"ALLOW_REJOIN"`
	PayoutSchedule []float64     `mapstructure:"PAYOUT_SCHEDULE"`
	SweepSchedule  string        `mapstructure:"SWEEP_SCHEDULE"`
	StatusCacheTTL time.Duration `mapstructure:"STATUS_CACHE_TTL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func (c *Config) NodeIDString() string {
	return strconv.FormatInt(c.NodeID, 10)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "engagement")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("ENGAGEMENT.TIMEZONE", "UTC")
	v.SetDefault("ENGAGEMENT.REQUIRED_DAYS", 14)
	v.SetDefault("ENGAGEMENT.DROP_GRACE_DAYS", 0)
	v.SetDefault("ENGAGEMENT.ALLOW_REJOIN", true)
	v.SetDefault("ENGAGEMENT.SWEEP_SCHEDULE", "5 0 * * *")
	v.SetDefault("ENGAGEMENT.STATUS_CACHE_TTL", time.Minute)
}

// LoadConfig reads config.yaml from the working directory and lets
// environment variables override it. A missing file is not an error.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Engagement.RequiredDays <= 0 {
		return fmt.Errorf("ENGAGEMENT.REQUIRED_DAYS must be positive, got %d", c.Engagement.RequiredDays)
	}
	if c.Engagement.DropGraceDays < 0 {
		return fmt.Errorf("ENGAGEMENT.DROP_GRACE_DAYS must not be negative, got %d", c.Engagement.DropGraceDays)
	}
	if _, err := time.LoadLocation(c.Engagement.Timezone); err != nil {
		return fmt.Errorf("ENGAGEMENT.TIMEZONE: %w", err)
	}
	return nil
}

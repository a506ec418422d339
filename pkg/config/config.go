package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		Charset        string `mapstructure:"CHARSET"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr           string        `mapstructure:"ADDR"`
		Password       string        `mapstructure:"PASSWORD"`
		DB             int           `mapstructure:"DB"`
		PoolSize       int           `mapstructure:"POOL_SIZE"`
		PoolTimeout    time.Duration `mapstructure:"POOL_TIMEOUT"`
		TicketCacheTTL time.Duration `mapstructure:"TICKET_CACHE_TTL"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	ThirdPartyAPI struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		APIKey  string        `mapstructure:"API_KEY"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"THIRD_PARTY_API"`
	AIGateway struct {
		Provider string        `mapstructure:"PROVIDER"`
		BaseURL  string        `mapstructure:"BASE_URL"`
		APIKey   string        `mapstructure:"API_KEY"`
		Model    string        `mapstructure:"MODEL"`
		Timeout  time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"AI_GATEWAY"`
	Scheduler struct {
		Enabled     bool          `mapstructure:"ENABLED"`
		Interval    time.Duration `mapstructure:"INTERVAL"`
		MaxAttempts int           `mapstructure:"MAX_ATTEMPTS"`
	} `mapstructure:"SCHEDULER"`
	Log struct {
		Level      string `mapstructure:"LEVEL"`
		Dir        string `mapstructure:"DIR"`
		File       string `mapstructure:"FILE"`
		MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
		MaxBackups int    `mapstructure:"MAX_BACKUPS"`
	} `mapstructure:"LOG"`
	Vault struct {
		SecretPath string `mapstructure:"SECRET_PATH"`
		MountPath  string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
}

var Module = fx.Module("config", fx.Provide(ProvideVault, LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if p.Vault != nil {
		if err := overlayVault(context.Background(), p.Vault, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Load reads configuration from the given yaml file (or ./config.yaml when
// path is empty) and the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zap.L().Warn("config file not found, using defaults and environment")
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
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler interval must be at least 1s, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.MaxAttempts < 0 {
		return fmt.Errorf("scheduler max attempts must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "wecode-sec-tools")
	v.SetDefault("APP_VERSION", "1.0.0")

	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("PYROSCOPE.ADDR", "")

	v.SetDefault("HTTP_SERVER.ADDR", "0.0.0.0:5000")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "mysql")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "3306")
	v.SetDefault("DATABASE.DBNAME", "wecode_sec_tools")
	v.SetDefault("DATABASE.USER", "root")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.CHARSET", "utf8mb4")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.METRICS", false)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)

	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("REDIS.TICKET_CACHE_TTL", 30*time.Second)

	v.SetDefault("MINIO.ENDPOINT", "")
	v.SetDefault("MINIO.ACCESS_KEY", "")
	v.SetDefault("MINIO.SECRET_KEY", "")
	v.SetDefault("MINIO.SECURE", false)
	v.SetDefault("MINIO.BUCKET_NAME", "event-artifacts")

	v.SetDefault("THIRD_PARTY_API.BASE_URL", "https://api.example.com")
	v.SetDefault("THIRD_PARTY_API.API_KEY", "")
	v.SetDefault("THIRD_PARTY_API.TIMEOUT", 30*time.Second)

	v.SetDefault("AI_GATEWAY.PROVIDER", "echo")
	v.SetDefault("AI_GATEWAY.BASE_URL", "")
	v.SetDefault("AI_GATEWAY.API_KEY", "")
	v.SetDefault("AI_GATEWAY.MODEL", "gpt-4")
	v.SetDefault("AI_GATEWAY.TIMEOUT", 0)

	v.SetDefault("SCHEDULER.ENABLED", true)
	v.SetDefault("SCHEDULER.INTERVAL", 10*time.Second)
	v.SetDefault("SCHEDULER.MAX_ATTEMPTS", 0)

	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.DIR", "")
	v.SetDefault("LOG.FILE", "wecode_sec_tools.log")
	v.SetDefault("LOG.MAX_SIZE_MB", 10)
	v.SetDefault("LOG.MAX_BACKUPS", 5)

	v.SetDefault("VAULT.SECRET_PATH", "")
	v.SetDefault("VAULT.MOUNT_PATH", "secret")
}

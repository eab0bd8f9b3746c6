// Package config loads the server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// HTTPConf configures the HTTP listener.
type HTTPConf struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConf selects the log level (debug, info, warn, error) and format
// (json or text).
type LogConf struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConf selects the message store. DataDir is used by the file store.
type StoreConf struct {
	Driver  string `mapstructure:"driver"`
	DataDir string `mapstructure:"data_dir"`
}

// PostgresConf configures the postgres store.
type PostgresConf struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConf configures the redis store.
type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MediaConf selects where uploads are kept. UploadDir is used by disk
// media.
type MediaConf struct {
	Driver    string `mapstructure:"driver"`
	UploadDir string `mapstructure:"upload_dir"`
}

// S3Conf configures s3 media.
type S3Conf struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	PublicURL       string `mapstructure:"public_url"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConf     `mapstructure:"http"`
	Log      LogConf      `mapstructure:"log"`
	Store    StoreConf    `mapstructure:"store"`
	Postgres PostgresConf `mapstructure:"postgres"`
	Redis    RedisConf    `mapstructure:"redis"`
	Media    MediaConf    `mapstructure:"media"`
	S3       S3Conf       `mapstructure:"s3"`
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Media drivers.
const (
	MediaDisk = "disk"
	MediaS3   = "s3"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", StoreFile)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("media.driver", MediaDisk)
	v.SetDefault("media.upload_dir", "uploads")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "uploads")
	v.SetDefault("s3.public_url", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
}

// Load reads the configuration. Values come, in increasing priority, from
// the defaults, the optional config file at path, and the environment,
// where a key such as store.driver is read from CHANNEL_STORE_DRIVER. A
// .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("channel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected drivers exist and have what they need.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.DataDir == "" {
			return errors.New("store.data_dir is required for the file store")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Media.Driver {
	case MediaDisk:
		if c.Media.UploadDir == "" {
			return errors.New("media.upload_dir is required for disk media")
		}
	case MediaS3:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required for s3 media")
		}
	default:
		return fmt.Errorf("unknown media.driver %q", c.Media.Driver)
	}
	return nil
}

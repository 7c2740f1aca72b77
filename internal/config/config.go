package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Auth      AuthConfig
	Zitadel   ZitadelConfig
	Provider  ProviderConfig
	Tracker   TrackerConfig
	R2        R2Config
	RateLimit RateLimitConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	PublicURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Disabled bool
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	DSN    string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// AuthConfig holds the password login. Password maps to the "default" user;
// Users maps user id to password for multi-user installs.
type AuthConfig struct {
	Password string
	Users    map[string]string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type ProviderConfig struct {
	APIKey            string
	BaseURL           string
	CallbackURL       string
	RequestsPerSecond float64
	Timeout           time.Duration
}

type TrackerConfig struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type RateLimitConfig struct {
	JobsPerHour  int
	LyricsPerMin int
}

type WorkerConfig struct {
	Concurrency int
	Mirror      bool
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("JWT_SECRET")
	readSecret("AUTH_PASSWORD")
	readSecret("PROVIDER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.public_url", "PUBLIC_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.disabled", "REDIS_DISABLED")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("auth.password", "AUTH_PASSWORD")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	_ = v.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	_ = v.BindEnv("provider.callback_url", "PROVIDER_CALLBACK_URL")
	_ = v.BindEnv("provider.requests_per_second", "PROVIDER_RPS")
	_ = v.BindEnv("provider.timeout", "PROVIDER_TIMEOUT")
	_ = v.BindEnv("tracker.poll_interval", "TRACKER_POLL_INTERVAL")
	_ = v.BindEnv("tracker.max_duration", "TRACKER_MAX_DURATION")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = v.BindEnv("ratelimit.lyrics_per_min", "RATELIMIT_LYRICS_PER_MIN")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.mirror", "WORKER_MIRROR")

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.disabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "playground.db")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24*30)
	v.SetDefault("ratelimit.jobs_per_hour", 60)
	v.SetDefault("ratelimit.lyrics_per_min", 30)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.mirror", true)

	// kie.ai defaults
	v.SetDefault("provider.base_url", "https://api.kie.ai")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.timeout", 60*time.Second)

	v.SetDefault("tracker.poll_interval", 5*time.Second)
	v.SetDefault("tracker.max_duration", 15*time.Minute)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			PublicURL: strings.TrimRight(v.GetString("server.public_url"), "/"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Disabled: v.GetBool("redis.disabled"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Auth: AuthConfig{
			Password: v.GetString("auth.password"),
			Users:    v.GetStringMapString("auth.users"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Provider: ProviderConfig{
			APIKey:            v.GetString("provider.api_key"),
			BaseURL:           strings.TrimRight(v.GetString("provider.base_url"), "/"),
			CallbackURL:       v.GetString("provider.callback_url"),
			RequestsPerSecond: v.GetFloat64("provider.requests_per_second"),
			Timeout:           v.GetDuration("provider.timeout"),
		},
		Tracker: TrackerConfig{
			PollInterval: v.GetDuration("tracker.poll_interval"),
			MaxDuration:  v.GetDuration("tracker.max_duration"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour:  v.GetInt("ratelimit.jobs_per_hour"),
			LyricsPerMin: v.GetInt("ratelimit.lyrics_per_min"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			Mirror:      v.GetBool("worker.mirror"),
		},
	}

	// The provider requires a callback URL even though results are polled.
	if cfg.Provider.CallbackURL == "" {
		if cfg.Server.PublicURL != "" {
			cfg.Provider.CallbackURL = cfg.Server.PublicURL + "/api/callback"
		} else {
			cfg.Provider.CallbackURL = "https://api.example.com/callback"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("tracker.poll_interval must be positive")
	}
	if c.Tracker.MaxDuration < 0 {
		return fmt.Errorf("tracker.max_duration must not be negative")
	}
	if c.IsProduction() && c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("jwt.secret must be set in production")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Redis    RedisConfig    `koanf:"redis"`
	Search   SearchConfig   `koanf:"search"`
	Media    MediaConfig    `koanf:"media"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL           string `koanf:"url"`
	MigrationsDir string `koanf:"migrations_dir"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	AccessTTL time.Duration `koanf:"access_ttl"`
}

type RedisConfig struct {
	// URL may be empty; logout revocation is then disabled.
	URL string `koanf:"url"`
}

type SearchConfig struct {
	MeiliURL       string `koanf:"meili_url"`
	MeiliMasterKey string `koanf:"meili_master_key"`
}

type MediaConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
	// PublicURL prefixes object names in returned image references.
	PublicURL string `koanf:"public_url"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.access_ttl must be positive, got %s", c.Auth.AccessTTL))
	}
	if c.Server.RateLimitReqs < 0 {
		errs = append(errs, errors.New("server.rate_limit_requests must not be negative"))
	}
	if c.Server.RateLimitReqs > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("server.rate_limit_window must be positive when rate limiting is on"))
	}
	return errors.Join(errs...)
}

// MediaEnabled reports whether image uploads can be served.
func (c *Config) MediaEnabled() bool {
	return strings.TrimSpace(c.Media.Endpoint) != "" && strings.TrimSpace(c.Media.Bucket) != ""
}

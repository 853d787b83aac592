package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port    string `yaml:"port"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	JWT struct {
		Secret    string `yaml:"secret"`
		Algorithm string `yaml:"algorithm"`
	} `yaml:"jwt"`
	Tokens struct {
		AccessTTLSeconds   int64 `yaml:"access_ttl_seconds"`
		RefreshTTLSeconds  int64 `yaml:"refresh_ttl_seconds"`
		EmailTTLSeconds    int64 `yaml:"email_ttl_seconds"`
		ResetTTLSeconds    int64 `yaml:"reset_ttl_seconds"`
		DenylistTTLSeconds int64 `yaml:"denylist_ttl_seconds"`
		CacheTTLSeconds    int64 `yaml:"cache_ttl_seconds"`
	} `yaml:"tokens"`
	Mail struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"mail"`
}

// LoadConfig reads configuration from the specified YAML file and applies
// environment overrides for secrets. The signing secret, database URL and
// Redis address are mandatory; a missing value is a startup error, not a
// runtime one.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Mail.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "HS256"
	}
	if c.Tokens.AccessTTLSeconds == 0 {
		c.Tokens.AccessTTLSeconds = 15 * 60
	}
	if c.Tokens.RefreshTTLSeconds == 0 {
		c.Tokens.RefreshTTLSeconds = 7 * 24 * 60 * 60
	}
	if c.Tokens.EmailTTLSeconds == 0 {
		c.Tokens.EmailTTLSeconds = 7 * 24 * 60 * 60
	}
	if c.Tokens.ResetTTLSeconds == 0 {
		c.Tokens.ResetTTLSeconds = 60 * 60
	}
	if c.Tokens.DenylistTTLSeconds == 0 {
		c.Tokens.DenylistTTLSeconds = 15 * 60
	}
	if c.Tokens.CacheTTLSeconds == 0 {
		c.Tokens.CacheTTLSeconds = 15 * 60
	}
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt signing secret is not set (config jwt.secret or JWT_SECRET)")
	}
	if c.JWT.Algorithm != "HS256" && c.JWT.Algorithm != "HS512" {
		return fmt.Errorf("unsupported jwt algorithm %q", c.JWT.Algorithm)
	}
	if c.Database.URL == "" {
		return errors.New("database URL is not set (config database.url or DATABASE_URL)")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address is not set (config redis.addr or REDIS_ADDR)")
	}
	return nil
}

// AccessTTL is the lifetime of issued access tokens.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Tokens.AccessTTLSeconds) * time.Second
}

// RefreshTTL is the lifetime of issued refresh tokens.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Tokens.RefreshTTLSeconds) * time.Second
}

// EmailTTL is the lifetime of email confirmation tokens.
func (c *Config) EmailTTL() time.Duration {
	return time.Duration(c.Tokens.EmailTTLSeconds) * time.Second
}

// ResetTTL is the lifetime of password reset tokens.
func (c *Config) ResetTTL() time.Duration {
	return time.Duration(c.Tokens.ResetTTLSeconds) * time.Second
}

// DenylistTTL is how long a logged-out token stays revoked. It must cover the
// remaining lifetime of any access token still circulating.
func (c *Config) DenylistTTL() time.Duration {
	return time.Duration(c.Tokens.DenylistTTLSeconds) * time.Second
}

// CacheTTL is how long a resolved user snapshot stays cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Tokens.CacheTTLSeconds) * time.Second
}

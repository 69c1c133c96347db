// Package config loads server configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the storage backend. Driver is "postgres" or
// "sqlite"; the matching sub-section applies.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// IngestConfig tunes ingestion behavior. ConflictPolicy is "keep-first"
// (default) or "keep-max".
type IngestConfig struct {
	ConflictPolicy string `yaml:"conflict_policy"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// DSN returns a PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, sslmode)
}

// Load reads config from a YAML file, then applies environment variable
// overrides. Env vars use the prefix VITALS_ and underscore-separated paths:
//
//	VITALS_SERVER_HOST, VITALS_SERVER_PORT,
//	VITALS_DB_DRIVER, VITALS_DB_HOST, VITALS_DB_PORT, VITALS_DB_NAME,
//	VITALS_DB_USER, VITALS_DB_PASSWORD, VITALS_DB_SSLMODE,
//	VITALS_DB_SQLITE_PATH, VITALS_AUTH_API_KEY, VITALS_CONFLICT_POLICY
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VITALS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VITALS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VITALS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("VITALS_DB_HOST"); v != "" {
		cfg.Database.Postgres.Host = v
	}
	if v := os.Getenv("VITALS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Postgres.Port = port
		}
	}
	if v := os.Getenv("VITALS_DB_NAME"); v != "" {
		cfg.Database.Postgres.Name = v
	}
	if v := os.Getenv("VITALS_DB_USER"); v != "" {
		cfg.Database.Postgres.User = v
	}
	if v := os.Getenv("VITALS_DB_PASSWORD"); v != "" {
		cfg.Database.Postgres.Password = v
	}
	if v := os.Getenv("VITALS_DB_SSLMODE"); v != "" {
		cfg.Database.Postgres.SSLMode = v
	}
	if v := os.Getenv("VITALS_DB_SQLITE_PATH"); v != "" {
		cfg.Database.SQLite.Path = v
	}
	if v := os.Getenv("VITALS_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("VITALS_CONFLICT_POLICY"); v != "" {
		cfg.Ingest.ConflictPolicy = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if c.Database.Postgres.Port == 0 {
			return fmt.Errorf("database.postgres.port is required")
		}
		if c.Database.Postgres.Name == "" {
			return fmt.Errorf("database.postgres.name is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Ingest.ConflictPolicy {
	case "", "keep-first", "keep-max":
	default:
		return fmt.Errorf("ingest.conflict_policy must be keep-first or keep-max, got %q", c.Ingest.ConflictPolicy)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	return nil
}

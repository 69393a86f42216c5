// Package database provides PostgreSQL connection management for the
// optional Postgres sink.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection configuration.
type Config struct {
	// URL, when set, is used verbatim and the discrete fields are ignored.
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return configFromLookup(os.Getenv)
}

func configFromLookup(getenv func(string) string) Config {
	get := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	// malformed or non-positive numbers keep the default
	getInt := func(key string, defaultValue int) int {
		if n, err := strconv.Atoi(getenv(key)); err == nil && n > 0 {
			return n
		}
		return defaultValue
	}
	getDuration := func(key string, defaultValue time.Duration) time.Duration {
		if d, err := time.ParseDuration(getenv(key)); err == nil && d > 0 {
			return d
		}
		return defaultValue
	}

	port := getInt("DB_PORT", 5432)
	maxConns := getInt("DB_MAX_CONNS", 2)
	lifetime := getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connectTimeout := getDuration("DB_CONNECT_TIMEOUT", 10*time.Second)

	return Config{
		URL:             getenv("DATABASE_URL"),
		Host:            get("DB_HOST", "localhost"),
		Port:            port,
		User:            get("DB_USER", "aqexport"),
		Password:        get("DB_PASSWORD", "localdev"),
		Database:        get("DB_NAME", "airquality"),
		SSLMode:         get("DB_SSL_MODE", "disable"),
		MaxConns:        maxConns,
		ConnMaxLifetime: lifetime,
		ConnectTimeout:  connectTimeout,
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Redacted returns a loggable description of the target database.
func (c Config) Redacted() string {
	if c.URL != "" {
		if cfg, err := pgxpool.ParseConfig(c.URL); err == nil {
			return fmt.Sprintf("%s:%d/%s", cfg.ConnConfig.Host, cfg.ConnConfig.Port, cfg.ConnConfig.Database)
		}
		return "DATABASE_URL"
	}
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Database)
}

// Connect creates a new database connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns) //nolint:gosec // small positive value from config
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

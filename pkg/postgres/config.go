package postgres

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for a PostgreSQL connection pool.
type Config struct {
	Host           string `env:"DB_HOST" envDefault:"localhost"`
	Port           int    `env:"DB_PORT" envDefault:"5432"`
	Database       string `env:"DB_NAME" envDefault:"pulsechain_explorer"`
	Username       string `env:"DB_USER" envDefault:"postgres"`
	Password       string `env:"DB_PASSWORD" envDefault:""`
	MaxConnections int32  `env:"DB_MAX_CONNECTIONS" envDefault:"20"`
}

// Load reads PostgreSQL configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	return cfg, nil
}

// DSN builds a connection string for pgxpool from the config.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("pool_max_conns", fmt.Sprintf("%d", c.MaxConnections))
	u.RawQuery = q.Encode()
	return u.String()
}

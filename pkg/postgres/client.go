package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Client wraps a PostgreSQL connection pool.
type Client interface {
	// Pool returns the underlying connection pool.
	Pool() *pgxpool.Pool
	// Ping checks the connection to PostgreSQL.
	Ping(ctx context.Context) error
	// Close closes the pool.
	Close()
}

// Connection timeout for the initial ping during client creation.
const defaultPingTimeout = 10 * time.Second

type client struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

// New creates a new PostgreSQL client with the provided configuration.
// The connection is verified with a ping; the service should not start
// if the database is unreachable.
func New(ctx context.Context, cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	c := &client{pool: pool, logger: sugar}
	if err := c.Ping(pingCtx); err != nil {
		if c.logger != nil {
			c.logger.Errorw("failed to ping PostgreSQL", "error", err)
		}
		pool.Close()
		return nil, err
	}

	return c, nil
}

func (c *client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping runs a trivial query rather than a protocol-level ping so that the
// health check exercises the same path real queries take.
func (c *client) Ping(ctx context.Context) error {
	var one int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (c *client) Close() {
	c.pool.Close()
}

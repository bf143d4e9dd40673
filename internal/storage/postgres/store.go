// Package postgres provides the Postgres-backed block store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/storage"
)

// Config controls the Postgres connection pool used for block rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists blocks and their transactions in Postgres.
type Store struct {
	pool   pool
	logger *zap.Logger
}

// New creates a Postgres-backed Store and initializes the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
// It does not initialize the schema.
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, logger: logger}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	block_height BIGINT PRIMARY KEY,
	block_hash VARCHAR(128) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	tx_hash VARCHAR(128) PRIMARY KEY,
	block_height BIGINT NOT NULL,
	created_at TIMESTAMPTZ DEFAULT NOW(),
	FOREIGN KEY (block_height) REFERENCES blocks(block_height) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_blocks_timestamp ON blocks(timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block_height);
`

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	s.logger.Info("database schema initialized")
	return nil
}

// Name identifies the backend in logs and metrics.
func (s *Store) Name() string { return "postgres" }

// Store inserts the block row and its transactions. The conflict target on
// block_height makes repeated inserts safe; a conflict reports wrote=false.
func (s *Store) Store(ctx context.Context, b block.Block) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO blocks (block_height, block_hash, timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (block_height) DO NOTHING`,
		b.Height, b.Hash, b.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert block %d: %w", b.Height, err)
	}
	wrote := tag.RowsAffected() > 0

	if wrote && len(b.TxHashes) > 0 {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO transactions (tx_hash, block_height)
			SELECT unnest($1::varchar[]), $2
			ON CONFLICT (tx_hash) DO NOTHING`,
			b.TxHashes, b.Height,
		); err != nil {
			// The block row is in; losing transactions is logged, not fatal.
			s.logger.Error("insert transactions failed",
				zap.Int64("height", b.Height),
				zap.Int("tx_count", len(b.TxHashes)),
				zap.Error(err),
			)
		}
	}
	return wrote, nil
}

// Exists reports whether the height is present.
func (s *Store) Exists(ctx context.Context, height int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks WHERE block_height = $1)`,
		height,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check block %d: %w", height, err)
	}
	return exists, nil
}

// KnownHeights returns all stored heights in ascending order.
func (s *Store) KnownHeights(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT block_height FROM blocks ORDER BY block_height`,
	)
	if err != nil {
		return nil, fmt.Errorf("list block heights: %w", err)
	}
	defer rows.Close()

	var heights []int64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan block height: %w", err)
		}
		heights = append(heights, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block heights: %w", err)
	}
	return heights, nil
}

// Stats reports totals for the final report.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(MIN(block_height), 0),
		       COALESCE(MAX(block_height), 0)
		FROM blocks`,
	).Scan(&st.Total, &st.Earliest, &st.Latest)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("database stats: %w", err)
	}
	return st, nil
}

// Health verifies database reachability.
func (s *Store) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

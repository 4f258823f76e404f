// Package postgres implements the durable repo.Store on PostgreSQL via
// pgx. Due-work scheduling (next_retry_at, next_communication_at) is
// queried from storage so any number of sweep workers can share it, and
// optimistic status checks are expressed as conditional UPDATEs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// PoolConfig represents database pool configuration
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig returns a default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Store represents the PostgreSQL store implementation
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store with its own connection pool
func NewStore(ctx context.Context, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info(ctx, "Database pool created",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns))

	return &Store{db: pool}, nil
}

// NewStoreWithPool creates a new PostgreSQL store with an existing pool
func NewStoreWithPool(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	return &Store{db: pool}, nil
}

// Health checks if the database pool is healthy
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Failure returns the payment failure repository implementation
func (s *Store) Failure() repo.FailureRepository {
	return &failureRepository{store: s}
}

// Campaign returns the dunning campaign repository implementation
func (s *Store) Campaign() repo.CampaignRepository {
	return &campaignRepository{store: s}
}

// AccountState returns the account state repository implementation
func (s *Store) AccountState() repo.AccountStateRepository {
	return &accountStateRepository{store: s}
}

// Analytics returns the analytics repository implementation
func (s *Store) Analytics() repo.AnalyticsRepository {
	return &analyticsRepository{store: s}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}

func unmarshalMap(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

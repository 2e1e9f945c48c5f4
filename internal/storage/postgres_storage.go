package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	_ "github.com/lib/pq"
)

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`
	getEntryQuery     = `SELECT payload FROM cache_entries WHERE key = $1 AND expires_at > $2`
	upsertEntryQuery  = `INSERT INTO cache_entries (key, payload, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`
	purgeExpiredQuery = `DELETE FROM cache_entries WHERE expires_at <= $1`
)

// PostgresStorage implements Store on a single cache_entries table.
// Expired rows are invisible to Get and removed by PurgeExpired.
type PostgresStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStorage opens the database, verifies the connection and ensures the schema exists
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newPostgresStorage(db)
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.WithComponent("storage").Info("Connected to Postgres cache storage")
	return s, nil
}

func newPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

func (p *PostgresStorage) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create cache_entries table: %w", err)
	}
	return nil
}

// Get retrieves a live payload
func (p *PostgresStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, getEntryQuery, key, p.now().UTC()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrapPostgresError("get", key, err)
	}
	return payload, true, nil
}

// Set upserts a payload with its expiry
func (p *PostgresStorage) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	expiresAt := p.now().Add(ttl).UTC()
	if _, err := p.db.ExecContext(ctx, upsertEntryQuery, key, data, expiresAt); err != nil {
		return wrapPostgresError("set", key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and reports how many were removed
func (p *PostgresStorage) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, purgeExpiredQuery, p.now().UTC())
	if err != nil {
		return 0, wrapPostgresError("purge", "", err)
	}
	return res.RowsAffected()
}

// RunJanitor purges expired rows every interval until ctx is done
func (p *PostgresStorage) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.WithComponent("storage")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.PurgeExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to purge expired cache entries")
				continue
			}
			if removed > 0 {
				log.Debugf("Purged %d expired cache entries", removed)
			}
		}
	}
}

// Ping checks the database connection
func (p *PostgresStorage) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return wrapPostgresError("ping", "", err)
	}
	return nil
}

func (p *PostgresStorage) Name() string {
	return "postgres"
}

// Close closes the connection pool
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

func wrapPostgresError(op, key string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("postgres %s %q: %w: %v", op, key, ErrUnavailable, err)
	}
	return fmt.Errorf("postgres %s %q: %w", op, key, err)
}

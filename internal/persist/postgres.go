package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister is a Persister backed by a Postgres pool, grounded on
// the operator daemon's connection-pool and upsert patterns.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS payjoin_sessions (
	session_key BYTEA PRIMARY KEY,
	value       BYTEA NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS payjoin_seen_inputs (
	outpoint BYTEA PRIMARY KEY,
	seen_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ConnectPostgres opens a pool against connStr and verifies connectivity.
func ConnectPostgres(ctx context.Context, connStr string) (*PostgresPersister, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresPersister{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresPersister) Close() {
	p.pool.Close()
}

// InitSchema creates the persister's tables if they do not already exist.
func (p *PostgresPersister) InitSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initializing persister schema: %w", err)
	}
	return nil
}

// Save upserts value under key.
func (p *PostgresPersister) Save(key [33]byte, value []byte) error {
	ctx := context.Background()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO payjoin_sessions (session_key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key[:], value)
	if err != nil {
		return fmt.Errorf("saving session %x: %w", key, err)
	}
	return nil
}

// Load fetches the value stored under key, if any.
func (p *PostgresPersister) Load(key [33]byte) ([]byte, bool, error) {
	ctx := context.Background()
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM payjoin_sessions WHERE session_key = $1`, key[:],
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session %x: %w", key, err)
	}
	return value, true, nil
}

// ListSessions returns every persisted session blob keyed by its 33-byte
// key.
func (p *PostgresPersister) ListSessions() (map[[33]byte][]byte, error) {
	ctx := context.Background()
	rows, err := p.pool.Query(ctx, `SELECT session_key, value FROM payjoin_sessions`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[[33]byte][]byte)
	for rows.Next() {
		var keyBytes, value []byte
		if err := rows.Scan(&keyBytes, &value); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		if len(keyBytes) != 33 {
			continue
		}
		var key [33]byte
		copy(key[:], keyBytes)
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}

// MarkSeen atomically inserts outpoint into payjoin_seen_inputs, reporting
// whether it was already present.
func (p *PostgresPersister) MarkSeen(outpoint wire.OutPoint) (bool, error) {
	ctx := context.Background()
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO payjoin_seen_inputs (outpoint, seen_at)
		VALUES ($1, now())
		ON CONFLICT (outpoint) DO NOTHING
	`, outpointBytes(outpoint))
	if err != nil {
		return false, fmt.Errorf("marking outpoint seen: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

func outpointBytes(op wire.OutPoint) []byte {
	b := make([]byte, 36)
	copy(b[:32], op.Hash[:])
	binary.BigEndian.PutUint32(b[32:], op.Index)
	return b
}

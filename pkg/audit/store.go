package audit

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit entries in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Statements run one at a time: pgx's extended protocol rejects multi-command
// strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS erp_events (
		event_id    TEXT PRIMARY KEY,
		tenant      TEXT NOT NULL,
		model       TEXT NOT NULL,
		method      TEXT NOT NULL,
		record_ids  BIGINT[],
		entry_canon BYTEA NOT NULL,
		status      TEXT NOT NULL,
		error_msg   TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		hash        TEXT NOT NULL,
		prev_hash   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS erp_events_tenant_received_idx
		ON erp_events (tenant, received_at)`,
}

// EnsureSchema creates the erp_events table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("audit.EnsureSchema: %w", err)
		}
	}
	return nil
}

// Append inserts one entry, linking it into its tenant's hash chain. A
// per-tenant advisory lock serialises appends so concurrent writers cannot
// fork the chain. On return e.Hash and e.PrevHash are set.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	canon, err := canonicalEntry(e)
	if err != nil {
		return fmt.Errorf("audit.Append canonical: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit.Append begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(e.Tenant)); err != nil {
		return fmt.Errorf("audit.Append advisory lock: %w", err)
	}

	prevHash, err := s.lastHashTx(ctx, tx, e.Tenant)
	if err != nil {
		return fmt.Errorf("audit.Append last hash: %w", err)
	}

	e.PrevHash = prevHash
	e.Hash = ChainHash(prevHash, canon)

	_, err = tx.Exec(ctx, `
		INSERT INTO erp_events (
			event_id, tenant, model, method, record_ids,
			entry_canon, status, error_msg, duration_ms, received_at,
			hash, prev_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.EventID, e.Tenant, e.Model, e.Method, e.RecordIDs,
		canon, e.Status, e.Error, e.DurationMS, e.ReceivedAt,
		e.Hash, prevHash,
	)
	if err != nil {
		return fmt.Errorf("audit.Append insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit.Append commit: %w", err)
	}
	return nil
}

// Chain returns a tenant's entries since a time, oldest first, in the shape
// VerifyChain consumes.
func (s *Store) Chain(ctx context.Context, tenant string, since time.Time) ([]ChainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, hash, entry_canon
		FROM erp_events
		WHERE tenant = $1 AND received_at >= $2
		ORDER BY received_at ASC`, tenant, since)
	if err != nil {
		return nil, fmt.Errorf("audit.Chain: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var ev ChainEvent
		if err := rows.Scan(&ev.EventID, &ev.Hash, &ev.Canon); err != nil {
			return nil, fmt.Errorf("audit.Chain scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.Chain iteration: %w", err)
	}
	return events, nil
}

// lastHashTx fetches the newest hash for a tenant inside an open transaction.
func (s *Store) lastHashTx(ctx context.Context, tx pgx.Tx, tenant string) (string, error) {
	row := tx.QueryRow(ctx, `
		SELECT hash FROM erp_events
		WHERE tenant = $1
		ORDER BY received_at DESC LIMIT 1`, tenant)

	var h string
	err := row.Scan(&h)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return h, err
}

// tenantLockID produces a deterministic advisory-lock ID from a tenant label.
func tenantLockID(tenant string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenant))
	b := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(b))
}

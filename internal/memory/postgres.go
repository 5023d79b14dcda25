package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog persists conversational memory in PostgreSQL.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(ctx context.Context, databaseURL string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresLog{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			owner_key TEXT NOT NULL,
			role_name TEXT NOT NULL,
			you_name TEXT NOT NULL,
			query TEXT NOT NULL,
			answer TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_owner_seq ON chat_turns (owner_key, seq);`,
		`CREATE TABLE IF NOT EXISTS chat_long_term (
			owner_key TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			reflection TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, turn Turn, window int) (evicted *Turn, total int, err error) {
	key := turn.Owner().Key()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialize appends per owner so the eviction result matches the insert.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, 0, fmt.Errorf("lock owner: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_turns (id, owner_key, role_name, you_name, query, answer, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID, key, turn.RoleName, turn.YouName, turn.Query, turn.Answer, turn.PIIRedacted, turn.CreatedAt,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("save turn: %w", err)
	}
	if err = tx.QueryRow(ctx, `SELECT count(*) FROM chat_turns WHERE owner_key=$1`, key).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}
	if window > 0 && total > window {
		var t Turn
		err = tx.QueryRow(ctx,
			`SELECT id, role_name, you_name, query, answer, pii_redacted, created_at
			 FROM chat_turns WHERE owner_key=$1 ORDER BY seq DESC OFFSET $2 LIMIT 1`,
			key, window,
		).Scan(&t.ID, &t.RoleName, &t.YouName, &t.Query, &t.Answer, &t.PIIRedacted, &t.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("select evicted turn: %w", err)
		}
		evicted = &t
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit append: %w", err)
	}
	return evicted, total, nil
}

func (l *PostgresLog) Recent(ctx context.Context, owner Owner, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, role_name, you_name, query, answer, pii_redacted, created_at
		 FROM chat_turns WHERE owner_key=$1 ORDER BY seq DESC LIMIT $2`,
		owner.Key(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.RoleName, &t.YouName, &t.Query, &t.Answer, &t.PIIRedacted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	reverseTurns(items)
	return items, nil
}

func (l *PostgresLog) LongTerm(ctx context.Context, owner Owner) (LongTerm, error) {
	var rec LongTerm
	err := l.pool.QueryRow(ctx,
		`SELECT summary, reflection, updated_at FROM chat_long_term WHERE owner_key=$1`,
		owner.Key(),
	).Scan(&rec.Summary, &rec.Reflection, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LongTerm{}, nil
	}
	if err != nil {
		return LongTerm{}, fmt.Errorf("query long term: %w", err)
	}
	return rec, nil
}

func (l *PostgresLog) SaveLongTerm(ctx context.Context, owner Owner, record LongTerm) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO chat_long_term (owner_key, summary, reflection, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_key) DO UPDATE SET
			summary = excluded.summary,
			reflection = excluded.reflection,
			updated_at = excluded.updated_at`,
		owner.Key(), record.Summary, record.Reflection, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save long term: %w", err)
	}
	return nil
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}

// reverseTurns flips newest-first rows into chronological order.
func reverseTurns(items []Turn) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists memory in a single SQLite file.
type SQLiteLog struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteLog(ctx context.Context, path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	l := &SQLiteLog{db: db}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner_key TEXT NOT NULL,
		role_name TEXT NOT NULL,
		you_name TEXT NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		pii_redacted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_turns_owner_seq ON chat_turns(owner_key, seq);

	CREATE TABLE IF NOT EXISTS chat_long_term (
		owner_key TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		reflection TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

func (l *SQLiteLog) Append(ctx context.Context, turn Turn, window int) (evicted *Turn, total int, err error) {
	key := turn.Owner().Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_turns (id, owner_key, role_name, you_name, query, answer, pii_redacted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, key, turn.RoleName, turn.YouName, turn.Query, turn.Answer, turn.PIIRedacted, turn.CreatedAt,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("save turn: %w", err)
	}
	if err = tx.QueryRowContext(ctx, `SELECT count(*) FROM chat_turns WHERE owner_key = ?`, key).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count turns: %w", err)
	}
	if window > 0 && total > window {
		var t Turn
		err = tx.QueryRowContext(ctx,
			`SELECT id, role_name, you_name, query, answer, pii_redacted, created_at
			 FROM chat_turns WHERE owner_key = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`,
			key, window,
		).Scan(&t.ID, &t.RoleName, &t.YouName, &t.Query, &t.Answer, &t.PIIRedacted, &t.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("select evicted turn: %w", err)
		}
		evicted = &t
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit append: %w", err)
	}
	return evicted, total, nil
}

func (l *SQLiteLog) Recent(ctx context.Context, owner Owner, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, role_name, you_name, query, answer, pii_redacted, created_at
		 FROM chat_turns WHERE owner_key = ? ORDER BY seq DESC LIMIT ?`,
		owner.Key(), limit,
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

func (l *SQLiteLog) LongTerm(ctx context.Context, owner Owner) (LongTerm, error) {
	var rec LongTerm
	err := l.db.QueryRowContext(ctx,
		`SELECT summary, reflection, updated_at FROM chat_long_term WHERE owner_key = ?`,
		owner.Key(),
	).Scan(&rec.Summary, &rec.Reflection, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LongTerm{}, nil
	}
	if err != nil {
		return LongTerm{}, fmt.Errorf("query long term: %w", err)
	}
	return rec, nil
}

func (l *SQLiteLog) SaveLongTerm(ctx context.Context, owner Owner, record LongTerm) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_long_term (owner_key, summary, reflection, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_key) DO UPDATE SET
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

func (l *SQLiteLog) Close() error { return l.db.Close() }

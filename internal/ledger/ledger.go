// Package ledger records which inquiries have been answered, failed or
// given up on, so a message is never replied to twice and a poison message
// does not loop forever.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"guestmail/internal/domain"
)

// Ledger is a SQLite-backed reply ledger. It is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create ledger directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// State is what the ledger knows about one inquiry.
type State struct {
	Replied   bool
	Attempts  int
	Abandoned bool
}

func (l *Ledger) State(ctx context.Context, key string) (State, error) {
	var st State
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replies WHERE inquiry_key = ?`, key).Scan(&n)
	if err != nil {
		return st, fmt.Errorf("query replies: %w", err)
	}
	st.Replied = n > 0

	var abandoned int
	err = l.db.QueryRowContext(ctx,
		`SELECT count, abandoned FROM attempts WHERE inquiry_key = ?`, key,
	).Scan(&st.Attempts, &abandoned)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("query attempts: %w", err)
	}
	st.Abandoned = abandoned != 0
	return st, nil
}

// RecordReply marks the inquiry as answered. Recording twice is a no-op.
func (l *Ledger) RecordReply(ctx context.Context, inq domain.Inquiry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO replies (inquiry_key, sender, subject, replied_at) VALUES (?, ?, ?, ?)`,
		inq.Key(), inq.From, inq.Subject, time.Now().UTC(),
	)
	return err
}

// RecordFailure counts one failed attempt and returns the new total.
func (l *Ledger) RecordFailure(ctx context.Context, key, sender, subject string, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts (inquiry_key, sender, subject, count, last_error, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(inquiry_key) DO UPDATE SET
			count = count + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		key, sender, subject, msg, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}

	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT count FROM attempts WHERE inquiry_key = ?`, key).Scan(&count); err != nil {
		return 0, fmt.Errorf("read attempt count: %w", err)
	}
	return count, nil
}

// MarkAbandoned stops further attempts for the inquiry.
func (l *Ledger) MarkAbandoned(ctx context.Context, key string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE attempts SET abandoned = 1, updated_at = ? WHERE inquiry_key = ?`,
		time.Now().UTC(), key,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no attempts recorded for %s", key)
	}
	return nil
}

// Cycle summarizes one poll cycle.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Replied    int
	Failed     int
	Skipped    int
	Abandoned  int
	Err        string // fetch or settle failure, empty on success
}

func (l *Ledger) RecordCycle(ctx context.Context, c Cycle) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, fetched, replied, failed, skipped, abandoned, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UTC(), c.FinishedAt.UTC(), c.Fetched, c.Replied, c.Failed, c.Skipped, c.Abandoned, c.Err,
	)
	return err
}

// RecentCycles returns up to limit cycles, newest first.
func (l *Ledger) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, fetched, replied, failed, skipped, abandoned, COALESCE(error, '')
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.FinishedAt,
			&c.Fetched, &c.Replied, &c.Failed, &c.Skipped, &c.Abandoned, &c.Err); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats are lifetime totals across the ledger.
type Stats struct {
	Replied   int
	Failing   int // failed at least once, not yet replied or abandoned
	Abandoned int
	Cycles    int
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM replies),
			(SELECT COUNT(*) FROM attempts a WHERE a.abandoned = 0
				AND NOT EXISTS (SELECT 1 FROM replies r WHERE r.inquiry_key = a.inquiry_key)),
			(SELECT COUNT(*) FROM attempts WHERE abandoned = 1),
			(SELECT COUNT(*) FROM cycles)`,
	).Scan(&s.Replied, &s.Failing, &s.Abandoned, &s.Cycles)
	return s, err
}

// Package week persists one WeekBoard per (userId, weekStartISO).
package week

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"meal-board/internal/board"
)

// Key identifies a stored board.
type Key struct {
	UserID       string
	WeekStartISO string
}

// Repository is a SQLite-backed store of week boards. Writes are
// compare-and-swap on the board version.
type Repository struct {
	db         *sql.DB
	normalizer board.Normalizer
	now        func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB, normalizer board.Normalizer) *Repository {
	return &Repository{db: db, normalizer: normalizer, now: time.Now}
}

// Get returns the stored board, or nil if none exists. Stored documents are
// re-normalized, so older shapes come back canonical.
func (r *Repository) Get(ctx context.Context, userID, weekStartISO string) (*board.WeekBoard, error) {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return nil, err
	}

	var (
		version   int
		data      string
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, data, updated_at FROM week_boards WHERE user_id = ? AND week_start = ?`,
		userID, weekStartISO,
	).Scan(&version, &data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	b := r.normalizer.NormalizeWeek([]byte(data), weekStartISO)
	b.Version = version
	b.Meta.LastUpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &b, nil
}

// Upsert writes b if b.Version matches the stored version (0 when nothing
// is stored yet) and returns the board as persisted, at version+1. A stale
// base version yields *VersionConflictError.
func (r *Repository) Upsert(ctx context.Context, userID, weekStartISO string, b board.WeekBoard) (board.WeekBoard, error) {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return board.WeekBoard{}, err
	}
	if b.WeekStartISO() != weekStartISO {
		return board.WeekBoard{}, board.Invalid("id", "board id does not match "+board.WeekID(weekStartISO))
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	base := b.Version
	b.Version = base + 1
	b.Meta.LastUpdatedAt = now
	if b.Meta.CreatedAt.IsZero() {
		b.Meta.CreatedAt = now
	}
	b.SyncLists()

	data, err := json.Marshal(b)
	if err != nil {
		return board.WeekBoard{}, &PersistenceError{Op: "encode", Err: err}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE week_boards SET version = ?, data = ?, updated_at = ? WHERE user_id = ? AND week_start = ? AND version = ?`,
		b.Version, string(data), now.UnixMilli(), userID, weekStartISO, base,
	)
	if err != nil {
		return board.WeekBoard{}, &PersistenceError{Op: "update", Err: err}
	}
	if n, err := res.RowsAffected(); err != nil {
		return board.WeekBoard{}, &PersistenceError{Op: "update", Err: err}
	} else if n == 1 {
		return b, nil
	}

	if base == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO week_boards (user_id, week_start, version, data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, week_start) DO NOTHING`,
			userID, weekStartISO, b.Version, string(data), b.Meta.CreatedAt.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return board.WeekBoard{}, &PersistenceError{Op: "insert", Err: err}
		}
		if n, err := res.RowsAffected(); err != nil {
			return board.WeekBoard{}, &PersistenceError{Op: "insert", Err: err}
		} else if n == 1 {
			return b, nil
		}
	}

	current, err := r.currentVersion(ctx, userID, weekStartISO)
	if err != nil {
		return board.WeekBoard{}, err
	}
	return board.WeekBoard{}, &VersionConflictError{
		UserID:       userID,
		WeekStartISO: weekStartISO,
		Expected:     base,
		Current:      current,
	}
}

func (r *Repository) currentVersion(ctx context.Context, userID, weekStartISO string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM week_boards WHERE user_id = ? AND week_start = ?`,
		userID, weekStartISO,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &PersistenceError{Op: "load", Err: err}
	}
	return version, nil
}

// ListKeys returns every stored (user, week) pair.
func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, week_start FROM week_boards ORDER BY user_id, week_start`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.UserID, &k.WeekStartISO); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return keys, nil
}

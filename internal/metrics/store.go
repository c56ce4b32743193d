package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IngestionEvent records the outcome of a single image ingestion attempt.
type IngestionEvent struct {
	Status     string
	Reason     string
	SourceHost string
	LatencyMS  int64
	Timestamp  time.Time
}

// Store handles persistence of ingestion events to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record saves an event to the database.
func (s *Store) Record(ctx context.Context, e IngestionEvent) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_ingestions (status, reason, source_host, latency_ms, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.Status, e.Reason, e.SourceHost, e.LatencyMS, ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion event: %w", err)
	}
	return nil
}

// DailyIngestions holds per-status counts for a single day.
type DailyIngestions struct {
	Date         string
	Ingested     int
	Pending      int
	Failed       int
	AvgLatencyMS int64
}

// Total is the number of attempts that day.
func (d DailyIngestions) Total() int {
	return d.Ingested + d.Pending + d.Failed
}

// GetDailyIngestions retrieves per-day counts for the last N days, newest first.
func (s *Store) GetDailyIngestions(ctx context.Context, days int) ([]DailyIngestions, error) {
	since := s.now().AddDate(0, 0, -days).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', timestamp / 1000, 'unixepoch') AS day,
		       SUM(CASE WHEN status = 'ingested' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       CAST(AVG(latency_ms) AS INTEGER)
		FROM image_ingestions
		WHERE timestamp >= ? AND status != 'already_permanent'
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion events: %w", err)
	}
	defer rows.Close()

	var results []DailyIngestions
	for rows.Next() {
		var d DailyIngestions
		if err := rows.Scan(&d.Date, &d.Ingested, &d.Pending, &d.Failed, &d.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion row: %w", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingestion rows: %w", err)
	}
	return results, nil
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM image_ingestions WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up ingestion events: %w", err)
	}
	return res.RowsAffected()
}

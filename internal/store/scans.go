package store

import (
	"context"
	"fmt"
	"time"

	"cardscan/internal/identify"
)

// Scan is one recorded identification.
type Scan struct {
	EventID    string
	CardID     string
	SessionID  string
	Confidence float64
	Inliers    int
	At         time.Time
}

// RecordScan logs the event and bumps the global scan counter in one
// transaction. Replayed events are ignored.
func (s *Store) RecordScan(ctx context.Context, ev identify.ScanEvent) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin scan tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
INSERT INTO scans (event_id, card_id, session_id, request_id, confidence, inliers, scanned_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING`,
			ev.EventID, ev.CardID, ev.SessionID, ev.RequestID, ev.Confidence, ev.Inliers, formatTime(ev.At))
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE stats SET value = value + 1 WHERE key = 'total_scans'"); err != nil {
			return fmt.Errorf("increment total scans: %w", err)
		}
		return tx.Commit()
	})
}

// TotalScans returns the global scan counter.
func (s *Store) TotalScans(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM stats WHERE key = 'total_scans'").Scan(&n); err != nil {
		return 0, fmt.Errorf("read total scans: %w", err)
	}
	return n, nil
}

// RecentScans returns up to limit scans, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, card_id, session_id, confidence, inliers, scanned_at
FROM scans ORDER BY scanned_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var (
			sc  Scan
			raw string
		)
		if err := rows.Scan(&sc.EventID, &sc.CardID, &sc.SessionID, &sc.Confidence, &sc.Inliers, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sc.At = parseTime(raw)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CardScans is the scan total for one card.
type CardScans struct {
	CardID string
	Scans  int
}

// TopCards returns per-card scan totals, highest first.
func (s *Store) TopCards(ctx context.Context, limit int) ([]CardScans, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT card_id, COUNT(1) AS n FROM scans GROUP BY card_id ORDER BY n DESC, card_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan counts: %w", err)
	}
	defer rows.Close()

	var out []CardScans
	for rows.Next() {
		var c CardScans
		if err := rows.Scan(&c.CardID, &c.Scans); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

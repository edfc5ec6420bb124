package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cardscan/internal/catalog"
	"cardscan/internal/phash"
)

const cardColumns = "id, name, subtitle, set_code, image_path, phash, keypoints, descriptors, width, height, metadata"

// Records returns every card in insertion order. Cards without stored
// features come back image-only so catalog.Load computes them.
func (s *Store) Records(ctx context.Context) ([]catalog.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+cardColumns+" FROM cards ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var out []catalog.Record
	for rows.Next() {
		rec, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return out, nil
}

// Card returns one stored card.
func (s *Store) Card(ctx context.Context, id string) (*catalog.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	rec, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return rec, err
}

func scanCard(scanner interface{ Scan(dest ...any) error }) (*catalog.Record, error) {
	var (
		rec         catalog.Record
		hashHex     sql.NullString
		keypoints   []byte
		descriptors []byte
		metadata    string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Subtitle,
		&rec.SetCode,
		&rec.ImagePath,
		&hashHex,
		&keypoints,
		&descriptors,
		&rec.Width,
		&rec.Height,
		&metadata,
	); err != nil {
		return nil, err
	}

	if hashHex.Valid && hashHex.String != "" {
		h, err := phash.ParseHex(hashHex.String)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", rec.ID, err)
		}
		rec.Hash = h
	}
	var err error
	if rec.Keypoints, err = decodeKeypoints(keypoints); err != nil {
		return nil, fmt.Errorf("card %s keypoints: %w", rec.ID, err)
	}
	if rec.Descriptors, err = decodeDescriptors(descriptors); err != nil {
		return nil, fmt.Errorf("card %s descriptors: %w", rec.ID, err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("card %s metadata: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// UpsertCard inserts or replaces a card including its matching data. A
// record without matching data clears any stored features.
func (s *Store) UpsertCard(ctx context.Context, rec catalog.Record) error {
	if rec.ID == "" {
		return errors.New("card id is required")
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	var (
		hashHex     any
		keypoints   []byte
		descriptors []byte
	)
	if rec.Precomputed() {
		hashHex = rec.Hash.Hex()
		keypoints = encodeKeypoints(rec.Keypoints)
		if descriptors, err = encodeDescriptors(rec.Descriptors); err != nil {
			return fmt.Errorf("card %s: %w", rec.ID, err)
		}
	}

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO cards (`+cardColumns+`, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    subtitle = excluded.subtitle,
    set_code = excluded.set_code,
    image_path = excluded.image_path,
    phash = excluded.phash,
    keypoints = excluded.keypoints,
    descriptors = excluded.descriptors,
    width = excluded.width,
    height = excluded.height,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`,
			rec.ID, rec.Name, rec.Subtitle, rec.SetCode, rec.ImagePath,
			hashHex, keypoints, descriptors, rec.Width, rec.Height, meta,
			formatTime(time.Now()))
		return err
	})
}

// UpdateMetadata refreshes descriptive fields of an existing card and leaves
// its matching data untouched. An empty ImagePath keeps the stored one.
func (s *Store) UpdateMetadata(ctx context.Context, rec catalog.Record) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	var res sql.Result
	err = retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `
UPDATE cards SET name = ?, subtitle = ?, set_code = ?, image_path = COALESCE(NULLIF(?, ''), image_path), metadata = ?, updated_at = ?
WHERE id = ?`,
			rec.Name, rec.Subtitle, rec.SetCode, rec.ImagePath, meta, formatTime(time.Now()), rec.ID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update card %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, rec.ID)
	}
	return nil
}

// HasFeatures reports whether the card exists with hash and descriptors.
func (s *Store) HasFeatures(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM cards WHERE id = ? AND phash IS NOT NULL AND phash <> '' AND descriptors IS NOT NULL",
		id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check card %s: %w", id, err)
	}
	return count > 0, nil
}

// CardCount returns the number of stored cards.
func (s *Store) CardCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM cards").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

// CatalogStamp summarises the cards table. It changes whenever a card is
// added or rewritten and ignores scan history.
func (s *Store) CatalogStamp(ctx context.Context) (string, error) {
	var (
		n      int
		latest string
	)
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1), COALESCE(MAX(updated_at), '') FROM cards").Scan(&n, &latest)
	if err != nil {
		return "", fmt.Errorf("catalog stamp: %w", err)
	}
	return fmt.Sprintf("%d@%s", n, latest), nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

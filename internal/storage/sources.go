package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Source represents a content source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	LastScanned *time.Time
}

func scanSource(row scanner) (Source, error) {
	var (
		s           Source
		lastScanned sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Path, &lastScanned); err != nil {
		return Source{}, err
	}
	var err error
	s.LastScanned, err = parseTimePtr(lastScanned)
	return s, err
}

// InsertSource registers a source path. Registering a known path returns the
// existing source.
func (db *DB) InsertSource(ctx context.Context, path string) (Source, error) {
	if _, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path) VALUES (?)
		ON CONFLICT(path) DO NOTHING
	`, path); err != nil {
		return Source{}, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return db.FindSourceByPath(ctx, path)
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (Source, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, path, last_scanned
		FROM sources WHERE path = ?
	`, path)
	s, err := scanSource(row)
	if err != nil {
		return Source{}, notFound(err, "source", path)
	}
	return s, nil
}

// Sources retrieves all stored sources from the database.
func (db *DB) Sources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, timeValue(at), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return mustAffect(res, "source", fmt.Sprint(sourceID))
}

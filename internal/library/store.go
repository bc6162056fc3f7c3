// Package library is the media part registry: the mapping from part ids to
// files on disk, with cached probe results so playback decisions do not
// re-probe on every request.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/persistence/sqlite"
)

// ErrNotFound means no part with that id exists.
var ErrNotFound = errors.New("library: part not found")

// Part is one playable media file.
type Part struct {
	ID        string
	Path      string
	MediaType media.MediaType

	// Properties is the cached probe result; zero when never probed.
	Properties media.Properties

	// Rotation is the display rotation side data in degrees.
	Rotation int
	ProbedAt time.Time
}

// Store persists parts in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS parts (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	media_type TEXT NOT NULL,
	properties TEXT,
	rotation INTEGER NOT NULL DEFAULT 0,
	probed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_parts_path ON parts(path);
`

// Open initializes the registry at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("library: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Healthy reports database integrity for the health endpoint.
func (s *Store) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return sqlite.QuickCheck(s.db)
}

// Add registers a new part and returns its generated id.
func (s *Store) Add(ctx context.Context, path string, mediaType media.MediaType) (*Part, error) {
	p := &Part{
		ID:        uuid.NewString(),
		Path:      path,
		MediaType: mediaType,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parts (id, path, media_type) VALUES (?, ?, ?)`,
		p.ID, p.Path, string(p.MediaType))
	if err != nil {
		return nil, fmt.Errorf("library: add part: %w", err)
	}
	return p, nil
}

// Get loads one part by id.
func (s *Store) Get(ctx context.Context, id string) (*Part, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, media_type, properties, rotation, probed_at FROM parts WHERE id = ?`, id)
	return scanPart(row)
}

// GetByPath loads one part by file path.
func (s *Store) GetByPath(ctx context.Context, path string) (*Part, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, media_type, properties, rotation, probed_at FROM parts WHERE path = ?`, path)
	return scanPart(row)
}

// SetProperties caches a probe result for the part.
func (s *Store) SetProperties(ctx context.Context, id string, props media.Properties, rotation int) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("library: encode properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE parts SET properties = ?, rotation = ?, probed_at = ? WHERE id = ?`,
		string(data), rotation, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("library: set properties: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a part.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = ?`, id)
	return err
}

// List returns all parts, ordered by path.
func (s *Store) List(ctx context.Context) ([]*Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, media_type, properties, rotation, probed_at FROM parts ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []*Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPart(row rowScanner) (*Part, error) {
	var p Part
	var mediaType string
	var propsJSON sql.NullString
	var rotation sql.NullInt64
	var probedAt sql.NullInt64

	err := row.Scan(&p.ID, &p.Path, &mediaType, &propsJSON, &rotation, &probedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("library: scan part: %w", err)
	}

	p.MediaType = media.MediaType(mediaType)
	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &p.Properties); err != nil {
			return nil, fmt.Errorf("library: decode properties: %w", err)
		}
	}
	if rotation.Valid {
		p.Rotation = int(rotation.Int64)
	}
	if probedAt.Valid {
		p.ProbedAt = time.Unix(probedAt.Int64, 0)
	}
	return &p, nil
}

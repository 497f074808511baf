package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrTrackNotFound is returned when no track row matches
	ErrTrackNotFound = errors.New("track not found")
	// ErrDuplicateTrack is returned when an owner already has a track at the same path
	ErrDuplicateTrack = errors.New("track already exists at this path")
)

// Track is a persisted library track
type Track struct {
	ID                  int64
	OwnerID             string
	Title               string
	Artist              sql.NullString
	Album               sql.NullString
	AlbumArtist         sql.NullString
	Genre               sql.NullString
	Year                sql.NullInt64
	TrackNumber         int
	Duration            float64
	RelPath             string
	SourceURL           string
	AcoustID            sql.NullString
	MetadataSource      sql.NullString
	MetadataProcessedAt sql.NullTime
	CreatedAt           time.Time
}

// MetadataUpdate carries the fields written back after enrichment
type MetadataUpdate struct {
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        int
	AcoustID    string
	Source      string
}

// TrackStore persists tracks
type TrackStore struct {
	db *sql.DB
}

// NewTrackStore creates a TrackStore
func NewTrackStore(db *sql.DB) *TrackStore {
	return &TrackStore{db: db}
}

const trackColumns = `id, owner_id, title, artist, album, album_artist, genre, year,
	track_number, duration, rel_path, source_url, acoustid, metadata_source,
	metadata_processed_at, created_at`

// IsDuplicate reports whether ownerID already has a track stored at relPath.
// Only the relative path is compared; identical audio under another name is
// not detected.
func (s *TrackStore) IsDuplicate(ctx context.Context, ownerID, relPath string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM tracks WHERE owner_id = ? AND rel_path = ?)",
		ownerID, relPath,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return exists == 1, nil
}

// Insert stores t and sets its ID and CreatedAt
func (s *TrackStore) Insert(ctx context.Context, t *Track) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (
			owner_id, title, artist, album, album_artist, genre, year,
			track_number, duration, rel_path, source_url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID, t.Title, t.Artist, t.Album, t.AlbumArtist, t.Genre, t.Year,
		t.TrackNumber, t.Duration, t.RelPath, t.SourceURL, t.CreatedAt,
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateTrack
		}
		return fmt.Errorf("failed to insert track: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read track id: %w", err)
	}
	t.ID = id
	return nil
}

// Get returns a track by ID
func (s *TrackStore) Get(ctx context.Context, id int64) (*Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	return scanTrack(row)
}

// GetByPath returns an owner's track stored at relPath
func (s *TrackStore) GetByPath(ctx context.Context, ownerID, relPath string) (*Track, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE owner_id = ? AND rel_path = ?", ownerID, relPath)
	return scanTrack(row)
}

// ListByOwner returns an owner's tracks ordered by album and track number
func (s *TrackStore) ListByOwner(ctx context.Context, ownerID string) ([]*Track, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+trackColumns+` FROM tracks
		WHERE owner_id = ? ORDER BY album, track_number, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()
	return scanTracks(rows)
}

// ListUnprocessed returns tracks that have never been through enrichment
func (s *TrackStore) ListUnprocessed(ctx context.Context, limit int) ([]*Track, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+trackColumns+` FROM tracks
		WHERE metadata_processed_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed tracks: %w", err)
	}
	defer rows.Close()
	return scanTracks(rows)
}

// UpdateMetadata writes enriched fields and stamps metadata_processed_at.
// Empty strings and a zero year store NULL.
func (s *TrackStore) UpdateMetadata(ctx context.Context, id int64, u MetadataUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET
			artist = ?, album = ?, album_artist = ?, genre = ?, year = ?,
			acoustid = COALESCE(?, acoustid), metadata_source = ?,
			metadata_processed_at = ?
		WHERE id = ?`,
		nullString(u.Artist), nullString(u.Album), nullString(u.AlbumArtist),
		nullString(u.Genre), nullInt(u.Year), nullString(u.AcoustID),
		nullString(u.Source), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update track metadata: %w", err)
	}
	return expectOneRow(res)
}

// MarkProcessed stamps metadata_processed_at without touching other fields
func (s *TrackStore) MarkProcessed(ctx context.Context, id int64, acoustID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET acoustid = COALESCE(?, acoustid), metadata_processed_at = ?
		WHERE id = ?`,
		nullString(acoustID), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark track processed: %w", err)
	}
	return expectOneRow(res)
}

// Delete removes a track row. Playlist entries referencing it go with it.
func (s *TrackStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	return expectOneRow(res)
}

// CountByOwner returns how many tracks an owner has
func (s *TrackStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks WHERE owner_id = ?", ownerID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row rowScanner) (*Track, error) {
	t := &Track{}
	var sourceURL sql.NullString
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Artist, &t.Album, &t.AlbumArtist,
		&t.Genre, &t.Year, &t.TrackNumber, &t.Duration, &t.RelPath, &sourceURL,
		&t.AcoustID, &t.MetadataSource, &t.MetadataProcessedAt, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	t.SourceURL = sourceURL.String
	return t, nil
}

func scanTracks(rows *sql.Rows) ([]*Track, error) {
	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTrackNotFound
	}
	return nil
}

// NullString converts an empty string to a NULL value
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) interface{} {
	if n <= 0 {
		return nil
	}
	return n
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPlaylistNotFound is returned when a playlist does not exist for the owner
var ErrPlaylistNotFound = errors.New("playlist not found")

// Playlist is a named, ordered list of an owner's tracks
type Playlist struct {
	ID        int64
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// PlaylistStore persists playlists and their track order
type PlaylistStore struct {
	db *sql.DB
}

// NewPlaylistStore creates a PlaylistStore
func NewPlaylistStore(db *sql.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

// Get returns ownerID's playlist with the given id
func (s *PlaylistStore) Get(ctx context.Context, ownerID string, id int64) (*Playlist, error) {
	p := &Playlist{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, created_at FROM playlists WHERE id = ? AND owner_id = ?",
		id, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// GetOrCreate returns ownerID's playlist called name, creating it if needed
func (s *PlaylistStore) GetOrCreate(ctx context.Context, ownerID, name string) (*Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("playlist name cannot be empty")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO playlists (owner_id, name, created_at) VALUES (?, ?, ?)",
		ownerID, name, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}

	p := &Playlist{}
	err = s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, created_at FROM playlists WHERE owner_id = ? AND name = ?",
		ownerID, name,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist: %w", err)
	}
	return p, nil
}

// AppendTracks adds trackIDs at the end of the playlist in the given order.
// Tracks already in the playlist keep their position.
func (s *PlaylistStore) AppendTracks(ctx context.Context, playlistID int64, trackIDs []int64) error {
	if len(trackIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), 0) FROM playlist_tracks WHERE playlist_id = ?", playlistID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read playlist position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO playlist_tracks (playlist_id, track_id, position) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range trackIDs {
		res, err := stmt.ExecContext(ctx, playlistID, id, next+1)
		if err != nil {
			return fmt.Errorf("failed to add track %d to playlist: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}

	return tx.Commit()
}

// TrackIDs returns the playlist's track ids in order
func (s *PlaylistStore) TrackIDs(ctx context.Context, playlistID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT track_id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position", playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist tracks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobRecord is the persisted outcome of a finished download job
type JobRecord struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	SourceURL     string    `json:"source_url"`
	Title         string    `json:"title,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	TracksAdded   int       `json:"tracks_added"`
	TracksSkipped int       `json:"tracks_skipped"`
	CreatedAt     time.Time `json:"created_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// JobStats summarizes the job history
type JobStats struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	TracksAdded int `json:"tracks_added"`
}

// JobHistoryStore keeps terminal job outcomes after the in-memory queue
// has forgotten them
type JobHistoryStore struct {
	db *sql.DB
}

// NewJobHistoryStore creates a JobHistoryStore
func NewJobHistoryStore(db *sql.DB) *JobHistoryStore {
	return &JobHistoryStore{db: db}
}

// Record upserts a finished job
func (s *JobHistoryStore) Record(ctx context.Context, r *JobRecord) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs_history (
			id, owner_id, source_url, title, status, error_message,
			tracks_added, tracks_skipped, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			error_message = excluded.error_message,
			tracks_added = excluded.tracks_added,
			tracks_skipped = excluded.tracks_skipped,
			finished_at = excluded.finished_at`,
		r.ID, r.OwnerID, r.SourceURL, r.Title, r.Status, r.ErrorMessage,
		r.TracksAdded, r.TracksSkipped, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// List returns the most recent jobs, newest first. An empty ownerID lists all owners.
func (s *JobHistoryStore) List(ctx context.Context, ownerID string, offset, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, owner_id, source_url, title, status, error_message,
		tracks_added, tracks_skipped, created_at, finished_at FROM jobs_history`
	args := []interface{}{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY finished_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		r := &JobRecord{}
		var title, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.SourceURL, &title, &r.Status, &errMsg,
			&r.TracksAdded, &r.TracksSkipped, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job record: %w", err)
		}
		r.Title = title.String
		r.ErrorMessage = errMsg.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats aggregates the whole history
func (s *JobHistoryStore) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(tracks_added), 0)
		FROM jobs_history`,
	).Scan(&stats.Total, &stats.Completed, &stats.Failed, &stats.TracksAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return stats, nil
}

// Prune deletes history older than maxAge
func (s *JobHistoryStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs_history WHERE finished_at < ?", time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return res.RowsAffected()
}

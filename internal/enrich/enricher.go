package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/fingerprint"
	"github.com/tunevault/tunevault-go/internal/metadata"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/security"
	"github.com/tunevault/tunevault-go/internal/store"
)

// Identifier fingerprints a file. A nil match with a nil error means no
// acceptable match.
type Identifier interface {
	Match(ctx context.Context, path string) (*fingerprint.Match, error)
}

// Resolver runs the metadata cascade
type Resolver interface {
	Resolve(ctx context.Context, q metadata.Query) metadata.Resolved
}

// TrackStore is the subset of store.TrackStore the enricher uses
type TrackStore interface {
	Get(ctx context.Context, id int64) (*store.Track, error)
	UpdateMetadata(ctx context.Context, id int64, u store.MetadataUpdate) error
	MarkProcessed(ctx context.Context, id int64, acoustID string) error
	ListUnprocessed(ctx context.Context, limit int) ([]*store.Track, error)
}

// TagWriter writes merged fields back into the audio file
type TagWriter interface {
	Write(path string, t metadata.Tags) error
}

// Result describes what one enrichment run did. Deferred means the lookups
// failed transiently and the track stays unprocessed for the next backfill.
type Result struct {
	Skipped  bool
	Deferred bool
	Source   metadata.Source
	AcoustID string
	Changed  []string
}

// Enricher identifies a stored track, resolves its metadata and merges the
// result into the store and the file's tags
type Enricher struct {
	root     string
	tracks   TrackStore
	ident    Identifier
	resolver Resolver
	tags     TagWriter
	logger   *zap.Logger
}

// NewEnricher creates an Enricher. ident and tags may be nil.
func NewEnricher(root string, tracks TrackStore, ident Identifier, resolver Resolver, tags TagWriter, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		root:     root,
		tracks:   tracks,
		ident:    ident,
		resolver: resolver,
		tags:     tags,
		logger:   logger,
	}
}

// Handle adapts Enrich to the worker pool
func (e *Enricher) Handle(ctx context.Context, task Task) error {
	_, err := e.Enrich(ctx, task.TrackID)
	return err
}

// Enrich processes one track. Lookup failures degrade to fewer fields;
// only store errors are returned.
func (e *Enricher) Enrich(ctx context.Context, trackID int64) (*Result, error) {
	t, err := e.tracks.Get(ctx, trackID)
	if err != nil {
		return nil, err
	}
	logger := monitoring.LoggerWithContext(e.logger,
		zap.String("owner_id", t.OwnerID),
		zap.Int64("track_id", t.ID))

	current := currentOf(t)
	if !metadata.NeedsUpdate(current) {
		logger.Debug("Track metadata complete, skipping lookups")
		if err := e.tracks.MarkProcessed(ctx, t.ID, ""); err != nil {
			return nil, err
		}
		return &Result{Skipped: true}, nil
	}

	path, err := security.ValidateFilePath(e.root, filepath.FromSlash(t.RelPath))
	if err != nil {
		return nil, apperrors.NewFileSystemError("invalid track path "+t.RelPath, err)
	}

	q := metadata.Query{
		Path:   path,
		Title:  t.Title,
		Artist: current.Artist,
		Album:  current.Album,
	}
	var acoustID string
	var identErr error
	if e.ident != nil {
		m, err := e.ident.Match(ctx, path)
		if m != nil {
			q.RecordingID = m.RecordingID
			q.Fingerprinted = true
			q.MatchTitle = m.Title
			q.MatchArtist = m.Artist
			acoustID = m.AcoustID
		}
		identErr = err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resolved := e.resolver.Resolve(ctx, q)
	if resolved.Degraded || (resolved.Source == metadata.SourceManual && apperrors.IsRetryable(identErr)) {
		logger.Info("Metadata sources unavailable, track left for backfill",
			zap.NamedError("fingerprint_error", identErr))
		return &Result{Deferred: true}, nil
	}
	merged, changed := metadata.Merge(current, resolved)

	err = e.tracks.UpdateMetadata(ctx, t.ID, store.MetadataUpdate{
		Artist:      merged.Artist,
		Album:       merged.Album,
		AlbumArtist: merged.AlbumArtist,
		Genre:       merged.Genre,
		Year:        merged.Year,
		AcoustID:    acoustID,
		Source:      string(resolved.Source),
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 && e.tags != nil {
		err := e.tags.Write(path, metadata.Tags{
			Title:       t.Title,
			Artist:      merged.Artist,
			Album:       merged.Album,
			AlbumArtist: merged.AlbumArtist,
			Genre:       merged.Genre,
			Year:        merged.Year,
			TrackNumber: t.TrackNumber,
		})
		if err != nil && !errors.Is(err, metadata.ErrUnsupportedFormat) {
			logger.Warn("Failed to write enriched tags", zap.String("path", path), zap.Error(err))
		}
	}

	logger.Info("Track enriched",
		zap.String("source", string(resolved.Source)),
		zap.Strings("changed", changed),
		zap.Bool("fingerprinted", q.Fingerprinted))

	return &Result{Source: resolved.Source, AcoustID: acoustID, Changed: changed}, nil
}

// Backfill submits up to limit tracks that were stored but never
// enriched, for example because the daemon stopped with tasks buffered
func (e *Enricher) Backfill(ctx context.Context, pool *WorkerPool, limit int) (int, error) {
	tracks, err := e.tracks.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unprocessed tracks: %w", err)
	}
	n := 0
	for _, t := range tracks {
		if !pool.Submit(Task{TrackID: t.ID, OwnerID: t.OwnerID}) {
			break
		}
		n++
	}
	if n > 0 {
		e.logger.Info("Queued unprocessed tracks for enrichment", zap.Int("count", n))
	}
	return n, nil
}

func currentOf(t *store.Track) metadata.Current {
	return metadata.Current{
		Title:       t.Title,
		Artist:      t.Artist.String,
		Album:       t.Album.String,
		AlbumArtist: t.AlbumArtist.String,
		Genre:       t.Genre.String,
		Year:        int(t.Year.Int64),
	}
}

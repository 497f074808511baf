package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/album"
	"github.com/tunevault/tunevault-go/internal/download"
	"github.com/tunevault/tunevault-go/internal/enrich"
	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/metadata"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/security"
	"github.com/tunevault/tunevault-go/internal/source"
	"github.com/tunevault/tunevault-go/internal/splitter"
	"github.com/tunevault/tunevault-go/internal/store"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

// Share of the overall job progress given to each phase
const (
	downloadShare = 70.0
	splitShare    = 20.0
)

const unknownArtist = "Unknown Artist"

// Downloader fetches a remote source into a work directory
type Downloader interface {
	Download(ctx context.Context, rawURL, workDir string, onProgress func(source.Progress)) (*source.Result, error)
}

// Splitter cuts an album file into tracks and measures durations
type Splitter interface {
	Split(ctx context.Context, inputPath string, spans []timestamps.Span, outputDir string, onProgress func(splitter.Progress)) ([]splitter.Result, error)
	Duration(ctx context.Context, path string) (float64, error)
}

// TrackStore is the subset of store.TrackStore ingest needs
type TrackStore interface {
	IsDuplicate(ctx context.Context, ownerID, relPath string) (bool, error)
	Insert(ctx context.Context, t *store.Track) error
	Delete(ctx context.Context, id int64) error
}

// PlaylistStore is the subset of store.PlaylistStore ingest needs
type PlaylistStore interface {
	Get(ctx context.Context, ownerID string, id int64) (*store.Playlist, error)
	GetOrCreate(ctx context.Context, ownerID, name string) (*store.Playlist, error)
	AppendTracks(ctx context.Context, playlistID int64, trackIDs []int64) error
}

// TagWriter writes tags into a track file
type TagWriter interface {
	Write(path string, t metadata.Tags) error
}

// Enqueuer hands stored tracks to enrichment without blocking
type Enqueuer interface {
	Submit(task enrich.Task) bool
}

// ArtworkFetcher downloads and prepares cover art
type ArtworkFetcher func(ctx context.Context, url string) (*metadata.Artwork, error)

// HTTPArtworkFetcher fetches cover art over client, scaled to size pixels
func HTTPArtworkFetcher(client *http.Client, size int) ArtworkFetcher {
	return func(ctx context.Context, url string) (*metadata.Artwork, error) {
		return metadata.FetchArtwork(ctx, client, url, size)
	}
}

// Config holds the pipeline settings
type Config struct {
	// LibraryRoot is where stored tracks live; relative paths are under it
	LibraryRoot string
	// TempDir holds per-job work directories
	TempDir string
}

// Deps are the collaborators of a Pipeline. Tags, Artwork, Playlists
// and Enrich are optional.
type Deps struct {
	Downloader Downloader
	Splitter   Splitter
	Tracks     TrackStore
	Playlists  PlaylistStore
	Tags       TagWriter
	Artwork    ArtworkFetcher
	Enrich     Enqueuer
}

// Pipeline turns one queue job into stored tracks. It implements
// download.Processor.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewPipeline creates a Pipeline
func NewPipeline(cfg Config, deps Deps, logger *zap.Logger) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}
}

// item is one track file waiting to be stored
type item struct {
	path        string
	title       string
	artist      string
	album       string
	albumArtist string
	trackNumber int
	totalTracks int
	duration    float64
	relPath     string
}

// Process downloads the job's source, splits it when it is an album and
// stores every new track. Duplicates are skipped, not failed.
func (p *Pipeline) Process(ctx context.Context, job download.Job, report func(download.Progress)) (download.Outcome, error) {
	logger := monitoring.LoggerForJob(p.logger, job.OwnerID, job.ID)
	if report == nil {
		report = func(download.Progress) {}
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0755); err != nil {
		return download.Outcome{}, apperrors.NewFileSystemError("failed to create temp directory", err)
	}
	workDir, err := os.MkdirTemp(p.cfg.TempDir, "job-")
	if err != nil {
		return download.Outcome{}, apperrors.NewFileSystemError("failed to create work directory", err)
	}
	defer os.RemoveAll(workDir)

	report(download.Progress{Message: "Downloading"})
	res, err := p.deps.Downloader.Download(ctx, job.SourceURL, workDir, func(sp source.Progress) {
		report(download.Progress{
			Percent: sp.Percent * downloadShare / 100,
			Speed:   sp.Speed,
			ETA:     sp.ETA,
			Message: "Downloading",
		})
	})
	if err != nil {
		return download.Outcome{}, err
	}

	info := res.Info
	outcome := download.Outcome{Title: info.Title}
	logger.Info("Source downloaded",
		zap.String("title", info.Title),
		zap.Float64("duration", info.Duration),
		zap.String("file", filepath.Base(res.Path)))

	duration := info.Duration
	if duration <= 0 {
		if d, err := p.deps.Splitter.Duration(ctx, res.Path); err != nil {
			logger.Warn("Could not determine duration", zap.Error(err))
		} else {
			duration = d
		}
	}

	items, err := p.plan(ctx, job, res, duration, workDir, report, logger)
	if err != nil {
		return outcome, err
	}

	art := p.fetchArtwork(ctx, job, info, logger)

	report(download.Progress{Percent: downloadShare + splitShare, Message: "Saving tracks"})
	var stored []int64
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		id, err := p.store(ctx, job, it, art, logger)
		if err != nil {
			return outcome, err
		}
		if id == 0 {
			outcome.TracksSkipped++
		} else {
			outcome.TracksAdded++
			stored = append(stored, id)
		}
		done := float64(i+1) / float64(len(items))
		report(download.Progress{
			Percent: downloadShare + splitShare + done*(100-downloadShare-splitShare),
			Message: fmt.Sprintf("Saved %d/%d", i+1, len(items)),
		})
	}

	if len(stored) > 0 {
		p.attachPlaylist(ctx, job, stored, logger)
	}
	for _, id := range stored {
		if p.deps.Enrich != nil && !p.deps.Enrich.Submit(enrich.Task{TrackID: id, OwnerID: job.OwnerID}) {
			logger.Debug("Track left for enrichment backfill", zap.Int64("track_id", id))
		}
	}

	switch {
	case outcome.TracksAdded == 0:
		outcome.Message = "Already in library"
	case len(items) == 1:
		outcome.Message = "Added to library"
	default:
		outcome.Message = fmt.Sprintf("Added %d tracks, %d skipped", outcome.TracksAdded, outcome.TracksSkipped)
	}
	return outcome, nil
}

// plan decides between a single track and an album split and returns the
// files to store, in ascending track order
func (p *Pipeline) plan(ctx context.Context, job download.Job, res *source.Result, duration float64, workDir string, report func(download.Progress), logger *zap.Logger) ([]item, error) {
	info := res.Info
	artist := cleanArtist(info.Artist())
	ext := strings.ToLower(filepath.Ext(res.Path))

	spans := job.Splits
	if len(spans) == 0 {
		if detected := album.Detect(duration, info.Description); detected.IsAlbum && len(detected.Tracks) > 1 {
			spans = detected.Tracks
			logger.Info("Album detected", zap.Int("tracks", len(spans)))
		}
	}

	if len(spans) == 0 {
		title := timestamps.NormalizeTitle(info.Title)
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))
		}
		return []item{{
			path:     res.Path,
			title:    title,
			artist:   artist,
			duration: duration,
			relPath:  singleRelPath(job.OwnerID, artist, title, ext),
		}}, nil
	}

	albumTitle := timestamps.NormalizeTitle(info.Title)
	var total *float64
	if duration > 0 {
		spans = clampSpans(spans, duration)
		total = &duration
	}
	spans = timestamps.Complete(spans, total)
	report(download.Progress{Percent: downloadShare, Message: fmt.Sprintf("Splitting %d tracks", len(spans))})

	results, err := p.deps.Splitter.Split(ctx, res.Path, spans, filepath.Join(workDir, "tracks"), func(sp splitter.Progress) {
		report(download.Progress{
			Percent: downloadShare + sp.Percent*splitShare/100,
			Message: fmt.Sprintf("Splitting %d/%d", sp.Current, sp.Total),
		})
	})
	if err != nil {
		return nil, err
	}
	monitoring.RecordSplit(len(results))

	items := make([]item, 0, len(results))
	for _, r := range results {
		d := 0.0
		if r.End != nil {
			d = *r.End - r.Start
		} else if duration > 0 {
			d = duration - r.Start
		}
		items = append(items, item{
			path:        r.Path,
			title:       r.Title,
			artist:      artist,
			album:       albumTitle,
			albumArtist: artist,
			trackNumber: r.TrackNumber,
			totalTracks: len(results),
			duration:    d,
			relPath:     albumRelPath(job.OwnerID, artist, albumTitle, filepath.Base(r.Path)),
		})
	}
	return items, nil
}

// store runs one item through the duplicate guard and persists it. It
// returns 0 for a skipped duplicate.
func (p *Pipeline) store(ctx context.Context, job download.Job, it item, art *metadata.Artwork, logger *zap.Logger) (int64, error) {
	dup, err := p.deps.Tracks.IsDuplicate(ctx, job.OwnerID, it.relPath)
	if err != nil {
		return 0, err
	}
	if dup {
		logger.Info("Duplicate track skipped", zap.String("rel_path", it.relPath))
		monitoring.RecordTrackIngested("duplicate")
		os.Remove(it.path)
		return 0, nil
	}

	dest, err := security.ValidateFilePath(p.cfg.LibraryRoot, filepath.FromSlash(it.relPath))
	if err != nil {
		return 0, apperrors.NewFileSystemError("invalid library path "+it.relPath, err)
	}

	if p.deps.Tags != nil {
		tags := metadata.Tags{
			Title:       it.title,
			Artist:      it.artist,
			Album:       it.album,
			AlbumArtist: it.albumArtist,
			TrackNumber: it.trackNumber,
			TotalTracks: it.totalTracks,
			Comment:     job.SourceURL,
			Artwork:     art,
		}
		if err := p.deps.Tags.Write(it.path, tags); err != nil && !errors.Is(err, metadata.ErrUnsupportedFormat) {
			logger.Warn("Failed to write tags", zap.String("file", filepath.Base(it.path)), zap.Error(err))
		}
	}

	// Stage next to the destination so a row lost to the unique index
	// never clobbers the file an existing row points to.
	staged := dest + ".incoming-" + job.ID
	if err := moveFile(it.path, staged); err != nil {
		return 0, apperrors.NewFileSystemError("failed to move track into library", err)
	}

	track := &store.Track{
		OwnerID:     job.OwnerID,
		Title:       it.title,
		Artist:      store.NullString(it.artist),
		Album:       store.NullString(it.album),
		AlbumArtist: store.NullString(it.albumArtist),
		TrackNumber: it.trackNumber,
		Duration:    it.duration,
		RelPath:     it.relPath,
		SourceURL:   job.SourceURL,
	}
	if err := p.deps.Tracks.Insert(ctx, track); err != nil {
		os.Remove(staged)
		if errors.Is(err, store.ErrDuplicateTrack) {
			logger.Info("Duplicate track skipped", zap.String("rel_path", it.relPath))
			monitoring.RecordTrackIngested("duplicate")
			return 0, nil
		}
		return 0, err
	}

	if err := os.Rename(staged, dest); err != nil {
		os.Remove(staged)
		if delErr := p.deps.Tracks.Delete(context.WithoutCancel(ctx), track.ID); delErr != nil {
			logger.Error("Failed to roll back track row", zap.Int64("track_id", track.ID), zap.Error(delErr))
		}
		return 0, apperrors.NewFileSystemError("failed to move track into library", err)
	}

	monitoring.RecordTrackIngested("stored")
	logger.Debug("Track stored", zap.Int64("track_id", track.ID), zap.String("rel_path", it.relPath))
	return track.ID, nil
}

func (p *Pipeline) fetchArtwork(ctx context.Context, job download.Job, info source.Info, logger *zap.Logger) *metadata.Artwork {
	if p.deps.Artwork == nil || p.deps.Tags == nil {
		return nil
	}
	url := job.ThumbnailURL
	if url == "" {
		url = info.Thumbnail
	}
	if url == "" {
		return nil
	}
	art, err := p.deps.Artwork(ctx, url)
	if err != nil {
		logger.Warn("Failed to fetch artwork", zap.String("url", url), zap.Error(err))
		return nil
	}
	return art
}

// attachPlaylist appends stored tracks to the job's target playlist. A
// missing playlist is logged; the tracks stay in the library.
func (p *Pipeline) attachPlaylist(ctx context.Context, job download.Job, trackIDs []int64, logger *zap.Logger) {
	if p.deps.Playlists == nil || (job.PlaylistID == 0 && strings.TrimSpace(job.PlaylistName) == "") {
		return
	}

	var (
		pl  *store.Playlist
		err error
	)
	if job.PlaylistID > 0 {
		pl, err = p.deps.Playlists.Get(ctx, job.OwnerID, job.PlaylistID)
	} else {
		pl, err = p.deps.Playlists.GetOrCreate(ctx, job.OwnerID, job.PlaylistName)
	}
	if err != nil {
		logger.Warn("Target playlist unavailable",
			zap.Int64("playlist_id", job.PlaylistID),
			zap.String("playlist_name", job.PlaylistName),
			zap.Error(err))
		return
	}

	if err := p.deps.Playlists.AppendTracks(ctx, pl.ID, trackIDs); err != nil {
		logger.Warn("Failed to add tracks to playlist", zap.Int64("playlist_id", pl.ID), zap.Error(err))
		return
	}
	logger.Info("Tracks added to playlist", zap.String("playlist", pl.Name), zap.Int("count", len(trackIDs)))
}

// clampSpans drops spans that start at or past the end and fills the
// last open end with the total duration
func clampSpans(spans []timestamps.Span, total float64) []timestamps.Span {
	out := make([]timestamps.Span, 0, len(spans))
	for _, s := range spans {
		if s.Start >= total {
			continue
		}
		if s.End != nil && *s.End > total {
			end := total
			s.End = &end
		}
		out = append(out, s)
	}
	return out
}

// cleanArtist strips the suffix of auto-generated artist channels
func cleanArtist(name string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), " - Topic"))
}

func folder(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	return security.SanitizeFilename(name)
}

// singleRelPath is <owner>/<artist>/<title>.<ext>
func singleRelPath(owner, artist, title, ext string) string {
	return path.Join(
		security.SanitizeFilename(owner),
		folder(artist, unknownArtist),
		security.SanitizeFilename(title)+ext,
	)
}

// albumRelPath is <owner>/<artist>/<album>/<file>
func albumRelPath(owner, artist, albumTitle, file string) string {
	return path.Join(
		security.SanitizeFilename(owner),
		folder(artist, unknownArtist),
		folder(albumTitle, "Unknown Album"),
		file,
	)
}

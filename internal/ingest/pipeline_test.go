package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tunevault/tunevault-go/internal/download"
	"github.com/tunevault/tunevault-go/internal/enrich"
	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/metadata"
	"github.com/tunevault/tunevault-go/internal/security"
	"github.com/tunevault/tunevault-go/internal/source"
	"github.com/tunevault/tunevault-go/internal/splitter"
	"github.com/tunevault/tunevault-go/internal/store"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

const albumDescription = `Full album
0:00 Intro
4:10 Open Road
9:45 Night Drive
`

type fakeDownloader struct {
	info source.Info
	err  error
	urls []string
}

func (f *fakeDownloader) Download(ctx context.Context, rawURL, workDir string, onProgress func(source.Progress)) (*source.Result, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	onProgress(source.Progress{Percent: 50, Speed: 1 << 20})
	onProgress(source.Progress{Percent: 100})
	path := filepath.Join(workDir, "abc123.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return nil, err
	}
	return &source.Result{Path: path, Info: f.info}, nil
}

type fakeSplitter struct {
	length    float64
	lengthErr error
	failAt    int
	spans     []timestamps.Span
	measured  int
}

func (f *fakeSplitter) Duration(ctx context.Context, path string) (float64, error) {
	f.measured++
	return f.length, f.lengthErr
}

func (f *fakeSplitter) Split(ctx context.Context, inputPath string, spans []timestamps.Span, outputDir string, onProgress func(splitter.Progress)) ([]splitter.Result, error) {
	f.spans = spans
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	var out []splitter.Result
	for i, s := range spans {
		if f.failAt == i+1 {
			return out, apperrors.NewSplitError(s.Title, errors.New("ffmpeg exited 1"))
		}
		name := fmt.Sprintf("%02d - %s.mp3", i+1, security.SanitizeFilename(s.Title))
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte(s.Title), 0644); err != nil {
			return nil, err
		}
		out = append(out, splitter.Result{Path: path, Title: s.Title, Start: s.Start, End: s.End, TrackNumber: i + 1})
		onProgress(splitter.Progress{Current: i + 1, Total: len(spans), Track: s.Title, Percent: float64(i+1) / float64(len(spans)) * 100})
	}
	return out, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enrich.Task
}

func (f *fakeEnqueuer) Submit(task enrich.Task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return true
}

type recordingTags struct {
	writes []metadata.Tags
}

func (r *recordingTags) Write(path string, t metadata.Tags) error {
	r.writes = append(r.writes, t)
	return nil
}

type fixture struct {
	root      string
	tracks    *store.TrackStore
	playlists *store.PlaylistStore
	dl        *fakeDownloader
	split     *fakeSplitter
	enqueued  *fakeEnqueuer
	tags      *recordingTags
	pipeline  *Pipeline
}

func newFixture(t *testing.T, info source.Info) *fixture {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		root:      t.TempDir(),
		tracks:    store.NewTrackStore(db),
		playlists: store.NewPlaylistStore(db),
		dl:        &fakeDownloader{info: info},
		split:     &fakeSplitter{},
		enqueued:  &fakeEnqueuer{},
		tags:      &recordingTags{},
	}
	f.pipeline = NewPipeline(Config{LibraryRoot: f.root, TempDir: t.TempDir()}, Deps{
		Downloader: f.dl,
		Splitter:   f.split,
		Tracks:     f.tracks,
		Playlists:  f.playlists,
		Tags:       f.tags,
		Artwork: func(ctx context.Context, url string) (*metadata.Artwork, error) {
			return &metadata.Artwork{Data: []byte("jpeg"), MIME: "image/jpeg"}, nil
		},
		Enrich: f.enqueued,
	}, nil)
	return f
}

func (f *fixture) run(t *testing.T, job download.Job) (download.Outcome, []download.Progress) {
	t.Helper()
	var reports []download.Progress
	if job.OwnerID == "" {
		job.OwnerID = "alice"
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	out, err := f.pipeline.Process(context.Background(), job, func(p download.Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return out, reports
}

func TestProcessSingleTrack(t *testing.T) {
	f := newFixture(t, source.Info{
		Title:     "Lonely Road",
		Uploader:  "The Wanderers - Topic",
		Duration:  245,
		Thumbnail: "https://img.example/thumb.webp",
	})

	out, reports := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=1", PlaylistName: "Road Trip"})
	if out.TracksAdded != 1 || out.TracksSkipped != 0 || out.Title != "Lonely Road" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	rel := "alice/The Wanderers/Lonely Road.mp3"
	tr, err := f.tracks.GetByPath(context.Background(), "alice", rel)
	if err != nil {
		t.Fatalf("track not stored at %s: %v", rel, err)
	}
	if tr.Artist.String != "The Wanderers" || tr.Album.Valid || tr.Duration != 245 {
		t.Errorf("unexpected track %+v", tr)
	}
	if _, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel))); err != nil {
		t.Errorf("file not moved into library: %v", err)
	}
	if f.split.measured != 0 {
		t.Error("duration should not be measured when the source reports it")
	}

	if len(f.enqueued.tasks) != 1 || f.enqueued.tasks[0].TrackID != tr.ID {
		t.Errorf("expected track enqueued for enrichment, got %+v", f.enqueued.tasks)
	}

	if len(f.tags.writes) != 1 || f.tags.writes[0].Artwork == nil || f.tags.writes[0].Comment != "https://video.example/watch?v=1" {
		t.Errorf("unexpected tag writes %+v", f.tags.writes)
	}

	pl, err := f.playlists.GetOrCreate(context.Background(), "alice", "Road Trip")
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := f.playlists.TrackIDs(context.Background(), pl.ID)
	if len(ids) != 1 || ids[0] != tr.ID {
		t.Errorf("expected track in playlist, got %v", ids)
	}

	for _, r := range reports {
		if r.Percent < 0 || r.Percent > 100 {
			t.Errorf("progress out of range: %v", r.Percent)
		}
	}
	if last := reports[len(reports)-1]; last.Percent != 100 {
		t.Errorf("expected final progress 100, got %v", last.Percent)
	}
}

func TestProcessDetectsAlbum(t *testing.T) {
	f := newFixture(t, source.Info{
		Title:       "Highway Sessions",
		Uploader:    "The Wanderers",
		Description: albumDescription,
		Duration:    45 * 60,
	})

	pl, err := f.playlists.GetOrCreate(context.Background(), "alice", "Favourites")
	if err != nil {
		t.Fatal(err)
	}

	out, _ := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=2", PlaylistID: pl.ID})
	if out.TracksAdded != 3 {
		t.Fatalf("expected 3 tracks, got %+v", out)
	}
	if len(f.split.spans) != 3 || f.split.spans[1].Title != "Open Road" {
		t.Fatalf("unexpected spans %+v", f.split.spans)
	}

	tracks, err := f.tracks.ListByOwner(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	byNumber := map[int]*store.Track{}
	for _, tr := range tracks {
		byNumber[tr.TrackNumber] = tr
	}
	second := byNumber[2]
	if second == nil || second.Title != "Open Road" {
		t.Fatalf("track 2 missing: %+v", tracks)
	}
	if second.Album.String != "Highway Sessions" || second.AlbumArtist.String != "The Wanderers" {
		t.Errorf("album fields not set: %+v", second)
	}
	if second.RelPath != "alice/The Wanderers/Highway Sessions/02 - Open Road.mp3" {
		t.Errorf("unexpected rel path %q", second.RelPath)
	}
	if second.Duration != 335 {
		t.Errorf("expected duration 335, got %v", second.Duration)
	}
	if last := byNumber[3]; last.Duration != 45*60-585 {
		t.Errorf("expected last track to run to the end, got %v", last.Duration)
	}

	ids, _ := f.playlists.TrackIDs(context.Background(), pl.ID)
	want := []int64{byNumber[1].ID, byNumber[2].ID, byNumber[3].ID}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("playlist order %v, want %v", ids, want)
	}

	for i, w := range f.tags.writes {
		if w.TrackNumber != i+1 || w.TotalTracks != 3 || w.Album != "Highway Sessions" {
			t.Errorf("unexpected tags for track %d: %+v", i+1, w)
		}
	}
}

func TestProcessShortVideoWithTimestampsIsSingle(t *testing.T) {
	f := newFixture(t, source.Info{
		Title:       "Live at the pub",
		Uploader:    "Band",
		Description: albumDescription,
		Duration:    10 * 60,
	})

	out, _ := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=3"})
	if out.TracksAdded != 1 || f.split.spans != nil {
		t.Errorf("expected a single track without split, got %+v", out)
	}
}

func TestProcessExplicitSplits(t *testing.T) {
	f := newFixture(t, source.Info{Title: "Mix", Uploader: "DJ", Duration: 600})

	out, _ := f.run(t, download.Job{
		SourceURL: "https://video.example/watch?v=4",
		Splits: []timestamps.Span{
			{Start: 0, Title: "First"},
			{Start: 300, Title: "Second"},
		},
	})
	if out.TracksAdded != 2 {
		t.Fatalf("expected 2 tracks, got %+v", out)
	}
	if f.split.spans[0].Title != "First" {
		t.Errorf("explicit splits not used: %+v", f.split.spans)
	}
	wantEnds := []float64{300, 600}
	for i, sp := range f.split.spans {
		if sp.End == nil || *sp.End != wantEnds[i] {
			t.Errorf("span %d %q end = %v, want %v", i, sp.Title, sp.End, wantEnds[i])
		}
	}
}

func TestProcessExplicitSplitsFillsTitles(t *testing.T) {
	f := newFixture(t, source.Info{Title: "Mix", Uploader: "DJ", Duration: 600})

	out, _ := f.run(t, download.Job{
		SourceURL: "https://video.example/watch?v=5",
		Splits: []timestamps.Span{
			{Start: 0, Title: "  - Opening -  "},
			{Start: 120},
			{Start: 400, Title: "Closing"},
		},
	})
	if out.TracksAdded != 3 {
		t.Fatalf("expected 3 tracks, got %+v", out)
	}
	want := []string{"Opening", "Track 02", "Closing"}
	for i, sp := range f.split.spans {
		if sp.Title != want[i] {
			t.Errorf("span %d title = %q, want %q", i, sp.Title, want[i])
		}
	}
	if end := f.split.spans[1].End; end == nil || *end != 400 {
		t.Errorf("middle span end = %v, want 400", end)
	}
}

// guardMiss answers "not a duplicate" for every path, as a concurrent
// insert between the check and the write would.
type guardMiss struct{ *store.TrackStore }

func (guardMiss) IsDuplicate(ctx context.Context, ownerID, relPath string) (bool, error) {
	return false, nil
}

func TestProcessUniqueIndexKeepsExistingFile(t *testing.T) {
	f := newFixture(t, source.Info{Title: "Lonely Road", Uploader: "The Wanderers", Duration: 245})
	f.pipeline = NewPipeline(Config{LibraryRoot: f.root, TempDir: t.TempDir()}, Deps{
		Downloader: f.dl,
		Splitter:   f.split,
		Tracks:     guardMiss{f.tracks},
		Playlists:  f.playlists,
		Enrich:     f.enqueued,
	}, nil)

	rel := "alice/The Wanderers/Lonely Road.mp3"
	existing := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(existing), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.tracks.Insert(context.Background(), &store.Track{OwnerID: "alice", Title: "Lonely Road", RelPath: rel}); err != nil {
		t.Fatal(err)
	}

	out, _ := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=9"})
	if out.TracksAdded != 0 || out.TracksSkipped != 1 {
		t.Fatalf("expected the race to count as a skip, got %+v", out)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("existing library file overwritten: %q", data)
	}
	leftovers, _ := filepath.Glob(existing + ".incoming-*")
	if len(leftovers) != 0 {
		t.Errorf("staged files left behind: %v", leftovers)
	}
}

func TestProcessSkipsDuplicatesAndContinues(t *testing.T) {
	f := newFixture(t, source.Info{
		Title:       "Highway Sessions",
		Uploader:    "The Wanderers",
		Description: albumDescription,
		Duration:    45 * 60,
	})

	err := f.tracks.Insert(context.Background(), &store.Track{
		OwnerID: "alice",
		Title:   "Open Road",
		RelPath: "alice/The Wanderers/Highway Sessions/02 - Open Road.mp3",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, _ := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=2"})
	if out.TracksAdded != 2 || out.TracksSkipped != 1 {
		t.Fatalf("expected 2 added and 1 skipped, got %+v", out)
	}
	if len(f.enqueued.tasks) != 2 {
		t.Errorf("expected only new tracks enqueued, got %d", len(f.enqueued.tasks))
	}
	if n, _ := f.tracks.CountByOwner(context.Background(), "alice"); n != 3 {
		t.Errorf("expected 3 tracks in total, got %d", n)
	}

	// Another owner gets their own copy.
	out, _ = f.run(t, download.Job{OwnerID: "bob", SourceURL: "https://video.example/watch?v=2"})
	if out.TracksAdded != 3 {
		t.Errorf("expected bob to get all 3 tracks, got %+v", out)
	}

	out, _ = f.run(t, download.Job{SourceURL: "https://video.example/watch?v=2"})
	if out.TracksAdded != 0 || out.TracksSkipped != 3 || out.Message != "Already in library" {
		t.Errorf("expected everything skipped on re-ingest, got %+v", out)
	}
}

func TestProcessMeasuresMissingDuration(t *testing.T) {
	f := newFixture(t, source.Info{
		Title:       "Highway Sessions",
		Uploader:    "The Wanderers",
		Description: albumDescription,
	})
	f.split.length = 45 * 60

	out, _ := f.run(t, download.Job{SourceURL: "https://video.example/watch?v=2"})
	if f.split.measured != 1 {
		t.Errorf("expected one duration lookup, got %d", f.split.measured)
	}
	if out.TracksAdded != 3 {
		t.Errorf("expected album split after measuring, got %+v", out)
	}
}

func TestProcessFailures(t *testing.T) {
	t.Run("download", func(t *testing.T) {
		f := newFixture(t, source.Info{})
		f.dl.err = apperrors.NewSourceError("download failed: HTTP Error 404", nil)

		_, err := f.pipeline.Process(context.Background(), download.Job{OwnerID: "alice", SourceURL: "https://x.example"}, nil)
		if apperrors.GetErrorType(err) != apperrors.ErrTypeSource {
			t.Errorf("expected source error, got %v", err)
		}
	})

	t.Run("split", func(t *testing.T) {
		f := newFixture(t, source.Info{
			Title:       "Highway Sessions",
			Uploader:    "The Wanderers",
			Description: albumDescription,
			Duration:    45 * 60,
		})
		f.split.failAt = 2

		_, err := f.pipeline.Process(context.Background(), download.Job{OwnerID: "alice", SourceURL: "https://x.example"}, nil)
		if apperrors.GetErrorType(err) != apperrors.ErrTypeSplit {
			t.Errorf("expected split error, got %v", err)
		}
		if n, _ := f.tracks.CountByOwner(context.Background(), "alice"); n != 0 {
			t.Errorf("expected nothing stored after a split failure, got %d", n)
		}
	})
}

func TestRelPaths(t *testing.T) {
	if got := singleRelPath("alice", "", "Song", ".mp3"); got != "alice/Unknown Artist/Song.mp3" {
		t.Errorf("singleRelPath = %q", got)
	}
	if got := albumRelPath("alice", "AC/DC", "", "01 - Intro.mp3"); got != "alice/AC_DC/Unknown Album/01 - Intro.mp3" {
		t.Errorf("albumRelPath = %q", got)
	}
}

func TestClampSpans(t *testing.T) {
	end := 700.0
	spans := []timestamps.Span{
		{Start: 0, Title: "a"},
		{Start: 500, End: &end, Title: "b"},
		{Start: 650, Title: "c"},
	}
	got := clampSpans(spans, 600)
	if len(got) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(got))
	}
	if *got[1].End != 600 {
		t.Errorf("expected end clamped to 600, got %v", *got[1].End)
	}
}

package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestResolver(t *testing.T, srv *mbServer, lfm *LastFM, rec *Recognizer) *Resolver {
	t.Helper()
	return NewResolver(srv.client(t), lfm, rec, nil)
}

func TestResolveFingerprintUsesRecordingLookup(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, NewRecognizer(songrecStub(t, shazamJSON), time.Second))

	got := r.Resolve(context.Background(), Query{
		Path:          "/music/a.mp3",
		Title:         "Track 01",
		RecordingID:   "rec-1",
		Fingerprinted: true,
	})
	if got.Source != SourceFingerprint {
		t.Errorf("source = %s", got.Source)
	}
	if got.Title != "Paranoid Android" || got.Album != "OK Computer" || got.Year != 1997 {
		t.Errorf("got %+v", got)
	}
	if len(srv.queries) != 0 {
		t.Errorf("text search should not run, got %v", srv.queries)
	}
}

func TestResolveFingerprintFallsBackToMatchNames(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, NewRecognizer(songrecStub(t, shazamJSON), time.Second))

	got := r.Resolve(context.Background(), Query{
		Path:          "/music/a.mp3",
		RecordingID:   "missing",
		Fingerprinted: true,
		MatchTitle:    "Airbag",
		MatchArtist:   "Radiohead",
	})
	if got.Source != SourceFingerprint || got.Title != "Airbag" || got.Artist != "Radiohead" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveRecognizerBeforeTextSearch(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, NewRecognizer(songrecStub(t, shazamJSON), time.Second))

	got := r.Resolve(context.Background(), Query{Path: "/music/a.mp3", Title: "Unknown"})
	if got.Source != SourceShazam || got.Title != "Around the World" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveTextSearchWithLastFMGapFill(t *testing.T) {
	srv := newMBServer(t)
	srv.search = func(string) string {
		return `{"recordings":[{"id":"rec-2","title":"Halo","artist-credit":[{"name":"Beyoncé"}],
			"releases":[{"title":"I Am... Sasha Fierce","status":"Official","date":"2008-11-12"}]}]}`
	}
	lfmSrv := lastfmServer(t, `{"track":{"name":"Halo","toptags":{"tag":[{"name":"rnb"}]}}}`)
	lfm := NewLastFM(LastFMConfig{APIKey: "lfm", BaseURL: lfmSrv.URL, RateLimit: 100}, lfmSrv.Client(), nil)
	r := newTestResolver(t, srv, lfm, nil)

	got := r.Resolve(context.Background(), Query{Title: "Halo", Artist: "Beyonce"})
	if got.Source != SourceMusicBrainz {
		t.Errorf("source = %s", got.Source)
	}
	if got.Artist != "Beyoncé" || got.Album != "I Am... Sasha Fierce" || got.Year != 2008 {
		t.Errorf("got %+v", got)
	}
	if got.Genre != "Rnb" {
		t.Errorf("genre = %q, want Last.fm gap fill", got.Genre)
	}
}

func TestResolveByTextLoosensQuery(t *testing.T) {
	srv := newMBServer(t)
	srv.search = func(q string) string {
		if strings.Contains(q, "artist:") {
			return `{"recordings":[]}`
		}
		return `{"recordings":[{"id":"rec-3","title":"Windowlicker","artist-credit":[{"name":"Aphex Twin"}]}]}`
	}
	r := newTestResolver(t, srv, nil, nil)

	got := r.ResolveByText(context.Background(), "Aphex Twin", "Windowlicker", "Windowlicker EP")
	if got == nil || got.RecordingID != "rec-3" || got.Source != SourceMusicBrainz {
		t.Fatalf("got %+v", got)
	}
	if len(srv.queries) != 3 {
		t.Fatalf("queries = %v", srv.queries)
	}
	if !strings.Contains(srv.queries[0], "release:") || strings.Contains(srv.queries[1], "release:") || strings.Contains(srv.queries[2], "artist:") {
		t.Errorf("unexpected query order %v", srv.queries)
	}
}

func TestResolvePassThrough(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, nil)

	got := r.Resolve(context.Background(), Query{Title: "Demo 3", Artist: "My Band", Album: "Tapes"})
	want := Resolved{Title: "Demo 3", Artist: "My Band", Album: "Tapes", AlbumArtist: "My Band", Source: SourceManual}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolvePassThroughFilledByLastFM(t *testing.T) {
	srv := newMBServer(t)
	lfmSrv := lastfmServer(t, `{"track":{"name":"Demo 3","album":{"title":"Tapes"},"toptags":{"tag":[{"name":"indie"}]}}}`)
	lfm := NewLastFM(LastFMConfig{APIKey: "lfm", BaseURL: lfmSrv.URL, RateLimit: 100}, lfmSrv.Client(), nil)
	r := newTestResolver(t, srv, lfm, nil)

	got := r.Resolve(context.Background(), Query{Title: "Demo 3", Artist: "My Band"})
	if got.Source != SourceLastFM || got.Album != "Tapes" || got.Genre != "Indie" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveDegradedWhenMusicBrainzUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	mb := NewMusicBrainz(MusicBrainzConfig{BaseURL: down.URL, RateLimit: 1000}, down.Client(), nil)
	mb.client.Retry.MaxRetries = 0
	r := NewResolver(mb, nil, nil, nil)

	got := r.Resolve(context.Background(), Query{Title: "Demo 3", Artist: "My Band"})
	if got.Source != SourceManual || !got.Degraded {
		t.Errorf("expected degraded pass-through, got %+v", got)
	}
}

func TestResolveNoMatchIsNotDegraded(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, nil)

	got := r.Resolve(context.Background(), Query{Title: "Demo 3", Artist: "My Band"})
	if got.Degraded {
		t.Errorf("an empty search result is a verdict, got %+v", got)
	}
}

func TestResolveMissingRecordingIsNotDegraded(t *testing.T) {
	srv := newMBServer(t)
	r := newTestResolver(t, srv, nil, nil)

	got := r.Resolve(context.Background(), Query{Title: "Demo 3", RecordingID: "gone", Fingerprinted: true})
	if got.Degraded {
		t.Errorf("a 404 recording is a verdict, got %+v", got)
	}
}

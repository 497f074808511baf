package metadata

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/monitoring"
)

// Resolver runs the metadata cascade: recording lookup for fingerprint
// matches, audio recognition, MusicBrainz text search, then a Last.fm gap
// fill. The first strategy returning data wins.
type Resolver struct {
	mb         *MusicBrainz
	lastfm     *LastFM
	strategies []Strategy
	logger     *zap.Logger
}

// NewResolver builds the cascade. lastfm and recognizer may be nil.
func NewResolver(mb *MusicBrainz, lastfm *LastFM, recognizer *Recognizer, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{mb: mb, lastfm: lastfm, logger: logger}
	r.strategies = []Strategy{
		recordingStrategy{mb: mb},
		recognizerStrategy{rec: recognizer},
		textStrategy{r: r},
	}
	return r
}

// ResolveByRecordingID looks up a canonical recording. Failures yield nil.
func (r *Resolver) ResolveByRecordingID(ctx context.Context, id string) *Resolved {
	if r.mb == nil || id == "" {
		return nil
	}
	res, err := r.mb.LookupRecording(ctx, id)
	if err != nil {
		r.logger.Warn("Recording lookup failed", zap.String("recording_id", id), zap.Error(err))
		return nil
	}
	if res != nil {
		res.Source = SourceMusicBrainz
	}
	return res
}

// ResolveByText searches MusicBrainz with progressively looser queries:
// artist+title+album, artist+title, then title alone.
func (r *Resolver) ResolveByText(ctx context.Context, artist, title, album string) *Resolved {
	res, _ := r.searchText(ctx, artist, title, album)
	return res
}

// searchText is ResolveByText that also reports the last failed attempt
// when no query produced a result.
func (r *Resolver) searchText(ctx context.Context, artist, title, album string) (*Resolved, error) {
	if r.mb == nil {
		return nil, nil
	}
	artist, album = usable(artist), usable(album)
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}

	type attempt struct{ artist, album string }
	var attempts []attempt
	if artist != "" && album != "" {
		attempts = append(attempts, attempt{artist, album})
	}
	if artist != "" {
		attempts = append(attempts, attempt{artist, ""})
	}
	attempts = append(attempts, attempt{"", ""})

	var lastErr error
	for _, a := range attempts {
		res, err := r.mb.Search(ctx, a.artist, title, a.album)
		if err != nil {
			r.logger.Warn("MusicBrainz search failed",
				zap.String("artist", a.artist),
				zap.String("title", title),
				zap.Error(err))
			lastErr = err
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if res != nil {
			res.Source = SourceMusicBrainz
			return res, nil
		}
	}
	return nil, lastErr
}

// Resolve runs the whole cascade for q. It always returns a value: when no
// source knows the track the input fields are passed through with Source
// manual.
func (r *Resolver) Resolve(ctx context.Context, q Query) Resolved {
	var primary *Resolved
	var transientErr error
	for _, s := range r.strategies {
		res, err := s.Resolve(ctx, q)
		if err != nil {
			r.logger.Debug("Metadata strategy failed",
				zap.String("strategy", string(s.Name())),
				zap.String("path", q.Path),
				zap.Error(err))
			if isTransient(err) {
				transientErr = err
			}
			continue
		}
		if res.HasData() {
			res.Source = s.Name()
			primary = res
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	out := passThrough(q)
	if primary != nil {
		out = *primary
	}

	if needsGapFill(out) && r.lastfm.Enabled() && ctx.Err() == nil {
		artist, title := usable(out.Artist), strings.TrimSpace(out.Title)
		info, err := r.lastfm.TrackInfo(ctx, artist, title)
		if err != nil {
			r.logger.Debug("Last.fm lookup failed", zap.String("artist", artist), zap.String("title", title), zap.Error(err))
			if isTransient(err) {
				transientErr = err
			}
		} else if fillGaps(&out, info) && primary == nil {
			out.Source = SourceLastFM
		}
	}

	if out.Source == SourceManual && (transientErr != nil || ctx.Err() != nil) {
		out.Degraded = true
		monitoring.RecordEnrichment("degraded")
		return out
	}
	monitoring.RecordEnrichment(string(out.Source))
	return out
}

// isTransient reports whether a lookup error says nothing about the track
// itself: the service was unreachable, overloaded or the call timed out.
func isTransient(err error) bool {
	return apperrors.IsRetryable(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func passThrough(q Query) Resolved {
	return Resolved{
		Title:       q.Title,
		Artist:      q.Artist,
		Album:       q.Album,
		AlbumArtist: q.Artist,
		Source:      SourceManual,
	}
}

func needsGapFill(r Resolved) bool {
	return r.Genre == "" || r.Year == 0 || IsPlaceholder(r.Album)
}

// fillGaps copies genre, year and album from info where out lacks them.
func fillGaps(out *Resolved, info *Resolved) bool {
	if info == nil {
		return false
	}
	filled := false
	if out.Genre == "" && info.Genre != "" {
		out.Genre = info.Genre
		filled = true
	}
	if out.Year == 0 && info.Year > 0 {
		out.Year = info.Year
		filled = true
	}
	if IsPlaceholder(out.Album) && !IsPlaceholder(info.Album) {
		out.Album = info.Album
		filled = true
	}
	return filled
}

func usable(s string) string {
	if IsPlaceholder(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

type recordingStrategy struct{ mb *MusicBrainz }

func (recordingStrategy) Name() Source { return SourceFingerprint }

// Resolve looks up the fingerprint's recording. If MusicBrainz has nothing
// the fingerprint match's own title and artist are still used.
func (s recordingStrategy) Resolve(ctx context.Context, q Query) (*Resolved, error) {
	if !q.Fingerprinted {
		return nil, nil
	}
	var res *Resolved
	var err error
	if s.mb != nil && q.RecordingID != "" {
		res, err = s.mb.LookupRecording(ctx, q.RecordingID)
	}
	if res == nil && q.MatchTitle != "" {
		res = &Resolved{
			Title:       q.MatchTitle,
			Artist:      q.MatchArtist,
			RecordingID: q.RecordingID,
		}
		err = nil
	}
	return res, err
}

type recognizerStrategy struct{ rec *Recognizer }

func (recognizerStrategy) Name() Source { return SourceShazam }

func (s recognizerStrategy) Resolve(ctx context.Context, q Query) (*Resolved, error) {
	if q.Fingerprinted || q.Path == "" || !s.rec.Enabled() {
		return nil, nil
	}
	return s.rec.Recognize(ctx, q.Path)
}

type textStrategy struct{ r *Resolver }

func (textStrategy) Name() Source { return SourceMusicBrainz }

func (s textStrategy) Resolve(ctx context.Context, q Query) (*Resolved, error) {
	return s.r.searchText(ctx, q.Artist, q.Title, q.Album)
}

package metadata

import "context"

// Source identifies which cascade stage supplied resolved metadata.
type Source string

const (
	SourceFingerprint Source = "fingerprint"
	SourceShazam      Source = "shazam"
	SourceMusicBrainz Source = "musicbrainz"
	SourceLastFM      Source = "lastfm"
	SourceManual      Source = "manual"
)

// Resolved is the outcome of the metadata cascade. Empty strings and zero
// ints mean the field is unknown. Degraded marks a pass-through result
// produced because lookups failed transiently rather than finding nothing.
type Resolved struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtist string `json:"album_artist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Year        int    `json:"year,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	Source      Source `json:"source"`
	Degraded    bool   `json:"degraded,omitempty"`
}

// HasData reports whether any descriptive field is set
func (r *Resolved) HasData() bool {
	if r == nil {
		return false
	}
	return r.Title != "" || r.Artist != "" || r.Album != "" || r.Genre != "" || r.Year > 0
}

// Query is the input of a full cascade run for one file.
type Query struct {
	Path   string
	Title  string
	Artist string
	Album  string
	// RecordingID comes from a fingerprint match when one was accepted.
	RecordingID string
	// Fingerprinted is true when the fingerprint stage produced a match,
	// which disables the recognition fallback.
	Fingerprinted bool
	// MatchTitle and MatchArtist carry the fingerprint match's own names.
	MatchTitle  string
	MatchArtist string
}

// Current is the stored state of a track's descriptive fields.
type Current struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        int
}

// Strategy is one stage of the resolution cascade.
type Strategy interface {
	Name() Source
	Resolve(ctx context.Context, q Query) (*Resolved, error)
}

package album

import (
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

// MinAlbumDuration is the duration, in seconds, an asset must exceed to be treated as an album.
const MinAlbumDuration = 30 * 60

// Result is the album decision for one downloaded asset.
type Result struct {
	IsAlbum bool
	Tracks  []timestamps.Span
}

// Detect decides whether an asset is a multi-track album. Both conditions
// must hold: duration above MinAlbumDuration and a description carrying at
// least timestamps.MinAlbumTimestamps distinct timestamps. Long single tracks
// and short clips full of chat markers stay single tracks.
func Detect(durationSeconds float64, description string) Result {
	if durationSeconds <= MinAlbumDuration {
		return Result{}
	}
	if !timestamps.HasTimestamps(description) {
		return Result{}
	}

	// Spans starting past the end of the asset are dropped by Parse, so
	// Tracks may be shorter than the timestamp count.
	total := durationSeconds
	return Result{IsAlbum: true, Tracks: timestamps.Parse(description, &total)}
}

package metadata

import "strings"

var placeholders = map[string]struct{}{
	"":                    {},
	"unknown":             {},
	"unknown artist":      {},
	"unknown album":       {},
	"artista sconosciuto": {},
	"album sconosciuto":   {},
	"sconosciuto":         {},
	"various":             {},
	"n/a":                 {},
	"untitled":            {},
	"<unknown>":           {},
	"desconocido":         {},
	"inconnu":             {},
}

// IsPlaceholder reports whether s is empty or a known "unknown" sentinel.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// NeedsUpdate reports whether enrichment could improve c. Tracks with a real
// artist and album plus a genre and year are skipped without any lookups.
func NeedsUpdate(c Current) bool {
	return IsPlaceholder(c.Artist) ||
		IsPlaceholder(c.Album) ||
		strings.TrimSpace(c.Genre) == "" ||
		c.Year <= 0
}

// Field names reported by Merge.
const (
	FieldArtist      = "artist"
	FieldAlbum       = "album"
	FieldAlbumArtist = "album_artist"
	FieldGenre       = "genre"
	FieldYear        = "year"
)

// Merge applies r onto c field by field. Artist and album are replaced only
// when the current value is a placeholder, genre and year only when unset.
// A placeholder in r never replaces anything. It returns the merged value
// and the names of the fields that changed.
func Merge(c Current, r Resolved) (Current, []string) {
	out := c
	var changed []string

	artistWasPlaceholder := IsPlaceholder(c.Artist)
	if artistWasPlaceholder && !IsPlaceholder(r.Artist) {
		out.Artist = strings.TrimSpace(r.Artist)
		changed = append(changed, FieldArtist)
	}
	if IsPlaceholder(c.Album) && !IsPlaceholder(r.Album) {
		out.Album = strings.TrimSpace(r.Album)
		changed = append(changed, FieldAlbum)
	}
	if strings.TrimSpace(c.Genre) == "" && strings.TrimSpace(r.Genre) != "" {
		out.Genre = strings.TrimSpace(r.Genre)
		changed = append(changed, FieldGenre)
	}
	if c.Year <= 0 && r.Year > 0 {
		out.Year = r.Year
		changed = append(changed, FieldYear)
	}

	if artistWasPlaceholder && !IsPlaceholder(out.Artist) && out.AlbumArtist != out.Artist {
		out.AlbumArtist = out.Artist
		changed = append(changed, FieldAlbumArtist)
	}
	return out, changed
}

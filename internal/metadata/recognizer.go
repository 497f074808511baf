package metadata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tunevault/tunevault-go/internal/toolexec"
)

// Recognizer identifies audio with the songrec Shazam client.
type Recognizer struct {
	Binary  string
	Timeout time.Duration
}

type shazamResponse struct {
	Track *struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		Genres   struct {
			Primary string `json:"primary"`
		} `json:"genres"`
		Sections []struct {
			Type     string `json:"type"`
			Metadata []struct {
				Title string `json:"title"`
				Text  string `json:"text"`
			} `json:"metadata"`
		} `json:"sections"`
	} `json:"track"`
}

// NewRecognizer creates a Recognizer. An empty binary disables it.
func NewRecognizer(binary string, timeout time.Duration) *Recognizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Recognizer{Binary: binary, Timeout: timeout}
}

// Enabled reports whether a binary is configured
func (r *Recognizer) Enabled() bool {
	return r != nil && r.Binary != ""
}

// Recognize returns title, artist, album, genre and year for path, or nil
// when nothing was recognized.
func (r *Recognizer) Recognize(ctx context.Context, path string) (*Resolved, error) {
	if !r.Enabled() {
		return nil, nil
	}
	out, err := toolexec.Run(ctx, toolexec.Command{
		Name:        "songrec",
		Binary:      r.Binary,
		Args:        []string{"audio-file-to-recognized-song", path},
		Timeout:     r.Timeout,
		StdoutLimit: 1 << 20,
	})
	if err != nil {
		return nil, err
	}
	return parseShazam(out.Stdout)
}

func parseShazam(data []byte) (*Resolved, error) {
	var resp shazamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Track == nil || strings.TrimSpace(resp.Track.Title) == "" {
		return nil, nil
	}

	res := &Resolved{
		Title:  strings.TrimSpace(resp.Track.Title),
		Artist: strings.TrimSpace(resp.Track.Subtitle),
		Genre:  strings.TrimSpace(resp.Track.Genres.Primary),
		Source: SourceShazam,
	}
	for _, section := range resp.Track.Sections {
		if section.Type != "SONG" {
			continue
		}
		for _, m := range section.Metadata {
			switch m.Title {
			case "Album":
				res.Album = strings.TrimSpace(m.Text)
			case "Released":
				res.Year = parseYear(strings.TrimSpace(m.Text))
			}
		}
	}
	if res.Artist != "" && res.Album != "" {
		res.AlbumArtist = res.Artist
	}
	return res, nil
}

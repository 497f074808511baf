package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/network"
)

// MinTextScore is the lowest candidate score a text search accepts.
const MinTextScore = 3

const searchLimit = 10

// MusicBrainzConfig configures the MusicBrainz web service client
type MusicBrainzConfig struct {
	BaseURL    string
	UserAgent  string
	RateLimit  float64
	CacheTTL   time.Duration
	// MaxRetries overrides the default retry count when positive
	MaxRetries int
}

// MusicBrainz looks up canonical recordings on the MusicBrainz ws/2 API.
type MusicBrainz struct {
	baseURL string
	client  *network.APIClient
	logger  *zap.Logger
}

type mbArtistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
}

type mbRelease struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Status       string           `json:"status"`
	Date         string           `json:"date"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	ReleaseGroup struct {
		PrimaryType string `json:"primary-type"`
	} `json:"release-group"`
}

type mbCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type mbRecording struct {
	ID               string           `json:"id"`
	Score            int              `json:"score"`
	Title            string           `json:"title"`
	FirstReleaseDate string           `json:"first-release-date"`
	ArtistCredit     []mbArtistCredit `json:"artist-credit"`
	Releases         []mbRelease      `json:"releases"`
	Genres           []mbCount        `json:"genres"`
	Tags             []mbCount        `json:"tags"`
}

type mbSearchResponse struct {
	Recordings []mbRecording `json:"recordings"`
}

// NewMusicBrainz creates a client. MusicBrainz requires a descriptive
// User-Agent and allows one request per second.
func NewMusicBrainz(cfg MusicBrainzConfig, httpClient *http.Client, logger *zap.Logger) *MusicBrainz {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://musicbrainz.org/ws/2"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := network.NewAPIClient("musicbrainz", httpClient, cfg.RateLimit, cfg.UserAgent)
	client.Cache = network.NewResponseCache(cfg.CacheTTL)
	if cfg.MaxRetries > 0 {
		client.Retry.MaxRetries = cfg.MaxRetries
	}
	return &MusicBrainz{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// LookupRecording fetches one recording by MBID. It returns nil, nil when
// MusicBrainz does not know the id.
func (mb *MusicBrainz) LookupRecording(ctx context.Context, id string) (*Resolved, error) {
	if id == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/recording/%s?inc=%s&fmt=json",
		mb.baseURL, url.PathEscape(id), "artists+releases+genres+tags")

	var rec mbRecording
	if err := mb.client.GetJSON(ctx, "recording", endpoint, &rec); err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrTypeNotFound {
			return nil, nil
		}
		return nil, err
	}
	if rec.ID == "" {
		return nil, nil
	}
	res := recordingToResolved(rec, "")
	return &res, nil
}

// Search runs a recording search for the given fields and returns the best
// scoring candidate, or nil when none reaches MinTextScore.
func (mb *MusicBrainz) Search(ctx context.Context, artist, title, album string) (*Resolved, error) {
	query := searchQuery(artist, title, album)
	if query == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/recording?query=%s&limit=%d&fmt=json",
		mb.baseURL, url.QueryEscape(query), searchLimit)

	var resp mbSearchResponse
	if err := mb.client.GetJSON(ctx, "search", endpoint, &resp); err != nil {
		return nil, err
	}

	best, bestScore := -1, 0
	for i, rec := range resp.Recordings {
		s := scoreCandidate(rec, artist, title, album)
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < MinTextScore {
		mb.logger.Debug("No MusicBrainz candidate accepted",
			zap.String("query", query),
			zap.Int("candidates", len(resp.Recordings)),
			zap.Int("best_score", bestScore))
		return nil, nil
	}

	res := recordingToResolved(resp.Recordings[best], album)
	return &res, nil
}

func searchQuery(artist, title, album string) string {
	var parts []string
	if title != "" {
		parts = append(parts, `recording:"`+luceneEscape(title)+`"`)
	}
	if artist != "" {
		parts = append(parts, `artist:"`+luceneEscape(artist)+`"`)
	}
	if album != "" {
		parts = append(parts, `release:"`+luceneEscape(album)+`"`)
	}
	return strings.Join(parts, " AND ")
}

var luceneReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func luceneEscape(s string) string {
	return luceneReplacer.Replace(strings.TrimSpace(s))
}

// scoreCandidate rates how well rec matches the query: artist and title
// score 3 on a folded exact match and 2 on a substring match, album 2 when
// any release title contains it.
func scoreCandidate(rec mbRecording, artist, title, album string) int {
	score := 0
	score += matchScore(creditName(rec.ArtistCredit), artist)
	score += matchScore(rec.Title, title)

	if a := Fold(album); a != "" {
		for _, rel := range rec.Releases {
			r := Fold(rel.Title)
			if r != "" && (strings.Contains(r, a) || strings.Contains(a, r)) {
				score += 2
				break
			}
		}
	}
	return score
}

func matchScore(candidate, want string) int {
	c, w := Fold(candidate), Fold(want)
	switch {
	case c == "" || w == "":
		return 0
	case c == w:
		return 3
	case strings.Contains(c, w) || strings.Contains(w, c):
		return 2
	}
	return 0
}

func creditName(credits []mbArtistCredit) string {
	var b strings.Builder
	for _, c := range credits {
		b.WriteString(c.Name)
		b.WriteString(c.JoinPhrase)
	}
	return strings.TrimSpace(b.String())
}

func recordingToResolved(rec mbRecording, wantAlbum string) Resolved {
	res := Resolved{
		Title:       rec.Title,
		Artist:      creditName(rec.ArtistCredit),
		RecordingID: rec.ID,
		Genre:       topGenre(rec.Genres, rec.Tags),
		Year:        parseYear(rec.FirstReleaseDate),
	}

	if rel := pickRelease(rec.Releases, wantAlbum); rel != nil {
		res.Album = rel.Title
		res.AlbumArtist = creditName(rel.ArtistCredit)
		if res.Year == 0 {
			res.Year = parseYear(rel.Date)
		}
	}
	if res.AlbumArtist == "" && res.Album != "" {
		res.AlbumArtist = res.Artist
	}
	return res
}

// pickRelease prefers a release matching wantAlbum, then official albums,
// then the earliest dated release.
func pickRelease(releases []mbRelease, wantAlbum string) *mbRelease {
	if len(releases) == 0 {
		return nil
	}
	if w := Fold(wantAlbum); w != "" {
		for i := range releases {
			if Fold(releases[i].Title) == w {
				return &releases[i]
			}
		}
	}

	ranked := make([]*mbRelease, len(releases))
	for i := range releases {
		ranked[i] = &releases[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := releaseRank(ranked[i]), releaseRank(ranked[j])
		if ri != rj {
			return ri < rj
		}
		di, dj := ranked[i].Date, ranked[j].Date
		if (di == "") != (dj == "") {
			return di != ""
		}
		return di < dj
	})
	return ranked[0]
}

func releaseRank(r *mbRelease) int {
	rank := 0
	if !strings.EqualFold(r.Status, "official") {
		rank += 2
	}
	if !strings.EqualFold(r.ReleaseGroup.PrimaryType, "album") {
		rank++
	}
	return rank
}

func topGenre(genres, tags []mbCount) string {
	pick := func(list []mbCount) string {
		best := -1
		for i, g := range list {
			if g.Name == "" {
				continue
			}
			if best < 0 || g.Count > list[best].Count {
				best = i
			}
		}
		if best < 0 {
			return ""
		}
		// Casers keep state, so one is made per call.
		return cases.Title(language.English).String(list[best].Name)
	}
	if g := pick(genres); g != "" {
		return g
	}
	return pick(tags)
}

// parseYear reads the year from an ISO-ish date ("1997", "1997-05-21").
func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y < 1000 {
		return 0
	}
	return y
}

package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/network"
)

// LastFMConfig configures the Last.fm client
type LastFMConfig struct {
	APIKey     string
	BaseURL    string
	RateLimit  float64
	CacheTTL   time.Duration
	MaxRetries int
}

// LastFM fills genre, year and album gaps from Last.fm track info.
type LastFM struct {
	apiKey  string
	baseURL string
	client  *network.APIClient
	logger  *zap.Logger
}

type lastfmTrackResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Track   *struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album *struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
		} `json:"album"`
		TopTags struct {
			Tag []struct {
				Name string `json:"name"`
			} `json:"tag"`
		} `json:"toptags"`
	} `json:"track"`
}

// NewLastFM creates a client. An empty API key disables it.
func NewLastFM(cfg LastFMConfig, httpClient *http.Client, logger *zap.Logger) *LastFM {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ws.audioscrobbler.com/2.0/"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := network.NewAPIClient("lastfm", httpClient, cfg.RateLimit, "")
	client.Cache = network.NewResponseCache(cfg.CacheTTL)
	if cfg.MaxRetries > 0 {
		client.Retry.MaxRetries = cfg.MaxRetries
	}
	return &LastFM{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  client,
		logger:  logger,
	}
}

// Enabled reports whether an API key is configured
func (l *LastFM) Enabled() bool {
	return l != nil && l.apiKey != ""
}

// TrackInfo returns album, genre and year for artist/title. Genre is the
// first top tag that is not a year; year comes from a year-like top tag,
// which is how Last.fm users commonly label release years.
func (l *LastFM) TrackInfo(ctx context.Context, artist, title string) (*Resolved, error) {
	if !l.Enabled() || strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", l.apiKey)
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("autocorrect", "1")
	params.Set("format", "json")

	var resp lastfmTrackResponse
	if err := l.client.GetJSON(ctx, "track.getInfo", l.baseURL+"?"+params.Encode(), &resp); err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrTypeNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Error != 0 {
		// 6 = track not found
		if resp.Error == 6 {
			return nil, nil
		}
		return nil, apperrors.NewEnrichmentError(fmt.Sprintf("lastfm error %d: %s", resp.Error, resp.Message), nil)
	}
	if resp.Track == nil {
		return nil, nil
	}

	res := &Resolved{Source: SourceLastFM}
	if resp.Track.Album != nil {
		res.Album = resp.Track.Album.Title
	}
	caser := cases.Title(language.English)
	for _, t := range resp.Track.TopTags.Tag {
		name := strings.TrimSpace(t.Name)
		if y, err := strconv.Atoi(name); err == nil {
			if res.Year == 0 && y >= 1900 && y <= time.Now().Year()+1 {
				res.Year = y
			}
			continue
		}
		if res.Genre == "" && name != "" {
			res.Genre = caser.String(name)
		}
	}
	return res, nil
}

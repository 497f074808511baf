package fingerprint

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/network"
)

// MinScore is the AcoustID score a result must exceed to be accepted.
const MinScore = 0.5

// Match is an accepted fingerprint identification.
type Match struct {
	AcoustID    string
	RecordingID string
	Score       float64
	Title       string
	Artist      string
}

// Config holds the identifier settings
type Config struct {
	APIKey     string
	BaseURL    string
	RateLimit  float64
	UserAgent  string
	MaxRetries int
}

// Identifier resolves audio files to MusicBrainz recordings via chromaprint and AcoustID.
type Identifier struct {
	calc   Calculator
	config Config
	client *network.APIClient
	logger *zap.Logger
}

type lookupResponse struct {
	Status  string `json:"status"`
	Results []struct {
		ID         string  `json:"id"`
		Score      float64 `json:"score"`
		Recordings []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Artists []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"recordings"`
	} `json:"results"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewIdentifier creates an Identifier. An empty API key disables lookups.
func NewIdentifier(calc Calculator, config Config, httpClient *http.Client, logger *zap.Logger) *Identifier {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.acoustid.org/v2"
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := network.NewAPIClient("acoustid", httpClient, config.RateLimit, config.UserAgent)
	if config.MaxRetries > 0 {
		client.Retry.MaxRetries = config.MaxRetries
	}
	return &Identifier{
		calc:   calc,
		config: config,
		client: client,
		logger: logger,
	}
}

// Enabled reports whether lookups can run
func (i *Identifier) Enabled() bool {
	return i.config.APIKey != ""
}

// Identify fingerprints path and looks it up. It returns nil when the tool is
// missing, the lookup fails, or no result scores above MinScore.
func (i *Identifier) Identify(ctx context.Context, path string) *Match {
	m, _ := i.Match(ctx, path)
	return m
}

// Match is Identify for callers that need to tell "no match" from "could
// not ask": the error is non-nil only when the AcoustID lookup itself failed.
// A missing fpcalc or an unreadable file is not an error.
func (i *Identifier) Match(ctx context.Context, path string) (*Match, error) {
	if !i.Enabled() {
		return nil, nil
	}

	fp, err := i.calc.Compute(ctx, path)
	if err != nil {
		i.logger.Debug("Fingerprint unavailable", zap.String("path", path), zap.Error(err))
		monitoring.RecordFingerprint("error")
		return nil, nil
	}

	match, err := i.Lookup(ctx, fp)
	if err != nil {
		outcome := "error"
		if apperrors.IsNetworkError(err) {
			outcome = "unreachable"
		}
		i.logger.Warn("AcoustID lookup failed", zap.String("path", path), zap.String("outcome", outcome), zap.Error(err))
		monitoring.RecordFingerprint(outcome)
		return nil, err
	}
	return match, nil
}

// Lookup submits a fingerprint to AcoustID and selects the best qualifying result.
func (i *Identifier) Lookup(ctx context.Context, fp Fingerprint) (*Match, error) {
	form := url.Values{}
	form.Set("client", i.config.APIKey)
	form.Set("meta", "recordings")
	form.Set("format", "json")
	form.Set("duration", strconv.Itoa(int(fp.Duration)))
	form.Set("fingerprint", fp.Fingerprint)

	var resp lookupResponse
	endpoint := strings.TrimRight(i.config.BaseURL, "/") + "/lookup"
	if err := i.client.PostFormJSON(ctx, "lookup", endpoint, form, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		msg := "unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		i.logger.Debug("AcoustID returned error status", zap.String("message", msg))
		monitoring.RecordFingerprint("error")
		return nil, nil
	}

	if len(resp.Results) == 0 {
		monitoring.RecordFingerprint("no_result")
		return nil, nil
	}

	sort.SliceStable(resp.Results, func(a, b int) bool {
		return resp.Results[a].Score > resp.Results[b].Score
	})
	best := resp.Results[0]

	if best.Score <= MinScore || len(best.Recordings) == 0 {
		monitoring.RecordFingerprint("low_score")
		i.logger.Debug("Fingerprint match rejected",
			zap.Float64("score", best.Score),
			zap.Int("recordings", len(best.Recordings)))
		return nil, nil
	}

	rec := best.Recordings[0]
	match := &Match{
		AcoustID:    best.ID,
		RecordingID: rec.ID,
		Score:       best.Score,
		Title:       rec.Title,
	}
	names := make([]string, 0, len(rec.Artists))
	for _, a := range rec.Artists {
		names = append(names, a.Name)
	}
	match.Artist = strings.Join(names, ", ")

	monitoring.RecordFingerprint("match")
	return match, nil
}

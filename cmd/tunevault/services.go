package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/config"
	"github.com/tunevault/tunevault-go/internal/fingerprint"
	"github.com/tunevault/tunevault-go/internal/metadata"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/network"
	"github.com/tunevault/tunevault-go/internal/source"
	"github.com/tunevault/tunevault-go/internal/splitter"
	"github.com/tunevault/tunevault-go/internal/store"
)

type tagWriter interface {
	Write(path string, t metadata.Tags) error
}

// lookupStack is everything needed to identify a file without a database.
type lookupStack struct {
	httpClient *http.Client
	identifier *fingerprint.Identifier
	resolver   *metadata.Resolver
}

func newLookupStack(cfg *config.Config, logger *zap.Logger) (*lookupStack, error) {
	clientCfg := network.DefaultClientConfig()
	if cfg.Network.Timeout > 0 {
		clientCfg.Timeout = config.Seconds(cfg.Network.Timeout)
		clientCfg.ResponseHeaderTimeout = clientCfg.Timeout
	}
	clientCfg.ProxyURL = cfg.Network.ProxyURL
	client, err := network.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	cacheTTL := time.Duration(cfg.Metadata.CacheTTLMinutes) * time.Minute
	toolTimeout := config.Seconds(cfg.Tools.ToolTimeoutSeconds)

	identifier := fingerprint.NewIdentifier(
		fingerprint.Calculator{
			Binary:  cfg.Tools.FpcalcPath,
			Length:  cfg.Tools.FingerprintSeconds,
			Timeout: toolTimeout,
		},
		fingerprint.Config{
			APIKey:     cfg.Metadata.AcoustIDKey,
			BaseURL:    cfg.Metadata.AcoustIDURL,
			RateLimit:  cfg.Metadata.AcoustIDRateLimit,
			UserAgent:  cfg.Metadata.UserAgent,
			MaxRetries: cfg.Network.MaxRetries,
		},
		client,
		logger,
	)

	mb := metadata.NewMusicBrainz(metadata.MusicBrainzConfig{
		BaseURL:    cfg.Metadata.MusicBrainzURL,
		UserAgent:  cfg.Metadata.UserAgent,
		RateLimit:  cfg.Metadata.MusicBrainzRateLimit,
		CacheTTL:   cacheTTL,
		MaxRetries: cfg.Network.MaxRetries,
	}, client, logger)
	lastfm := metadata.NewLastFM(metadata.LastFMConfig{
		APIKey:     cfg.Metadata.LastFMKey,
		BaseURL:    cfg.Metadata.LastFMURL,
		RateLimit:  cfg.Metadata.LastFMRateLimit,
		CacheTTL:   cacheTTL,
		MaxRetries: cfg.Network.MaxRetries,
	}, client, logger)
	recognizer := metadata.NewRecognizer(cfg.Tools.SongrecPath, toolTimeout)

	return &lookupStack{
		httpClient: client,
		identifier: identifier,
		resolver:   metadata.NewResolver(mb, lastfm, recognizer, logger),
	}, nil
}

func newTagWriter(cfg *config.Config) tagWriter {
	if !cfg.Metadata.WriteTags {
		return nil
	}
	return metadata.NewTagWriter(cfg.Metadata.EmbedArtwork)
}

func newDownloader(cfg *config.Config, logger *zap.Logger) *source.Downloader {
	return source.New(source.Config{
		Binary:      cfg.Tools.YtDlpPath,
		FFmpegPath:  cfg.Tools.FFmpegPath,
		AudioFormat: cfg.Tools.AudioFormat,
		ProxyURL:    cfg.Network.ProxyURL,
		Timeout:     config.Seconds(cfg.Tools.DownloadTimeoutSeconds),
	}, logger)
}

func newSplitter(cfg *config.Config, logger *zap.Logger) *splitter.Splitter {
	return splitter.New(splitter.Config{
		FFmpegPath:  cfg.Tools.FFmpegPath,
		FFprobePath: cfg.Tools.FFprobePath,
		Timeout:     config.Seconds(cfg.Tools.SplitTimeoutSeconds),
	}, logger)
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := store.InitDB(cfg.Library.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func toolRequirements(cfg *config.Config) []monitoring.ToolRequirement {
	return []monitoring.ToolRequirement{
		{Name: "yt-dlp", Command: cfg.Tools.YtDlpPath, Description: "source downloads"},
		{Name: "ffmpeg", Command: cfg.Tools.FFmpegPath, Description: "audio extraction and splitting"},
		{Name: "ffprobe", Command: cfg.Tools.FFprobePath, Description: "track durations"},
		{Name: "fpcalc", Command: cfg.Tools.FpcalcPath, Description: "chromaprint fingerprints", Optional: true},
		{Name: "songrec", Command: cfg.Tools.SongrecPath, Description: "audio recognition fallback", Optional: true},
	}
}

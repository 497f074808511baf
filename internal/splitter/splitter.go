package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/security"
	"github.com/tunevault/tunevault-go/internal/timestamps"
	"github.com/tunevault/tunevault-go/internal/toolexec"
)

// Progress is reported after each finished segment.
type Progress struct {
	Current int
	Total   int
	Track   string
	Percent float64
}

// Result describes one produced track file.
type Result struct {
	Path        string
	Title       string
	Start       float64
	End         *float64
	TrackNumber int
}

// Config holds the splitter settings
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds each ffmpeg invocation
	Timeout time.Duration
}

// Splitter cuts one audio file into per-track files with ffmpeg.
type Splitter struct {
	config Config
	logger *zap.Logger
}

// New creates a Splitter
func New(config Config, logger *zap.Logger) *Splitter {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.FFprobePath == "" {
		config.FFprobePath = "ffprobe"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{config: config, logger: logger}
}

// Split writes one file per span into outputDir. Failure on any span aborts
// the whole operation; files written for earlier spans are left in place.
func (s *Splitter) Split(ctx context.Context, inputPath string, spans []timestamps.Span, outputDir string, onProgress func(Progress)) ([]Result, error) {
	if len(spans) == 0 {
		return nil, apperrors.NewValidationError("no spans to split")
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, apperrors.NewFileSystemError("split input not found", err)
	}
	if info.IsDir() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("split input %s is a directory", inputPath))
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create split output directory", err)
	}

	ext := strings.ToLower(filepath.Ext(inputPath))
	codec := codecArgs(ext)
	width := 2
	if len(spans) > 99 {
		width = 3
	}

	results := make([]Result, 0, len(spans))
	for i, span := range spans {
		trackNumber := i + 1
		name := fmt.Sprintf("%0*d - %s%s", width, trackNumber, security.SanitizeFilename(span.Title), ext)
		outPath := filepath.Join(outputDir, name)

		args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
			"-ss", formatSeconds(span.Start), "-i", inputPath}
		if d := span.Duration(); d != nil {
			args = append(args, "-t", formatSeconds(*d))
		}
		args = append(args, "-vn", "-map_metadata", "-1")
		args = append(args, codec...)
		args = append(args, outPath)

		s.logger.Debug("Splitting track",
			zap.Int("track", trackNumber),
			zap.String("title", span.Title),
			zap.Float64("start", span.Start))

		if _, err := toolexec.Run(ctx, toolexec.Command{
			Name:    "ffmpeg",
			Binary:  s.config.FFmpegPath,
			Args:    args,
			Timeout: s.config.Timeout,
		}); err != nil {
			return results, apperrors.NewSplitError(span.Title, err)
		}

		results = append(results, Result{
			Path:        outPath,
			Title:       span.Title,
			Start:       span.Start,
			End:         span.End,
			TrackNumber: trackNumber,
		})

		if onProgress != nil {
			onProgress(Progress{
				Current: trackNumber,
				Total:   len(spans),
				Track:   span.Title,
				Percent: float64(trackNumber) / float64(len(spans)) * 100,
			})
		}
	}

	s.logger.Info("Split complete",
		zap.String("input", filepath.Base(inputPath)),
		zap.Int("tracks", len(results)))

	return results, nil
}

type formatReport struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the length of path in seconds as reported by ffprobe.
func (s *Splitter) Duration(ctx context.Context, path string) (float64, error) {
	res, err := toolexec.Run(ctx, toolexec.Command{
		Name:        "ffprobe",
		Binary:      s.config.FFprobePath,
		Args:        []string{"-v", "error", "-hide_banner", "-show_entries", "format=duration", "-of", "json", "--", path},
		Timeout:     30 * time.Second,
		StdoutLimit: 64 << 10,
	})
	if err != nil {
		return 0, err
	}

	var out formatReport
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", filepath.Base(path))
	}
	return d, nil
}

func codecArgs(ext string) []string {
	switch ext {
	case ".mp3":
		return []string{"-c:a", "libmp3lame", "-q:a", "2"}
	case ".flac":
		return []string{"-c:a", "flac"}
	case ".m4a", ".aac":
		return []string{"-c:a", "aac", "-b:a", "192k"}
	case ".opus", ".ogg":
		return []string{"-c:a", "libopus", "-b:a", "160k"}
	default:
		return []string{"-c", "copy"}
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Package source fetches remote audio with yt-dlp.
package source

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/security"
	"github.com/tunevault/tunevault-go/internal/toolexec"
)

// Config configures the downloader
type Config struct {
	Binary      string
	FFmpegPath  string
	AudioFormat string
	ProxyURL    string
	Timeout     time.Duration
}

// Info is the subset of yt-dlp's info JSON the pipeline uses. Description
// and Duration are frequently missing and may be zero.
type Info struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	WebpageURL  string  `json:"webpage_url"`
}

// Artist returns the uploader, falling back to the channel name
func (i Info) Artist() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}

// Result is a finished download
type Result struct {
	Path string
	Info Info
}

// Progress is one parsed yt-dlp progress line
type Progress struct {
	Percent    float64
	TotalBytes uint64
	// Speed is in bytes per second
	Speed uint64
	ETA   time.Duration
}

// Downloader runs yt-dlp
type Downloader struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Downloader
func New(cfg Config, logger *zap.Logger) *Downloader {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "mp3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{cfg: cfg, logger: logger}
}

var destinationRe = regexp.MustCompile(`^\[(?:ExtractAudio|download|Merger)\] (?:Destination: |Merging formats into ")(.+?)"?$`)

// Download fetches rawURL into workDir as a single audio file.
func (d *Downloader) Download(ctx context.Context, rawURL, workDir string, onProgress func(Progress)) (*Result, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create work directory", err)
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--no-mtime",
		"--extract-audio",
		"--audio-format", d.cfg.AudioFormat,
		"--audio-quality", "0",
		"--write-info-json",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
	}
	if d.cfg.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", d.cfg.FFmpegPath)
	}
	if d.cfg.ProxyURL != "" {
		args = append(args, "--proxy", d.cfg.ProxyURL)
	}
	args = append(args, "--", rawURL)

	var lastDest string
	_, err := toolexec.RunLines(ctx, toolexec.Command{
		Name:    "yt-dlp",
		Binary:  d.cfg.Binary,
		Args:    args,
		Timeout: d.cfg.Timeout,
	}, func(line string) {
		if p, ok := ParseProgressLine(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			return
		}
		if m := destinationRe.FindStringSubmatch(line); m != nil {
			lastDest = m[1]
		}
	})
	if err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrTypeTool {
			return nil, err
		}
		if stderrors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.NewSourceError("download failed: "+apperrors.Truncate(err.Error(), 400), err)
	}

	path := lastDest
	if path == "" || !isAudio(path) {
		path, err = findAudio(workDir)
		if err != nil {
			return nil, err
		}
	}

	info, err := readInfo(path)
	if err != nil {
		d.logger.Warn("yt-dlp info JSON unavailable", zap.String("path", path), zap.Error(err))
	}
	info.Title = security.CleanText(info.Title)
	info.Description = security.CleanText(info.Description)
	if info.Title == "" {
		info.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &Result{Path: path, Info: info}, nil
}

var progressRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+\s*[KMGTP]?i?B)(?:\s+at\s+([\d.]+\s*[KMGTP]?i?B)/s)?(?:\s+ETA\s+([\d:]+))?`)

// ParseProgressLine parses lines such as
// "[download]  42.0% of 3.50MiB at 1.20MiB/s ETA 00:03".
func ParseProgressLine(line string) (Progress, bool) {
	m := progressRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	p := Progress{Percent: pct}
	if total, err := humanize.ParseBytes(m[2]); err == nil {
		p.TotalBytes = total
	}
	if m[3] != "" {
		if speed, err := humanize.ParseBytes(m[3]); err == nil {
			p.Speed = speed
		}
	}
	if m[4] != "" {
		p.ETA = parseClock(m[4])
	}
	return p, true
}

// parseClock converts "MM:SS" or "HH:MM:SS" to a duration
func parseClock(s string) time.Duration {
	var total int
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

func readInfo(audioPath string) (Info, error) {
	var info Info
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	data, err := os.ReadFile(base + ".info.json")
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("failed to parse info JSON: %w", err)
	}
	return info, nil
}

// findAudio returns the single audio file yt-dlp left in dir
func findAudio(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", apperrors.NewFileSystemError("failed to read work directory", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".part") {
			continue
		}
		p := filepath.Join(dir, name)
		if isAudio(p) {
			return p, nil
		}
	}
	return "", apperrors.NewSourceError("downloader produced no audio file", nil)
}

// isAudio sniffs the file header instead of trusting the extension
func isAudio(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := io.ReadFull(f, head)
	if err != nil && !stderrors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	return filetype.IsAudio(head[:n])
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/download"
)

const (
	spoolExt     = ".json"
	rejectedExt  = ".rejected"
	spoolPartExt = ".part"
)

// submission is one spool file. The daemon turns each into a queue job.
type submission struct {
	Owner string `json:"owner"`
	download.JobSpec
}

type jobSubmitter interface {
	Submit(ownerID string, spec download.JobSpec) (string, error)
}

// writeSubmission stores s in dir and returns the file path. The file is
// renamed into place so a polling daemon never sees it half written.
func writeSubmission(dir string, s submission) (string, error) {
	if strings.TrimSpace(s.Owner) == "" {
		return "", fmt.Errorf("owner is required")
	}
	if err := s.JobSpec.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.NewString(), spoolExt)
	path := filepath.Join(dir, name)
	tmp := path + spoolPartExt
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write submission: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish submission: %w", err)
	}
	return path, nil
}

// spoolWatcher polls a directory for submissions and queues them.
type spoolWatcher struct {
	dir    string
	queue  jobSubmitter
	logger *zap.Logger
}

func newSpoolWatcher(dir string, queue jobSubmitter, logger *zap.Logger) *spoolWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &spoolWatcher{dir: dir, queue: queue, logger: logger.With(zap.String("component", "spool"))}
}

func (w *spoolWatcher) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.scan(ctx); err != nil {
			w.logger.Warn("Spool scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scan queues every pending submission in name order and returns how many
// were accepted. Accepted files are removed; unreadable or invalid ones are
// renamed with a .rejected suffix so they are not retried.
func (w *spoolWatcher) scan(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*"+spoolExt))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	accepted := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return accepted, ctx.Err()
		}
		jobID, err := w.submit(path)
		if err != nil {
			w.logger.Warn("Rejected spool submission", zap.String("file", filepath.Base(path)), zap.Error(err))
			if err := os.Rename(path, path+rejectedExt); err != nil {
				w.logger.Error("Failed to set aside rejected submission", zap.String("file", path), zap.Error(err))
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			w.logger.Error("Failed to remove queued submission", zap.String("file", path), zap.Error(err))
		}
		w.logger.Info("Queued submission", zap.String("file", filepath.Base(path)), zap.String("job_id", jobID))
		accepted++
	}
	return accepted, nil
}

func (w *spoolWatcher) submit(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var s submission
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("decode submission: %w", err)
	}
	if strings.TrimSpace(s.Owner) == "" {
		return "", fmt.Errorf("owner is required")
	}
	return w.queue.Submit(s.Owner, s.JobSpec)
}

package monitoring

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type fakeQueue struct{ pending, active int }

func (f fakeQueue) PendingCount() int { return f.pending }
func (f fakeQueue) ActiveCount() int  { return f.active }

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestHealthCheckHealthy(t *testing.T) {
	db := openMemoryDB(t)
	ffmpeg := writeStub(t, t.TempDir(), "ffmpeg")

	checker := NewHealthChecker("1.0.0", db, []ToolRequirement{{Name: "ffmpeg", Command: ffmpeg}})
	hc := checker.Check(context.Background(), fakeQueue{pending: 3, active: 1})

	if hc.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s (%v)", hc.Status, hc.Checks)
	}
	if hc.PendingJobs != 3 || hc.ActiveJobs != 1 {
		t.Errorf("queue stats = %d/%d, want 3/1", hc.PendingJobs, hc.ActiveJobs)
	}
	if hc.DatabaseStatus != "connected" {
		t.Errorf("Expected database status connected, got %s", hc.DatabaseStatus)
	}
}

func TestHealthCheckMissingOptionalToolDegrades(t *testing.T) {
	db := openMemoryDB(t)
	checker := NewHealthChecker("1.0.0", db, []ToolRequirement{
		{Name: "songrec", Command: "clearly-not-present-binary", Optional: true},
	})

	hc := checker.Check(context.Background(), nil)
	if hc.Status != HealthStatusDegraded {
		t.Errorf("Expected degraded, got %s", hc.Status)
	}
}

func TestHealthCheckMissingRequiredToolUnhealthy(t *testing.T) {
	db := openMemoryDB(t)
	checker := NewHealthChecker("1.0.0", db, []ToolRequirement{
		{Name: "yt-dlp", Command: "clearly-not-present-binary"},
	})

	hc := checker.Check(context.Background(), nil)
	if hc.Status != HealthStatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", hc.Status)
	}
}

func TestHealthCheckNilDatabase(t *testing.T) {
	checker := NewHealthChecker("1.0.0", nil, nil)
	hc := checker.Check(context.Background(), nil)
	if hc.Status != HealthStatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", hc.Status)
	}
	if hc.DatabaseStatus != "disconnected" {
		t.Errorf("Expected disconnected, got %s", hc.DatabaseStatus)
	}
}

func TestHealthCheckLargeBacklogDegrades(t *testing.T) {
	checker := NewHealthChecker("1.0.0", openMemoryDB(t), nil)
	hc := checker.Check(context.Background(), fakeQueue{pending: 5000})
	if hc.Status != HealthStatusDegraded {
		t.Errorf("Expected degraded, got %s", hc.Status)
	}
}

func TestCheckTools(t *testing.T) {
	present := writeStub(t, t.TempDir(), "fpcalc")
	results := CheckTools([]ToolRequirement{
		{Name: "fpcalc", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Empty", Command: "  "},
	})

	if !results[0].Available || results[0].Detail != "" {
		t.Errorf("expected fpcalc available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Errorf("expected missing binary with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Errorf("unexpected detail %q", results[2].Detail)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
		{26 * time.Hour, "1d 2h 0m 0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

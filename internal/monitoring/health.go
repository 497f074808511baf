package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status         HealthStatus     `json:"status"`
	Version        string           `json:"version"`
	Uptime         int64            `json:"uptime"`
	UptimeHuman    string           `json:"uptime_human"`
	PendingJobs    int              `json:"pending_jobs"`
	ActiveJobs     int              `json:"active_jobs"`
	MemoryUsageMB  uint64           `json:"memory_usage_mb"`
	DatabaseStatus string           `json:"database_status"`
	Tools          []ToolStatus     `json:"tools"`
	Checks         map[string]Check `json:"checks"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ToolRequirement describes an external binary the pipeline shells out to.
type ToolRequirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// ToolStatus reports the availability of a ToolRequirement.
type ToolStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// QueueStats is the queue snapshot a health check reports on.
type QueueStats interface {
	PendingCount() int
	ActiveCount() int
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB
	tools     []ToolRequirement
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB, tools []ToolRequirement) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
		tools:     tools,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(ctx context.Context, queue QueueStats) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy
	degrade := func(c Check) {
		switch c.Status {
		case "unhealthy":
			overallStatus = HealthStatusUnhealthy
		case "degraded":
			if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	dbCheck := h.checkDatabase(ctx)
	checks["database"] = dbCheck
	degrade(dbCheck)

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	tools := CheckTools(h.tools)
	toolCheck := summarizeTools(tools)
	checks["tools"] = toolCheck
	degrade(toolCheck)

	pending, active := 0, 0
	if queue != nil {
		pending = queue.PendingCount()
		active = queue.ActiveCount()
	}
	queueCheck := h.checkQueue(pending)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != "healthy" {
		dbStatus = "disconnected"
	}

	return &HealthCheck{
		Status:         overallStatus,
		Version:        h.version,
		Uptime:         int64(uptime.Seconds()),
		UptimeHuman:    formatDuration(uptime),
		PendingJobs:    pending,
		ActiveJobs:     active,
		MemoryUsageMB:  m.Alloc / 1024 / 1024,
		DatabaseStatus: dbStatus,
		Tools:          tools,
		Checks:         checks,
		Timestamp:      time.Now(),
	}
}

// CheckTools resolves each requirement on PATH.
func CheckTools(requirements []ToolRequirement) []ToolStatus {
	results := make([]ToolStatus, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := ToolStatus{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

func summarizeTools(tools []ToolStatus) Check {
	var missingRequired, missingOptional []string
	for _, t := range tools {
		if t.Available {
			continue
		}
		if t.Optional {
			missingOptional = append(missingOptional, t.Name)
		} else {
			missingRequired = append(missingRequired, t.Name)
		}
	}
	if len(missingRequired) > 0 {
		return Check{Status: "unhealthy", Message: "missing required tools: " + strings.Join(missingRequired, ", ")}
	}
	if len(missingOptional) > 0 {
		return Check{Status: "degraded", Message: "missing optional tools: " + strings.Join(missingOptional, ", ")}
	}
	return Check{Status: "healthy", Message: "All tools available"}
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase(ctx context.Context) Check {
	if h.db == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Database connection is healthy",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{Status: "unhealthy", Message: "Memory usage is critically high"}
	}
	if memoryMB > warningThresholdMB {
		return Check{Status: "degraded", Message: "Memory usage is elevated"}
	}
	return Check{Status: "healthy", Message: "Memory usage is normal"}
}

// checkQueue checks queue size
func (h *HealthChecker) checkQueue(pending int) Check {
	const warningThreshold = 1000

	if pending > warningThreshold {
		return Check{Status: "degraded", Message: "Pending job backlog is very large"}
	}
	return Check{Status: "healthy", Message: "Queue size is normal"}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

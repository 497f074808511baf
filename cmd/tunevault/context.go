package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/config"
	"github.com/tunevault/tunevault-go/internal/monitoring"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return config.GetConfigPath()
}

// dataDir is the directory holding the settings file, the secret salt and
// the daemon lock.
func (c *commandContext) dataDir() string {
	return filepath.Dir(c.configPath())
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := ensureDirectories(cfg); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func ensureDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.Library.RootDir,
		cfg.Library.TempDir,
		cfg.Library.SpoolDir,
		filepath.Dir(cfg.Library.DatabasePath),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// newLogger builds the daemon logger from the logging section. Interactive
// commands pass console=true to log human-readable lines to stderr instead.
func newLogger(cfg *config.Config, dataDir string, console bool) (*zap.Logger, error) {
	lc := monitoring.DefaultLogConfig(dataDir)
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		lc.Format = cfg.Logging.Format
	}
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		lc.MaxAgeDays = cfg.Logging.MaxAgeDays
	}
	lc.Compress = cfg.Logging.Compress
	if console {
		lc.Format = "console"
		lc.Output = "console"
		if lc.Level == "info" {
			lc.Level = "warn"
		}
	}
	return monitoring.NewLogger(lc)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tunevault/tunevault-go/internal/security"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config represents the application configuration
type Config struct {
	Library  LibraryConfig  `json:"library" mapstructure:"library"`
	Queue    QueueConfig    `json:"queue" mapstructure:"queue"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	Metadata MetadataConfig `json:"metadata" mapstructure:"metadata"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// LibraryConfig contains storage locations
type LibraryConfig struct {
	RootDir      string `json:"root_dir" mapstructure:"root_dir"`
	TempDir      string `json:"temp_dir" mapstructure:"temp_dir"`
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
	SpoolDir     string `json:"spool_dir" mapstructure:"spool_dir"`
}

// QueueConfig contains per-owner job queue settings
type QueueConfig struct {
	DebounceMS            int `json:"debounce_ms" mapstructure:"debounce_ms"`
	CompletedGraceSeconds int `json:"completed_grace_seconds" mapstructure:"completed_grace_seconds"`
	FailedGraceSeconds    int `json:"failed_grace_seconds" mapstructure:"failed_grace_seconds"`
	// MaxActiveOwners caps concurrently running owners; 0 means unlimited
	MaxActiveOwners    int `json:"max_active_owners" mapstructure:"max_active_owners"`
	ProgressIntervalMS int `json:"progress_interval_ms" mapstructure:"progress_interval_ms"`
	MaxErrorLength     int `json:"max_error_length" mapstructure:"max_error_length"`
}

// ToolsConfig contains external binary locations and limits
type ToolsConfig struct {
	YtDlpPath              string `json:"ytdlp_path" mapstructure:"ytdlp_path"`
	FFmpegPath             string `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath            string `json:"ffprobe_path" mapstructure:"ffprobe_path"`
	FpcalcPath             string `json:"fpcalc_path" mapstructure:"fpcalc_path"`
	SongrecPath            string `json:"songrec_path" mapstructure:"songrec_path"`
	AudioFormat            string `json:"audio_format" mapstructure:"audio_format"`
	DownloadTimeoutSeconds int    `json:"download_timeout_seconds" mapstructure:"download_timeout_seconds"`
	SplitTimeoutSeconds    int    `json:"split_timeout_seconds" mapstructure:"split_timeout_seconds"`
	FingerprintSeconds     int    `json:"fingerprint_seconds" mapstructure:"fingerprint_seconds"`
	ToolTimeoutSeconds     int    `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// MetadataConfig contains enrichment source settings
type MetadataConfig struct {
	AcoustIDKey          string  `json:"acoustid_key" mapstructure:"acoustid_key"`
	AcoustIDURL          string  `json:"acoustid_url" mapstructure:"acoustid_url"`
	LastFMKey            string  `json:"lastfm_key" mapstructure:"lastfm_key"`
	LastFMURL            string  `json:"lastfm_url" mapstructure:"lastfm_url"`
	MusicBrainzURL       string  `json:"musicbrainz_url" mapstructure:"musicbrainz_url"`
	UserAgent            string  `json:"user_agent" mapstructure:"user_agent"`
	MusicBrainzRateLimit float64 `json:"musicbrainz_rate_limit" mapstructure:"musicbrainz_rate_limit"`
	AcoustIDRateLimit    float64 `json:"acoustid_rate_limit" mapstructure:"acoustid_rate_limit"`
	LastFMRateLimit      float64 `json:"lastfm_rate_limit" mapstructure:"lastfm_rate_limit"`
	CacheTTLMinutes      int     `json:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	EnrichWorkers        int     `json:"enrich_workers" mapstructure:"enrich_workers"`
	EnrichBuffer         int     `json:"enrich_buffer" mapstructure:"enrich_buffer"`
	EmbedArtwork         bool    `json:"embed_artwork" mapstructure:"embed_artwork"`
	ArtworkSize          int     `json:"artwork_size" mapstructure:"artwork_size"`
	WriteTags            bool    `json:"write_tags" mapstructure:"write_tags"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	ProxyURL   string `json:"proxy_url" mapstructure:"proxy_url"`
	Timeout    int    `json:"timeout" mapstructure:"timeout"`
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Listen string `json:"listen" mapstructure:"listen"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			// First run: write the defaults out so the user has something to edit
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Allow environment variable overrides, e.g. TUNEVAULT_METADATA_ACOUSTID_KEY
	v.SetEnvPrefix("TUNEVAULT")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.openSecrets(security.NewSecretBox(filepath.Dir(configPath))); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// openSecrets decrypts API keys stored in "enc:" form
func (c *Config) openSecrets(box *security.SecretBox) error {
	for name, field := range map[string]*string{
		"metadata.acoustid_key": &c.Metadata.AcoustIDKey,
		"metadata.lastfm_key":   &c.Metadata.LastFMKey,
	} {
		if !security.IsSealed(*field) {
			continue
		}
		plain, err := box.Open(*field)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Library.RootDir == "" {
		return fmt.Errorf("library root directory cannot be empty")
	}

	if c.Library.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Queue validation
	if c.Queue.DebounceMS < 0 {
		return fmt.Errorf("queue debounce cannot be negative")
	}

	if c.Queue.CompletedGraceSeconds < 0 || c.Queue.FailedGraceSeconds < 0 {
		return fmt.Errorf("queue grace periods cannot be negative")
	}

	if c.Queue.MaxActiveOwners < 0 {
		return fmt.Errorf("max active owners cannot be negative")
	}

	// Tools validation
	if c.Tools.YtDlpPath == "" || c.Tools.FFmpegPath == "" {
		return fmt.Errorf("yt-dlp and ffmpeg paths must be set")
	}

	validFormats := map[string]bool{"mp3": true, "flac": true, "m4a": true, "opus": true}
	if !validFormats[c.Tools.AudioFormat] {
		return fmt.Errorf("invalid audio format: %s (must be mp3, flac, m4a or opus)", c.Tools.AudioFormat)
	}

	if c.Tools.DownloadTimeoutSeconds < 1 || c.Tools.SplitTimeoutSeconds < 1 || c.Tools.ToolTimeoutSeconds < 1 {
		return fmt.Errorf("tool timeouts must be at least 1 second")
	}

	if c.Tools.FingerprintSeconds < 10 || c.Tools.FingerprintSeconds > 120 {
		return fmt.Errorf("fingerprint window must be between 10 and 120 seconds")
	}

	// Metadata validation
	if c.Metadata.MusicBrainzRateLimit <= 0 || c.Metadata.MusicBrainzRateLimit > 1 {
		return fmt.Errorf("musicbrainz rate limit must be in (0, 1] requests per second")
	}

	if c.Metadata.AcoustIDRateLimit <= 0 || c.Metadata.LastFMRateLimit <= 0 {
		return fmt.Errorf("api rate limits must be positive")
	}

	if c.Metadata.UserAgent == "" {
		return fmt.Errorf("metadata user agent cannot be empty")
	}

	if c.Metadata.EnrichWorkers < 1 || c.Metadata.EnrichWorkers > 16 {
		return fmt.Errorf("enrich workers must be between 1 and 16")
	}

	if c.Metadata.ArtworkSize < 100 || c.Metadata.ArtworkSize > 5000 {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	// Network validation
	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("library", c.Library)
	v.Set("queue", c.Queue)
	v.Set("tools", c.Tools)
	v.Set("metadata", c.Metadata)
	v.Set("network", c.Network)
	v.Set("logging", c.Logging)
	v.Set("metrics", c.Metrics)

	return v.WriteConfigAs(path)
}

// Debounce returns the queue debounce as a duration
func (q QueueConfig) Debounce() time.Duration {
	return time.Duration(q.DebounceMS) * time.Millisecond
}

// CompletedGrace returns how long completed jobs stay visible
func (q QueueConfig) CompletedGrace() time.Duration {
	return time.Duration(q.CompletedGraceSeconds) * time.Second
}

// FailedGrace returns how long failed jobs stay visible
func (q QueueConfig) FailedGrace() time.Duration {
	return time.Duration(q.FailedGraceSeconds) * time.Second
}

// ProgressInterval returns the minimum interval between progress events
func (q QueueConfig) ProgressInterval() time.Duration {
	return time.Duration(q.ProgressIntervalMS) * time.Millisecond
}

// Seconds converts one of the *Seconds fields to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("library.root_dir", filepath.Join(dataDir, "library"))
	v.SetDefault("library.temp_dir", filepath.Join(dataDir, "tmp"))
	v.SetDefault("library.database_path", filepath.Join(dataDir, "tunevault.db"))
	v.SetDefault("library.spool_dir", filepath.Join(dataDir, "spool"))

	v.SetDefault("queue.debounce_ms", 100)
	v.SetDefault("queue.completed_grace_seconds", 10)
	v.SetDefault("queue.failed_grace_seconds", 6*60*60)
	v.SetDefault("queue.max_active_owners", 0)
	v.SetDefault("queue.progress_interval_ms", 250)
	v.SetDefault("queue.max_error_length", 500)

	v.SetDefault("tools.ytdlp_path", "yt-dlp")
	v.SetDefault("tools.ffmpeg_path", "ffmpeg")
	v.SetDefault("tools.ffprobe_path", "ffprobe")
	v.SetDefault("tools.fpcalc_path", "fpcalc")
	v.SetDefault("tools.songrec_path", "songrec")
	v.SetDefault("tools.audio_format", "mp3")
	v.SetDefault("tools.download_timeout_seconds", 30*60)
	v.SetDefault("tools.split_timeout_seconds", 5*60)
	v.SetDefault("tools.fingerprint_seconds", 30)
	v.SetDefault("tools.tool_timeout_seconds", 60)

	v.SetDefault("metadata.acoustid_key", "")
	v.SetDefault("metadata.acoustid_url", "https://api.acoustid.org/v2")
	v.SetDefault("metadata.lastfm_key", "")
	v.SetDefault("metadata.lastfm_url", "https://ws.audioscrobbler.com/2.0/")
	v.SetDefault("metadata.musicbrainz_url", "https://musicbrainz.org/ws/2")
	v.SetDefault("metadata.user_agent", "TuneVault/1.0 ( https://github.com/tunevault/tunevault-go )")
	v.SetDefault("metadata.musicbrainz_rate_limit", 1.0)
	v.SetDefault("metadata.acoustid_rate_limit", 3.0)
	v.SetDefault("metadata.lastfm_rate_limit", 5.0)
	v.SetDefault("metadata.cache_ttl_minutes", 60)
	v.SetDefault("metadata.enrich_workers", 2)
	v.SetDefault("metadata.enrich_buffer", 256)
	v.SetDefault("metadata.embed_artwork", true)
	v.SetDefault("metadata.artwork_size", 600)
	v.SetDefault("metadata.write_tags", true)

	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.timeout", 15)
	v.SetDefault("network.max_retries", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "tunevault.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.listen", "")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if dir := os.Getenv("TUNEVAULT_HOME"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tunevault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "tunevault")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

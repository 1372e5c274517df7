package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is read when no config path is supplied. It is optional.
const DefaultPath = "musicstream.toml"

// Config captures the runtime configuration for the music streaming backend.
// It is built once at startup and passed by value to constructors.
type Config struct {
	Server           ServerConfig      `toml:"server"`
	Database         DatabaseConfig    `toml:"database"`
	Log              LogConfig         `toml:"log"`
	YTDLP            YTDLPConfig       `toml:"ytdlp"`
	Retry            RetryConfig       `toml:"retry"`
	Paths            PathsConfig       `toml:"paths"`
	ObjectStore      ObjectStoreConfig `toml:"object_store"`
	YouTube          YouTubeConfig     `toml:"youtube"`
	RateLimit        RateLimitConfig   `toml:"rate_limit"`
	Promoter         PromoterConfig    `toml:"promoter"`
	MetadataCacheTTL Duration          `toml:"metadata_cache_ttl"`
}

type ServerConfig struct {
	Port              int      `toml:"port"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig selects the catalog driver: "sqlite" or "pgx".
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type YTDLPConfig struct {
	Path      string   `toml:"path"`
	Timeout   Duration `toml:"timeout"`
	Cookies   string   `toml:"cookies"`
	UserAgent string   `toml:"user_agent"`
}

type RetryConfig struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
	MaxDelay  Duration `toml:"max_delay"`
}

type PathsConfig struct {
	LocalMusic   string `toml:"local_music"`
	CloudStaging string `toml:"cloud_staging"`
	StreamTemp   string `toml:"stream_temp"`
}

// ObjectStoreConfig describes the S3-compatible bucket holding uploaded songs.
type ObjectStoreConfig struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	PublicBaseURL   string `toml:"public_base_url"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Enabled reports whether a bucket has been configured.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type YouTubeConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   Duration `toml:"window"`
	Burst    int      `toml:"burst"`
}

type PromoterConfig struct {
	Workers int `toml:"workers"`
	Queue   int `toml:"queue"`
}

// Duration decodes TOML strings such as "2s" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() Config {
	tmp := os.TempDir()
	return Config{
		Server: ServerConfig{
			Port:              8000,
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{10 * time.Second},
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "musicstream.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		YTDLP: YTDLPConfig{
			Path:      "yt-dlp",
			Timeout:   Duration{2 * time.Minute},
			Cookies:   "/opt/music-stream-app/backend/cookies.txt",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: Duration{2 * time.Second},
			MaxDelay:  Duration{8 * time.Second},
		},
		Paths: PathsConfig{
			LocalMusic:   defaultMusicDir(),
			CloudStaging: filepath.Join(tmp, "musicstream"),
			StreamTemp:   tmp,
		},
		ObjectStore:      ObjectStoreConfig{Region: "us-east-1"},
		YouTube:          YouTubeConfig{BaseURL: "https://www.googleapis.com/youtube/v3"},
		RateLimit:        RateLimitConfig{Requests: 10, Window: Duration{time.Minute}, Burst: 5},
		Promoter:         PromoterConfig{Workers: 2, Queue: 16},
		MetadataCacheTTL: Duration{15 * time.Minute},
	}
}

// Load builds the configuration from defaults, the optional TOML file at path
// and MUSICSTREAM_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = getString("MUSICSTREAM_CONFIG", DefaultPath)
		explicit = os.Getenv("MUSICSTREAM_CONFIG") != ""
	}

	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getInt("MUSICSTREAM_PORT", cfg.Server.Port)
	cfg.Server.WriteTimeout.Duration = getDuration("MUSICSTREAM_WRITE_TIMEOUT", cfg.Server.WriteTimeout.Duration)
	cfg.Server.ShutdownTimeout.Duration = getDuration("MUSICSTREAM_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout.Duration)

	cfg.Database.Driver = getString("MUSICSTREAM_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getString("MUSICSTREAM_DATABASE_URL", cfg.Database.DSN)

	cfg.Log.Level = getString("MUSICSTREAM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getString("MUSICSTREAM_LOG_FORMAT", cfg.Log.Format)

	cfg.YTDLP.Path = getString("MUSICSTREAM_YTDLP_PATH", cfg.YTDLP.Path)
	cfg.YTDLP.Timeout.Duration = getDuration("MUSICSTREAM_YTDLP_TIMEOUT", cfg.YTDLP.Timeout.Duration)
	cfg.YTDLP.Cookies = getString("MUSICSTREAM_COOKIES_PATH", cfg.YTDLP.Cookies)

	cfg.Retry.Attempts = getInt("MUSICSTREAM_RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.BaseDelay.Duration = getDuration("MUSICSTREAM_RETRY_BASE_DELAY", cfg.Retry.BaseDelay.Duration)
	cfg.Retry.MaxDelay.Duration = getDuration("MUSICSTREAM_RETRY_MAX_DELAY", cfg.Retry.MaxDelay.Duration)

	cfg.Paths.LocalMusic = getString("MUSICSTREAM_LOCAL_MUSIC_DIR", cfg.Paths.LocalMusic)
	cfg.Paths.CloudStaging = getString("MUSICSTREAM_CLOUD_STAGING_DIR", cfg.Paths.CloudStaging)
	cfg.Paths.StreamTemp = getString("MUSICSTREAM_STREAM_TEMP_DIR", cfg.Paths.StreamTemp)

	cfg.ObjectStore.Bucket = getString("MUSICSTREAM_S3_BUCKET", cfg.ObjectStore.Bucket)
	cfg.ObjectStore.Region = getString("MUSICSTREAM_S3_REGION", cfg.ObjectStore.Region)
	cfg.ObjectStore.Endpoint = getString("MUSICSTREAM_S3_ENDPOINT", cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.PublicBaseURL = getString("MUSICSTREAM_S3_PUBLIC_BASE_URL", cfg.ObjectStore.PublicBaseURL)
	cfg.ObjectStore.AccessKeyID = getString("MUSICSTREAM_S3_ACCESS_KEY_ID", cfg.ObjectStore.AccessKeyID)
	cfg.ObjectStore.SecretAccessKey = getString("MUSICSTREAM_S3_SECRET_ACCESS_KEY", cfg.ObjectStore.SecretAccessKey)

	cfg.YouTube.APIKey = getString("MUSICSTREAM_YOUTUBE_API_KEY", cfg.YouTube.APIKey)
	cfg.YouTube.BaseURL = getString("MUSICSTREAM_YOUTUBE_BASE_URL", cfg.YouTube.BaseURL)

	cfg.RateLimit.Requests = getInt("MUSICSTREAM_RATE_LIMIT_REQUESTS", cfg.RateLimit.Requests)
	cfg.RateLimit.Window.Duration = getDuration("MUSICSTREAM_RATE_LIMIT_WINDOW", cfg.RateLimit.Window.Duration)
	cfg.RateLimit.Burst = getInt("MUSICSTREAM_RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Promoter.Workers = getInt("MUSICSTREAM_PROMOTER_WORKERS", cfg.Promoter.Workers)
	cfg.Promoter.Queue = getInt("MUSICSTREAM_PROMOTER_QUEUE", cfg.Promoter.Queue)

	cfg.MetadataCacheTTL.Duration = getDuration("MUSICSTREAM_METADATA_CACHE_TTL", cfg.MetadataCacheTTL.Duration)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or pgx, got %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.BaseDelay.Duration < 0 || c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.YTDLP.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("ytdlp.timeout must be positive"))
	}
	if strings.TrimSpace(c.Paths.LocalMusic) == "" {
		errs = append(errs, errors.New("paths.local_music is required"))
	}
	if c.ObjectStore.Enabled() && strings.TrimSpace(c.ObjectStore.Region) == "" {
		errs = append(errs, errors.New("object_store.region is required when a bucket is set"))
	}

	return errors.Join(errs...)
}

func defaultMusicDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "MusicStreamApp")
	}
	return filepath.Join(home, "Music", "MusicStreamApp")
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

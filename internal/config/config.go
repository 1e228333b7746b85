package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBDriver      = "sqlite"
	defaultDBDSN         = "scribe.db"
	defaultDataDir       = "data"
	defaultPublicURL     = "http://localhost:8080"
	defaultLeaseTimeout  = 60 * time.Second
	defaultReapInterval  = 60 * time.Second
	defaultRetention     = 7 * 24 * time.Hour
	defaultGCInterval    = 24 * time.Hour
	defaultLockTimeout   = 10 * time.Second
	defaultAlertInterval = time.Hour
	defaultBlobBackend   = "local"
	defaultMinIOBucket   = "scribe-images"

	envListenAddr      = "SCRIBE_LISTEN_ADDR"
	envDBDriver        = "SCRIBE_DB_DRIVER"
	envDBDSN           = "SCRIBE_DB_DSN"
	envLogLevel        = "SCRIBE_LOG_LEVEL"
	envLogFile         = "SCRIBE_LOG_FILE"
	envDataDir         = "SCRIBE_DATA_DIR"
	envPublicURL       = "SCRIBE_PUBLIC_URL"
	envLeaseTimeout    = "SCRIBE_LEASE_TIMEOUT"
	envReapInterval    = "SCRIBE_REAP_INTERVAL"
	envRetention       = "SCRIBE_RETENTION"
	envGCInterval      = "SCRIBE_GC_INTERVAL"
	envLockTimeout     = "SCRIBE_LOCK_TIMEOUT"
	envAlertInterval   = "SCRIBE_ALERT_INTERVAL"
	envAlertRecipients = "SCRIBE_ALERT_RECIPIENTS"
	envBlobBackend     = "SCRIBE_BLOB_BACKEND"
	envMinIOEndpoint   = "SCRIBE_MINIO_ENDPOINT"
	envMinIOAccessKey  = "SCRIBE_MINIO_ACCESS_KEY"
	envMinIOSecretKey  = "SCRIBE_MINIO_SECRET_KEY"
	envMinIOBucket     = "SCRIBE_MINIO_BUCKET"
	envMinIOUseSSL     = "SCRIBE_MINIO_USE_SSL"
	envCatalogFile     = "SCRIBE_CATALOG_FILE"
)

// MinIOConfig configures the object storage backend for uploaded images.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBDriver   string
	DBDSN      string
	LogLevel   slog.Level
	LogFile    string

	// DataDir holds result archives, model asset trees and locally stored images.
	DataDir   string
	PublicURL string

	LeaseTimeout  time.Duration
	ReapInterval  time.Duration
	Retention     time.Duration
	GCInterval    time.Duration
	LockTimeout   time.Duration
	AlertInterval time.Duration

	AlertRecipients []string

	BlobBackend string
	MinIO       MinIOConfig

	CatalogFile string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed durations fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBDriver:      defaultDBDriver,
		DBDSN:         defaultDBDSN,
		LogLevel:      slog.LevelInfo,
		DataDir:       defaultDataDir,
		PublicURL:     defaultPublicURL,
		LeaseTimeout:  defaultLeaseTimeout,
		ReapInterval:  defaultReapInterval,
		Retention:     defaultRetention,
		GCInterval:    defaultGCInterval,
		LockTimeout:   defaultLockTimeout,
		AlertInterval: defaultAlertInterval,
		BlobBackend:   defaultBlobBackend,
		MinIO:         MinIOConfig{Bucket: defaultMinIOBucket},
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBDriver); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := os.Getenv(envDBDSN); v != "" {
		cfg.DBDSN = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.LogFile = os.Getenv(envLogFile)
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envPublicURL); v != "" {
		cfg.PublicURL = strings.TrimRight(v, "/")
	}

	cfg.LeaseTimeout = durationEnv(envLeaseTimeout, cfg.LeaseTimeout)
	cfg.ReapInterval = durationEnv(envReapInterval, cfg.ReapInterval)
	cfg.Retention = durationEnv(envRetention, cfg.Retention)
	cfg.GCInterval = durationEnv(envGCInterval, cfg.GCInterval)
	cfg.LockTimeout = durationEnv(envLockTimeout, cfg.LockTimeout)
	cfg.AlertInterval = durationEnv(envAlertInterval, cfg.AlertInterval)

	if v := os.Getenv(envAlertRecipients); v != "" {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.AlertRecipients = append(cfg.AlertRecipients, r)
			}
		}
	}

	if v := os.Getenv(envBlobBackend); v != "" {
		cfg.BlobBackend = strings.ToLower(v)
	}
	cfg.MinIO.Endpoint = os.Getenv(envMinIOEndpoint)
	cfg.MinIO.AccessKey = os.Getenv(envMinIOAccessKey)
	cfg.MinIO.SecretKey = os.Getenv(envMinIOSecretKey)
	if v := os.Getenv(envMinIOBucket); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v, err := strconv.ParseBool(os.Getenv(envMinIOUseSSL)); err == nil {
		cfg.MinIO.UseSSL = v
	}

	cfg.CatalogFile = os.Getenv(envCatalogFile)

	return cfg
}

// Validate reports settings that cannot be used to start the server.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%s: unsupported driver %q", envDBDriver, c.DBDriver)
	}
	switch c.BlobBackend {
	case "local":
	case "minio":
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("%s is required for the minio backend", envMinIOEndpoint)
		}
	default:
		return fmt.Errorf("%s: unsupported backend %q", envBlobBackend, c.BlobBackend)
	}
	for name, d := range map[string]time.Duration{
		envLeaseTimeout:  c.LeaseTimeout,
		envReapInterval:  c.ReapInterval,
		envRetention:     c.Retention,
		envGCInterval:    c.GCInterval,
		envLockTimeout:   c.LockTimeout,
		envAlertInterval: c.AlertInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ArchiveDir is where per-request result archives live.
func (c Config) ArchiveDir() string { return filepath.Join(c.DataDir, "results") }

// ModelsDir holds one asset directory per model name.
func (c Config) ModelsDir() string { return filepath.Join(c.DataDir, "models") }

// ImagesDir holds uploaded source images, one directory per request.
func (c Config) ImagesDir() string { return filepath.Join(c.DataDir, "images") }

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{envListenAddr, envDBDriver, envDBDSN, envLogLevel, envLeaseTimeout, envBlobBackend} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBDriver != defaultDBDriver {
		t.Errorf("DBDriver = %q, want %q", cfg.DBDriver, defaultDBDriver)
	}
	if cfg.DBDSN != defaultDBDSN {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, defaultDBDSN)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.LeaseTimeout != 60*time.Second {
		t.Errorf("LeaseTimeout = %v, want 60s", cfg.LeaseTimeout)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Errorf("Retention = %v, want 168h", cfg.Retention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBDriver, "POSTGRES")
	t.Setenv(envDBDSN, "postgres://localhost/scribe")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envLeaseTimeout, "90s")
	t.Setenv(envReapInterval, "not-a-duration")
	t.Setenv(envAlertRecipients, "ops@example.org, ,dev@example.org")
	t.Setenv(envPublicURL, "https://ocr.example.org/")
	t.Setenv(envMinIOUseSSL, "true")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %q, want postgres", cfg.DBDriver)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.LeaseTimeout != 90*time.Second {
		t.Errorf("LeaseTimeout = %v, want 90s", cfg.LeaseTimeout)
	}
	if cfg.ReapInterval != defaultReapInterval {
		t.Errorf("ReapInterval = %v, want default %v", cfg.ReapInterval, defaultReapInterval)
	}
	if len(cfg.AlertRecipients) != 2 || cfg.AlertRecipients[1] != "dev@example.org" {
		t.Errorf("AlertRecipients = %v, want two entries", cfg.AlertRecipients)
	}
	if cfg.PublicURL != "https://ocr.example.org" {
		t.Errorf("PublicURL = %q, want trailing slash trimmed", cfg.PublicURL)
	}
	if !cfg.MinIO.UseSSL {
		t.Error("MinIO.UseSSL = false, want true")
	}
}

func TestValidate(t *testing.T) {
	base := Load()

	bad := base
	bad.DBDriver = "mysql"
	if err := bad.Validate(); err == nil {
		t.Error("Validate(mysql) = nil, want error")
	}

	bad = base
	bad.BlobBackend = "minio"
	bad.MinIO.Endpoint = ""
	if err := bad.Validate(); err == nil {
		t.Error("Validate(minio without endpoint) = nil, want error")
	}

	bad = base
	bad.LockTimeout = 0
	if err := bad.Validate(); err == nil {
		t.Error("Validate(zero lock timeout) = nil, want error")
	}
}

func TestDataDirs(t *testing.T) {
	cfg := Config{DataDir: "/srv/scribe"}
	if got := cfg.ArchiveDir(); got != "/srv/scribe/results" {
		t.Errorf("ArchiveDir = %q", got)
	}
	if got := cfg.ModelsDir(); got != "/srv/scribe/models" {
		t.Errorf("ModelsDir = %q", got)
	}
	if got := cfg.ImagesDir(); got != "/srv/scribe/images" {
		t.Errorf("ImagesDir = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestFanoutLogger(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewFanoutLogger(&console, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("page leased", "page_id", "p-1")

	if !strings.Contains(console.String(), "page leased") {
		t.Errorf("console output = %q, want message", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("console output contains debug message below level")
	}
	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file output is not valid JSON: %v", err)
	}
	if entry["page_id"] != "p-1" {
		t.Errorf("page_id = %v, want p-1", entry["page_id"])
	}
}

func TestSetupLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.log")
	logger, cleanup, err := SetupLogger(Config{LogFile: path, LogLevel: slog.LevelInfo})
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	logger.Info("started")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"started"`) {
		t.Errorf("log file = %q, want JSON entry", data)
	}
}

const testCatalog = `
api_keys:
  - key: user-secret
    owner: library
    permission: USER
  - key: worker-secret
    owner: gpu-1
    permission: SUPER_USER
models:
  - name: layout
    config_file: layout.ini
  - name: ocr
    config: |
      [OCR]
      height = 40
engines:
  - name: printed
    description: printed text
    versions:
      - version: "1.0"
        models: [layout, ocr]
`

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "layout.ini"), []byte("[LAYOUT]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(c.ApiKeys) != 2 {
		t.Errorf("len(ApiKeys) = %d, want 2", len(c.ApiKeys))
	}
	if c.Models[0].Config != "[LAYOUT]\n" {
		t.Errorf("layout config = %q, want file contents", c.Models[0].Config)
	}
	if !strings.Contains(c.Models[1].Config, "height = 40") {
		t.Errorf("ocr config = %q, want inline text", c.Models[1].Config)
	}
	if got := c.Engines[0].Versions[0].Models; len(got) != 2 {
		t.Errorf("version models = %v, want 2", got)
	}
}

func TestLoadCatalogRejectsBadModelCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := `
models:
  - name: only
    config: x
engines:
  - name: e
    versions:
      - version: "1"
        models: [only]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Error("LoadCatalog with one model = nil error, want error")
	}
}

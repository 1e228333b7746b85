// testserver starts a scribe server on an in-memory database with a seeded
// catalog for end-to-end tests.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/seantiz/scribe/internal/app"
	"github.com/seantiz/scribe/internal/config"
)

// Keys seeded for tests.
const (
	userKey   = "e2e-user"
	workerKey = "e2e-worker"
)

var catalog = &config.Catalog{
	ApiKeys: []config.CatalogKey{
		{Key: userKey, Owner: "e2e", Permission: "USER"},
		{Key: workerKey, Owner: "e2e-worker", Permission: "SUPER_USER"},
	},
	Models: []config.CatalogModel{
		{Name: "layout", Config: "[LAYOUT]\nthreshold = 0.5\n"},
		{Name: "ocr", Config: "[OCR]\nline_height = 40\n"},
		{Name: "decoder", Config: "[DECODER]\nbeam = 8\n"},
	},
	Engines: []config.CatalogEngine{
		{Name: "printed", Description: "printed text", Versions: []config.CatalogVersion{
			{Version: "1.0", Models: []string{"layout", "ocr"}},
		}},
		{Name: "handwritten", Description: "handwriting", Versions: []config.CatalogVersion{
			{Version: "1.0", Models: []string{"layout", "ocr", "decoder"}},
		}},
	},
}

func main() {
	dataDir, err := os.MkdirTemp("", "scribe-testserver-")
	if err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	defer os.RemoveAll(dataDir)

	cfg := config.Load()
	cfg.DBDriver = "sqlite"
	cfg.DBDSN = ":memory:"
	cfg.DataDir = dataDir
	cfg.BlobBackend = "local"
	if os.Getenv("SCRIBE_LEASE_TIMEOUT") == "" {
		cfg.LeaseTimeout = 2 * time.Second
		cfg.ReapInterval = 500 * time.Millisecond
	}

	for _, m := range catalog.Models {
		dir := filepath.Join(cfg.ModelsDir(), m.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create model dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "weights.bin"), []byte(m.Name), 0o644); err != nil {
			log.Fatalf("write model assets: %v", err)
		}
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, catalog, logger)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

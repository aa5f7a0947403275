// Package workspace lays out a lab workspace on disk and wires its
// components together.
//
// A workspace is a directory containing:
//
//	.lab/config.yaml
//	.lab/db/index.db
//	.lab/storage/blobs/...
//	.lab/storage/thumbnails/...
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/config"
	"github.com/yangwenmai/labnotebook/internal/engine"
	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/metrics"
	"github.com/yangwenmai/labnotebook/internal/store"
	"github.com/yangwenmai/labnotebook/internal/worker"
)

// DirName is the hidden directory holding workspace state.
const DirName = ".lab"

// ErrNotInitialized is returned by Open when dir has no workspace.
var ErrNotInitialized = errors.New("workspace not initialized (run `labnb init`)")

// Paths are the locations of workspace state under a root directory.
type Paths struct {
	Root    string `json:"root"`
	Config  string `json:"config"`
	DB      string `json:"db"`
	Storage string `json:"storage"`
}

// PathsFor returns the layout under root.
func PathsFor(root string) Paths {
	lab := filepath.Join(root, DirName)
	return Paths{
		Root:    root,
		Config:  filepath.Join(lab, "config.yaml"),
		DB:      filepath.Join(lab, "db", "index.db"),
		Storage: filepath.Join(lab, "storage"),
	}
}

// Init creates the workspace directories, a default config.yaml when none
// exists and the database schema. It is safe to run on an existing
// workspace.
func Init(root string) (Paths, error) {
	p := PathsFor(root)
	for _, dir := range []string{filepath.Dir(p.DB), p.Storage} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return p, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(p.Config); errors.Is(err, fs.ErrNotExist) {
		if err := config.Default().WriteFile(p.Config); err != nil {
			return p, fmt.Errorf("write config: %w", err)
		}
	}
	db, err := store.OpenSQLite(p.DB)
	if err != nil {
		return p, err
	}
	defer db.Close()
	if _, err := store.New(db); err != nil {
		return p, fmt.Errorf("init store: %w", err)
	}
	if _, err := blob.Open(p.Storage, blob.Options{}); err != nil {
		return p, err
	}
	return p, nil
}

// Workspace holds the opened components of a workspace.
type Workspace struct {
	Paths    Paths
	Config   config.Config
	Store    *store.Store
	Blobs    *blob.Store
	Registry *integration.Registry
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// Open opens an initialized workspace. A nil logger uses slog.Default.
func Open(root string, cfg config.Config, log *slog.Logger) (*Workspace, error) {
	if log == nil {
		log = slog.Default()
	}
	p := PathsFor(root)
	if _, err := os.Stat(p.DB); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := store.OpenSQLite(p.DB)
	if err != nil {
		return nil, err
	}
	st, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	blobs, err := blob.Open(p.Storage, blob.Options{
		ThumbnailSize:      cfg.ThumbnailSize,
		ThumbnailQuality:   cfg.ThumbnailQuality,
		MaxThumbnailPixels: cfg.MaxThumbnailPixels,
		AsyncThumbnails:    cfg.AsyncThumbnails,
		Metrics:            m,
		Logger:             log,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := integration.NewDefaultRegistry(integration.Deps{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Variables:  st,
		Logger:     log,
	})

	eng := engine.New(engine.Config{
		Repo:     st,
		Queue:    st,
		Blobs:    blobs,
		Registry: registry,
		Metrics:  m,
		Logger:   log,
	})

	return &Workspace{
		Paths:    p,
		Config:   cfg,
		Store:    st,
		Blobs:    blobs,
		Registry: registry,
		Engine:   eng,
		Metrics:  m,
		Gatherer: reg,
		Log:      log,
	}, nil
}

// Worker returns a queue worker configured from the workspace config.
func (w *Workspace) Worker() *worker.Worker {
	return worker.New(w.Store, w.Engine, w.Config.WorkerInterval, w.Config.WorkerConcurrency, w.Log)
}

// Close waits for pending thumbnails and closes the database.
func (w *Workspace) Close() error {
	w.Blobs.Wait()
	return w.Store.Close()
}

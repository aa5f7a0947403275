// Package engine implements the entry state machine and the notebook
// operations built around it.
package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/lineage"
	"github.com/yangwenmai/labnotebook/internal/metrics"
	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/store"
)

// Config holds the collaborators of an Engine. Queue, Metrics and Logger
// are optional.
type Config struct {
	Repo     store.Repository
	Queue    store.ExecutionQueue
	Blobs    *blob.Store
	Registry *integration.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Engine creates, executes and relates entries.
type Engine struct {
	repo     store.Repository
	queue    store.ExecutionQueue
	blobs    *blob.Store
	registry *integration.Registry
	graph    *lineage.Graph
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		repo:     cfg.Repo,
		queue:    cfg.Queue,
		blobs:    cfg.Blobs,
		registry: cfg.Registry,
		graph:    lineage.New(cfg.Repo, cfg.Repo, cfg.Metrics),
		metrics:  cfg.Metrics,
		log:      log,
	}
}

// Registry returns the integration registry used for dispatch.
func (e *Engine) Registry() *integration.Registry { return e.registry }

// Blobs returns the content store.
func (e *Engine) Blobs() *blob.Store { return e.blobs }

// newID returns prefix + "-" + a time-ordered UUID.
func newID(prefix string) string {
	return prefix + "-" + uuid.Must(uuid.NewV7()).String()
}

// ---------------------------------------------------------------------------
// Notebooks
// ---------------------------------------------------------------------------

// CreateNotebook creates a notebook.
func (e *Engine) CreateNotebook(ctx context.Context, title, description string, metadata model.Object) (*model.Notebook, error) {
	if title == "" {
		return nil, model.InvalidInput("notebook title is required")
	}
	nb := model.NewNotebook(newID("nb"), title, description)
	if metadata != nil {
		nb.Metadata = metadata
	}
	if err := e.repo.CreateNotebook(ctx, nb); err != nil {
		return nil, err
	}
	e.log.Info("notebook created", "notebook_id", nb.ID)
	return &nb, nil
}

func (e *Engine) GetNotebook(ctx context.Context, id string) (*model.Notebook, error) {
	return e.repo.GetNotebook(ctx, id)
}

func (e *Engine) ListNotebooks(ctx context.Context) ([]model.Notebook, error) {
	nbs, err := e.repo.ListNotebooks(ctx)
	if nbs == nil {
		nbs = []model.Notebook{}
	}
	return nbs, err
}

// UpdateNotebook applies the set fields of p.
func (e *Engine) UpdateNotebook(ctx context.Context, id string, p model.NotebookPatch) (*model.Notebook, error) {
	nb, err := e.repo.GetNotebook(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		if *p.Title == "" {
			return nil, model.InvalidInput("notebook title must not be empty")
		}
		nb.Title = *p.Title
	}
	if p.Description != nil {
		nb.Description = *p.Description
	}
	if p.Metadata != nil {
		nb.Metadata = *p.Metadata
	}
	nb.UpdatedAt = model.Now()
	if err := e.repo.UpdateNotebook(ctx, *nb); err != nil {
		return nil, err
	}
	return nb, nil
}

// DeleteNotebook removes a notebook together with its pages and entries.
func (e *Engine) DeleteNotebook(ctx context.Context, id string) error {
	ok, err := e.repo.DeleteNotebook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFound("notebook", id)
	}
	e.log.Info("notebook deleted", "notebook_id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

// CreatePage creates a page in an existing notebook.
func (e *Engine) CreatePage(ctx context.Context, notebookID, title, description string) (*model.Page, error) {
	if title == "" {
		return nil, model.InvalidInput("page title is required")
	}
	if _, err := e.repo.GetNotebook(ctx, notebookID); err != nil {
		return nil, err
	}
	p := model.NewPage(newID("page"), notebookID, title, description)
	if err := e.repo.CreatePage(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Engine) GetPage(ctx context.Context, id string) (*model.Page, error) {
	return e.repo.GetPage(ctx, id)
}

// ListPages returns the pages of a notebook.
func (e *Engine) ListPages(ctx context.Context, notebookID string) ([]model.Page, error) {
	if _, err := e.repo.GetNotebook(ctx, notebookID); err != nil {
		return nil, err
	}
	pages, err := e.repo.ListPages(ctx, notebookID)
	if pages == nil {
		pages = []model.Page{}
	}
	return pages, err
}

// UpdatePage applies the set fields of p. Narrative keys are merged.
func (e *Engine) UpdatePage(ctx context.Context, id string, p model.PagePatch) (*model.Page, error) {
	page, err := e.repo.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		if *p.Title == "" {
			return nil, model.InvalidInput("page title must not be empty")
		}
		page.Title = *p.Title
	}
	if p.Description != nil {
		page.Description = *p.Description
	}
	if p.Narrative != nil {
		page.Narrative = model.MergeOneLevel(page.Narrative, p.Narrative)
	}
	page.UpdatedAt = model.Now()
	if err := e.repo.UpdatePage(ctx, *page); err != nil {
		return nil, err
	}
	return page, nil
}

// DeletePage removes a page together with its entries.
func (e *Engine) DeletePage(ctx context.Context, id string) error {
	ok, err := e.repo.DeletePage(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFound("page", id)
	}
	return nil
}

package store

import (
	"context"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// NotebookStore provides access to notebooks.
type NotebookStore interface {
	CreateNotebook(ctx context.Context, nb model.Notebook) error
	GetNotebook(ctx context.Context, id string) (*model.Notebook, error)
	ListNotebooks(ctx context.Context) ([]model.Notebook, error)
	UpdateNotebook(ctx context.Context, nb model.Notebook) error
	DeleteNotebook(ctx context.Context, id string) (bool, error)
}

// PageStore provides access to pages.
type PageStore interface {
	CreatePage(ctx context.Context, p model.Page) error
	GetPage(ctx context.Context, id string) (*model.Page, error)
	ListPages(ctx context.Context, notebookID string) ([]model.Page, error)
	UpdatePage(ctx context.Context, p model.Page) error
	DeletePage(ctx context.Context, id string) (bool, error)
}

// EntryReader provides read access to entries.
type EntryReader interface {
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	GetEntries(ctx context.Context, ids []string) (map[string]model.Entry, error)
	ListEntries(ctx context.Context, pageID string) ([]model.Entry, error)
	SearchEntries(ctx context.Context, f model.EntryFilter) ([]model.Entry, error)
}

// EntryWriter provides write access to entries.
type EntryWriter interface {
	CreateEntry(ctx context.Context, e model.Entry) error
	UpdateEntry(ctx context.Context, e model.Entry) error
	RecordExecution(ctx context.Context, e model.Entry) error
	DeleteEntry(ctx context.Context, id string) (bool, error)
}

// LineageStore stores lineage edges and answers one BFS level per call.
type LineageStore interface {
	AddEdge(ctx context.Context, edge model.LineageEdge) (bool, error)
	EdgesByChild(ctx context.Context, childIDs []string) ([]model.LineageEdge, error)
	EdgesByParent(ctx context.Context, parentIDs []string) ([]model.LineageEdge, error)
}

// ArtifactStore provides access to artifact records.
type ArtifactStore interface {
	InsertArtifact(ctx context.Context, a model.Artifact) (model.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	GetArtifactByHash(ctx context.Context, hash string) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, entryID string) ([]model.Artifact, error)
	HashReferenced(ctx context.Context, hash string) (bool, error)
}

// VariableStore provides access to integration default variables.
type VariableStore interface {
	SetVariable(ctx context.Context, v model.IntegrationVariable) error
	GetVariable(ctx context.Context, integrationType, name string) (*model.IntegrationVariable, error)
	ListVariables(ctx context.Context, integrationType string) ([]model.IntegrationVariable, error)
	DeleteVariable(ctx context.Context, integrationType, name string) (bool, error)
}

// ExecutionQueue provides the background execution queue.
type ExecutionQueue interface {
	EnqueueExecution(ctx context.Context, entryID string) (int64, error)
	ClaimNextExecution(ctx context.Context) (*QueuedExecution, error)
	FinishExecution(ctx context.Context, id int64, errText *string) error
	RequeueClaimed(ctx context.Context) (int64, error)
	FailStaleRunning(ctx context.Context, reason string) (int64, error)
}

// Repository combines every store used by the engine.
type Repository interface {
	NotebookStore
	PageStore
	EntryReader
	EntryWriter
	LineageStore
	ArtifactStore
	VariableStore
}

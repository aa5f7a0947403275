package engine

import (
	"context"
	"errors"

	"github.com/yangwenmai/labnotebook/internal/lineage"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// CreateEntryParams describes a new entry.
type CreateEntryParams struct {
	PageID    string
	EntryType string
	Title     string
	Inputs    model.Object
	ParentID  *string
	Tags      []string
}

// CreateEntry creates an entry in the created state. When ParentID is set a
// derives_from edge is added from the parent to the new entry.
//
// The page and the parent are checked before anything is written.
func (e *Engine) CreateEntry(ctx context.Context, p CreateEntryParams) (*model.Entry, error) {
	if p.EntryType == "" {
		return nil, model.InvalidInput("entry_type is required")
	}
	if p.Title == "" {
		return nil, model.InvalidInput("title is required")
	}
	if _, err := e.repo.GetPage(ctx, p.PageID); err != nil {
		return nil, err
	}
	if p.ParentID != nil {
		if err := e.requireEntry(ctx, "parent_id", *p.ParentID); err != nil {
			return nil, err
		}
	}

	entry := model.NewEntry(newID("entry"), p.PageID, p.EntryType, p.Title, p.Inputs.Clone(), p.ParentID, p.Tags)
	if err := e.repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	e.log.Info("entry created", "entry_id", entry.ID, "entry_type", entry.EntryType, "page_id", entry.PageID)
	return &entry, nil
}

// requireEntry reports a *model.ReferenceError when id does not exist.
func (e *Engine) requireEntry(ctx context.Context, field, id string) error {
	_, err := e.repo.GetEntry(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return &model.ReferenceError{Field: field, ID: id}
	}
	return err
}

// GetEntry returns an entry with its artifacts.
func (e *Engine) GetEntry(ctx context.Context, id string) (*model.EntryWithArtifacts, error) {
	entry, err := e.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	arts, err := e.repo.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.EntryWithArtifacts{Entry: *entry, Artifacts: arts}, nil
}

// ListEntries returns the entries of a page, oldest first.
func (e *Engine) ListEntries(ctx context.Context, pageID string) ([]model.Entry, error) {
	if _, err := e.repo.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	entries, err := e.repo.ListEntries(ctx, pageID)
	if entries == nil {
		entries = []model.Entry{}
	}
	return entries, err
}

// SearchEntries returns entries matching f, newest first.
func (e *Engine) SearchEntries(ctx context.Context, f model.EntryFilter) ([]model.Entry, error) {
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return nil, model.InvalidInput("unknown status %q", f.Status)
	}
	if f.Limit < 0 {
		return nil, model.InvalidInput("limit must not be negative")
	}
	f.Tags = model.NormalizeTags(f.Tags)
	entries, err := e.repo.SearchEntries(ctx, f)
	if entries == nil {
		entries = []model.Entry{}
	}
	return entries, err
}

// UpdateEntry applies a whitelisted patch and persists the entry. Setting
// tags also refreshes the tag copy kept in metadata.
func (e *Engine) UpdateEntry(ctx context.Context, id string, p model.EntryPatch) (*model.Entry, error) {
	if p.Status != nil && !model.ValidStatus(*p.Status) {
		return nil, model.InvalidInput("unknown status %q", *p.Status)
	}
	if p.Title != nil && *p.Title == "" {
		return nil, model.InvalidInput("title must not be empty")
	}
	entry, err := e.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Apply(entry)
	if p.Tags != nil {
		if entry.Metadata == nil {
			entry.Metadata = model.NewEntryMetadata(entry.Tags)
		} else {
			entry.Metadata = entry.Metadata.Clone()
			entry.Metadata["tags"] = model.NewEntryMetadata(entry.Tags)["tags"]
		}
	}
	entry.UpdatedAt = model.Now()
	if err := e.repo.UpdateEntry(ctx, *entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteEntry removes an entry, its artifact records and its lineage edges.
// Blobs stay in the content store.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	ok, err := e.repo.DeleteEntry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFound("entry", id)
	}
	e.log.Info("entry deleted", "entry_id", id)
	return nil
}

// VariationParams describes a variation of an existing entry. An empty
// Title derives one from the original; nil Tags copies the original's.
type VariationParams struct {
	Title     string
	Overrides model.Object
	Tags      []string
}

// CreateVariation creates a new entry whose inputs are the original's with
// overrides merged one level deep. The variation records the original as its
// parent_id but is linked in the lineage graph only by a variation_of edge.
func (e *Engine) CreateVariation(ctx context.Context, originalID string, p VariationParams) (*model.Entry, error) {
	orig, err := e.repo.GetEntry(ctx, originalID)
	if err != nil {
		return nil, err
	}
	title := p.Title
	if title == "" {
		title = orig.Title + " (variation)"
	}
	tags := p.Tags
	if tags == nil {
		tags = orig.Tags
	}

	// Created without a parent so no derives_from edge is written.
	v, err := e.CreateEntry(ctx, CreateEntryParams{
		PageID:    orig.PageID,
		EntryType: orig.EntryType,
		Title:     title,
		Inputs:    model.MergeOneLevel(orig.Inputs, p.Overrides),
		Tags:      tags,
	})
	if err != nil {
		return nil, err
	}

	v.ParentID = &orig.ID
	v.UpdatedAt = model.Now()
	if err := e.repo.UpdateEntry(ctx, *v); err != nil {
		return nil, err
	}
	if _, err := e.repo.AddEdge(ctx, model.LineageEdge{
		ParentID:         orig.ID,
		ChildID:          v.ID,
		RelationshipType: model.RelVariationOf,
		CreatedAt:        model.Now(),
	}); err != nil {
		return nil, err
	}
	e.log.Info("variation created", "entry_id", v.ID, "original_id", orig.ID)
	return v, nil
}

// Lineage expands up to depth hops of ancestors and descendants.
func (e *Engine) Lineage(ctx context.Context, id string, depth int) (*model.Lineage, error) {
	if err := lineage.ValidateDepth(depth); err != nil {
		return nil, err
	}
	entry, err := e.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	ancestors, err := e.graph.Ancestors(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	descendants, err := e.graph.Descendants(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	if ancestors == nil {
		ancestors = []model.Entry{}
	}
	if descendants == nil {
		descendants = []model.Entry{}
	}
	return &model.Lineage{Entry: *entry, Ancestors: ancestors, Descendants: descendants}, nil
}

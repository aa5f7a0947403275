package model

import (
	"slices"
	"strings"
)

// Entry status constants
const (
	StatusCreated   = "created"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution status constants
const (
	ExecutionRunning = "running"
	ExecutionSuccess = "success"
	ExecutionError   = "error"
)

// Relationship types for lineage edges.
const (
	RelDerivesFrom = "derives_from"
	RelVariationOf = "variation_of"
)

// ValidStatus reports whether s is one of the entry states.
func ValidStatus(s string) bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidRelationship reports whether r is a known lineage relationship type.
func ValidRelationship(r string) bool {
	return r == RelDerivesFrom || r == RelVariationOf
}

// Execution records the timing and outcome of the latest execution attempt.
type Execution struct {
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Entry is a single executable unit of work within a page.
type Entry struct {
	ID        string     `json:"id"`
	PageID    string     `json:"page_id"`
	EntryType string     `json:"entry_type"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	ParentID  *string    `json:"parent_id"`
	Inputs    Object     `json:"inputs"`
	Outputs   Object     `json:"outputs"`
	Execution *Execution `json:"execution,omitempty"`
	Metrics   Object     `json:"metrics"`
	Metadata  Object     `json:"metadata"`
	Tags      []string   `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// EntryWithArtifacts is an Entry together with its stored artifacts.
type EntryWithArtifacts struct {
	Entry
	Artifacts []Artifact `json:"artifacts"`
}

// NewEntry creates a new Entry in the created state with a normalized
// metadata block.
func NewEntry(id, pageID, entryType, title string, inputs Object, parentID *string, tags []string) Entry {
	now := Now()
	tags = NormalizeTags(tags)
	if inputs == nil {
		inputs = Object{}
	}
	return Entry{
		ID:        id,
		PageID:    pageID,
		EntryType: entryType,
		Title:     title,
		Status:    StatusCreated,
		ParentID:  parentID,
		Inputs:    inputs,
		Outputs:   Object{},
		Metrics:   Object{},
		Metadata:  NewEntryMetadata(tags),
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewEntryMetadata returns the default metadata block for a new entry.
func NewEntryMetadata(tags []string) Object {
	t := make([]any, len(tags))
	for i, tag := range tags {
		t[i] = tag
	}
	return Object{
		"tags":     t,
		"notes":    "",
		"rating":   nil,
		"archived": false,
	}
}

// NormalizeTags trims, drops empty values, removes duplicates and sorts.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// EntryPatch holds the whitelisted fields an update may change. Nil fields
// are left untouched.
type EntryPatch struct {
	Title     *string    `json:"title,omitempty"`
	Status    *string    `json:"status,omitempty"`
	Outputs   *Object    `json:"outputs,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
	Metrics   *Object    `json:"metrics,omitempty"`
	Metadata  *Object    `json:"metadata,omitempty"`
	Tags      *[]string  `json:"tags,omitempty"`
}

// Apply copies the set fields of p onto e.
func (p EntryPatch) Apply(e *Entry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Outputs != nil {
		e.Outputs = *p.Outputs
	}
	if p.Execution != nil {
		x := *p.Execution
		e.Execution = &x
	}
	if p.Metrics != nil {
		e.Metrics = *p.Metrics
	}
	if p.Metadata != nil {
		e.Metadata = *p.Metadata
	}
	if p.Tags != nil {
		e.Tags = NormalizeTags(*p.Tags)
	}
}

// EntryFilter holds query parameters for searching entries.
type EntryFilter struct {
	NotebookID string
	PageID     string
	EntryType  string
	Status     string
	Tags       []string
	Since      string
	Until      string
	Query      string
	Limit      int
}

// LineageEdge is a directed, typed link between two entries.
type LineageEdge struct {
	ParentID         string `json:"parent_id"`
	ChildID          string `json:"child_id"`
	RelationshipType string `json:"relationship_type"`
	CreatedAt        string `json:"created_at"`
}

// Lineage is the result of a bounded ancestor/descendant expansion.
type Lineage struct {
	Entry       Entry   `json:"entry"`
	Ancestors   []Entry `json:"ancestors"`
	Descendants []Entry `json:"descendants"`
}

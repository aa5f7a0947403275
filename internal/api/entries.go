package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/yangwenmai/labnotebook/internal/engine"
	"github.com/yangwenmai/labnotebook/internal/lineage"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// POST /api/pages/{id}/entries
// ---------------------------------------------------------------------------

type createEntryRequest struct {
	EntryType string       `json:"entry_type" validate:"required"`
	Title     string       `json:"title" validate:"required,max=200"`
	Inputs    model.Object `json:"inputs"`
	ParentID  *string      `json:"parent_id" validate:"omitempty,min=1"`
	Tags      []string     `json:"tags"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	e, err := s.eng.CreateEntry(r.Context(), engine.CreateEntryParams{
		PageID:    r.PathValue("id"),
		EntryType: req.EntryType,
		Title:     req.Title,
		Inputs:    req.Inputs,
		ParentID:  req.ParentID,
		Tags:      req.Tags,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.eng.ListEntries(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// GET /api/entries
// ---------------------------------------------------------------------------

func (s *Server) handleSearchEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EntryFilter{
		NotebookID: q.Get("notebook_id"),
		PageID:     q.Get("page_id"),
		EntryType:  q.Get("entry_type"),
		Status:     q.Get("status"),
		Tags:       splitComma(q.Get("tags")),
		Since:      q.Get("since"),
		Until:      q.Get("until"),
		Query:      q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = n
	}
	entries, err := s.eng.SearchEntries(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// /api/entries/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.eng.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req model.EntryPatch
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	e, err := s.eng.UpdateEntry(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteEntry(r.Context(), r.PathValue("id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/entries/{id}/execute
// ---------------------------------------------------------------------------

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		qid, err := s.eng.Enqueue(r.Context(), id)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"entry_id": id, "queue_id": qid, "status": "queued"})
		return
	}

	e, err := s.eng.Execute(r.Context(), id)
	if err != nil {
		if e == nil {
			s.writeErr(w, r, err)
			return
		}
		// The failure was recorded on the entry; return both.
		status, kind := errorKind(err)
		writeJSON(w, status, map[string]any{"error": err.Error(), "kind": kind, "entry": e})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ---------------------------------------------------------------------------
// POST /api/entries/{id}/variations
// ---------------------------------------------------------------------------

type variationRequest struct {
	Title     string       `json:"title" validate:"max=200"`
	Overrides model.Object `json:"overrides"`
	Tags      []string     `json:"tags"`
}

func (s *Server) handleCreateVariation(w http.ResponseWriter, r *http.Request) {
	var req variationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	v, err := s.eng.CreateVariation(r.Context(), r.PathValue("id"), engine.VariationParams{
		Title:     req.Title,
		Overrides: req.Overrides,
		Tags:      req.Tags,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ---------------------------------------------------------------------------
// GET /api/entries/{id}/lineage
// ---------------------------------------------------------------------------

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	depth := lineage.DefaultDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "depth must be an integer")
			return
		}
		depth = n
	}
	lin, err := s.eng.Lineage(r.Context(), r.PathValue("id"), depth)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lin)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.eng.ListArtifacts(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, arts)
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.eng.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleArtifactContent(w http.ResponseWriter, r *http.Request) {
	a, rd, err := s.eng.OpenArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer rd.Close()
	w.Header().Set("Content-Type", a.Type)
	w.Header().Set("ETag", `"`+a.Hash+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, rd)
}

func (s *Server) handleArtifactThumbnail(w http.ResponseWriter, r *http.Request) {
	data, err := s.eng.ArtifactThumbnail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

// ---------------------------------------------------------------------------
// Integrations and variables
// ---------------------------------------------------------------------------

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Integrations())
}

type validateInputsRequest struct {
	Inputs model.Object `json:"inputs"`
}

func (s *Server) handleValidateInputs(w http.ResponseWriter, r *http.Request) {
	var req validateInputsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	err := s.eng.ValidateInputs(r.Context(), r.PathValue("type"), req.Inputs)
	if errors.Is(err, model.ErrInvalidInput) {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.eng.ListVariables(r.Context(), r.URL.Query().Get("integration_type"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

func (s *Server) handleVariableTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.IntegrationTypes())
}

func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	v, err := s.eng.GetVariable(r.Context(), r.PathValue("type"), r.PathValue("name"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type setVariableRequest struct {
	Value       any    `json:"value"`
	Description string `json:"description"`
	IsSecret    bool   `json:"is_secret"`
}

func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	var req setVariableRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	v, err := s.eng.SetVariable(r.Context(), model.IntegrationVariable{
		IntegrationType: r.PathValue("type"),
		Name:            r.PathValue("name"),
		Value:           req.Value,
		Description:     req.Description,
		IsSecret:        req.IsSecret,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteVariable(r.Context(), r.PathValue("type"), r.PathValue("name")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

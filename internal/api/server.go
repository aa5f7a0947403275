package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yangwenmai/labnotebook/internal/engine"
	"github.com/yangwenmai/labnotebook/internal/metrics"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// defaultMaxBody is the request body limit when Options.MaxBodyBytes is 0
// (32 MiB).
const defaultMaxBody int64 = 32 << 20

// Options configure a Server. Zero values select defaults.
type Options struct {
	CORSOrigin   string
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	eng  *engine.Engine
	mux  *http.ServeMux
	opts Options
	log  *slog.Logger
}

// New creates a new API server.
func New(eng *engine.Engine, opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{eng: eng, mux: http.NewServeMux(), opts: opts, log: log}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(corsMiddleware(s.opts.CORSOrigin, limitBody(s.opts.MaxBodyBytes, s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("POST /api/notebooks", s.handleCreateNotebook)
	s.mux.HandleFunc("GET /api/notebooks", s.handleListNotebooks)
	s.mux.HandleFunc("GET /api/notebooks/{id}", s.handleGetNotebook)
	s.mux.HandleFunc("PATCH /api/notebooks/{id}", s.handleUpdateNotebook)
	s.mux.HandleFunc("DELETE /api/notebooks/{id}", s.handleDeleteNotebook)
	s.mux.HandleFunc("POST /api/notebooks/{id}/pages", s.handleCreatePage)
	s.mux.HandleFunc("GET /api/notebooks/{id}/pages", s.handleListPages)

	s.mux.HandleFunc("GET /api/pages/{id}", s.handleGetPage)
	s.mux.HandleFunc("PATCH /api/pages/{id}", s.handleUpdatePage)
	s.mux.HandleFunc("DELETE /api/pages/{id}", s.handleDeletePage)
	s.mux.HandleFunc("POST /api/pages/{id}/entries", s.handleCreateEntry)
	s.mux.HandleFunc("GET /api/pages/{id}/entries", s.handleListEntries)

	s.mux.HandleFunc("GET /api/entries", s.handleSearchEntries)
	s.mux.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	s.mux.HandleFunc("PATCH /api/entries/{id}", s.handleUpdateEntry)
	s.mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	s.mux.HandleFunc("POST /api/entries/{id}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/entries/{id}/variations", s.handleCreateVariation)
	s.mux.HandleFunc("GET /api/entries/{id}/lineage", s.handleLineage)
	s.mux.HandleFunc("GET /api/entries/{id}/artifacts", s.handleListArtifacts)

	s.mux.HandleFunc("POST /api/artifacts", s.handleUpload)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleGetArtifact)
	s.mux.HandleFunc("GET /api/artifacts/{id}/content", s.handleArtifactContent)
	s.mux.HandleFunc("GET /api/artifacts/{id}/thumbnail", s.handleArtifactThumbnail)

	s.mux.HandleFunc("GET /api/blobs/{ref}", s.handleGetContent)
	s.mux.HandleFunc("GET /api/blobs/{ref}/info", s.handleContentInfo)

	s.mux.HandleFunc("GET /api/integrations", s.handleListIntegrations)
	s.mux.HandleFunc("POST /api/integrations/{type}/validate", s.handleValidateInputs)

	s.mux.HandleFunc("GET /api/variables", s.handleListVariables)
	s.mux.HandleFunc("GET /api/variables/types", s.handleVariableTypes)
	s.mux.HandleFunc("GET /api/variables/{type}/{name}", s.handleGetVariable)
	s.mux.HandleFunc("PUT /api/variables/{type}/{name}", s.handleSetVariable)
	s.mux.HandleFunc("DELETE /api/variables/{type}/{name}", s.handleDeleteVariable)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for origin.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to max bytes.
func limitBody(max int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument counts requests by matched route pattern and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.opts.Metrics.HTTPRequest(route, strconv.Itoa(rec.code))
	})
}

// ---------------------------------------------------------------------------
// Request and response helpers
// ---------------------------------------------------------------------------

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes a JSON request body into dst, keeping numbers as
// json.Number, and validates it.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.InvalidInput("request body exceeds %d bytes", tooLarge.Limit)
		}
		return model.InvalidInput("invalid JSON body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return model.InvalidInput("%s", validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorKind classifies err into an HTTP status and a stable kind label.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrIntegration):
		return http.StatusBadGateway, "integration_failed"
	case errors.Is(err, model.ErrUnknownIntegration):
		return http.StatusUnprocessableEntity, "unknown_integration"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidReference):
		return http.StatusBadRequest, "invalid_reference"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, model.ErrStorage):
		return http.StatusInternalServerError, "storage_failure"
	}
	return http.StatusInternalServerError, "internal"
}

// writeErr writes err as {"error", "kind"} with the matching status.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorKind(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

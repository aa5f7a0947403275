package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// upload is a decoded POST /api/artifacts request.
type upload struct {
	data     []byte
	mimeType string
	entryID  string
	metadata model.Object
}

// readUpload accepts either a multipart form with a "file" part or a raw
// body. entry_id and metadata come from form fields or the query string.
func (s *Server) readUpload(r *http.Request) (*upload, error) {
	up := &upload{}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.opts.MaxBodyBytes); err != nil {
			return nil, bodyError(err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, model.InvalidInput("file is required")
		}
		defer f.Close()
		if up.data, err = io.ReadAll(f); err != nil {
			return nil, bodyError(err)
		}
		up.mimeType = hdr.Header.Get("Content-Type")
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		up.data = data
		up.mimeType = r.Header.Get("Content-Type")
	}
	if up.mimeType == "" || strings.HasPrefix(up.mimeType, "application/x-www-form-urlencoded") {
		up.mimeType = http.DetectContentType(up.data)
	}

	up.entryID = r.FormValue("entry_id")
	if raw := r.FormValue("metadata"); raw != "" {
		meta, err := model.DecodeObject([]byte(raw))
		if err != nil {
			return nil, model.InvalidInput("metadata: %v", err)
		}
		up.metadata = meta
	}
	return up, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.InvalidInput("request body exceeds %d bytes", tooLarge.Limit)
	}
	return model.InvalidInput("read body: %v", err)
}

// ---------------------------------------------------------------------------
// POST /api/artifacts
// ---------------------------------------------------------------------------

// handleUpload stores the uploaded bytes. With entry_id the bytes become an
// artifact of that entry; without it they are only put in the content store.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if up.entryID == "" {
		info, err := s.eng.StoreContent(r.Context(), up.data, up.mimeType)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
		return
	}
	a, err := s.eng.AddArtifact(r.Context(), up.entryID, integration.ArtifactData{
		Type:     up.mimeType,
		Data:     up.data,
		Metadata: up.metadata,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ---------------------------------------------------------------------------
// GET /api/blobs/{ref}
// ---------------------------------------------------------------------------

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if r.URL.Query().Get("thumbnail") == "true" {
		data, err := s.eng.ContentThumbnail(r.Context(), ref)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(data)
		return
	}

	info, rd, err := s.eng.OpenContent(r.Context(), ref)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer rd.Close()
	ctype := info.MIMEType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("ETag", `"`+info.Ref+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, rd)
}

func (s *Server) handleContentInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.eng.ContentInfo(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

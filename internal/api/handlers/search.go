package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/export"
	"github.com/Togather-Foundation/retriever/internal/search"
)

const maxIdentifierLength = 256

type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Outcome, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	Open(name string) (*os.File, error)
}

// ExportOwnership answers whether an export file belongs to an actor.
type ExportOwnership interface {
	OwnsExport(ctx context.Context, actor, name string) (bool, error)
}

type SearchHandler struct {
	Searcher Searcher
	Exporter Exporter
	History  ExportOwnership
	Env      string
}

func NewSearchHandler(searcher Searcher, exporter Exporter, hist ExportOwnership, env string) *SearchHandler {
	return &SearchHandler{Searcher: searcher, Exporter: exporter, History: hist, Env: env}
}

type searchRequest struct {
	Identifier string   `json:"identifier"`
	Sources    []string `json:"sources,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}

type exportRequest struct {
	searchRequest
	Format string `json:"format"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	outcome, ok := h.run(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Export handles POST /api/v1/search/export: it runs the search, writes
// the file and streams it back as an attachment.
func (h *SearchHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Unsupported export format", err,
			h.Env, problem.WithDetail("format must be csv or pdf"))
		return
	}

	outcome, ok := h.run(w, r, req.searchRequest)
	if !ok {
		return
	}

	res, err := h.Exporter.Export(r.Context(), export.Request{
		Actor:     middleware.Actor(r),
		IPAddress: audit.ClientIP(r),
		Format:    format,
		Outcome:   outcome,
	})
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Export failed", err, h.Env)
		return
	}

	w.Header().Set("X-Export-ID", res.ID)
	w.Header().Set("X-Search-Session", outcome.SessionID)
	h.serveFile(w, r, res.Filename, format.ContentType())
}

// Download handles GET /api/v1/exports/{name}. Admins may fetch any
// export; users only their own.
func (h *SearchHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" || name != filepath.Base(name) {
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Export not found", problem.ErrNotFound, h.Env)
		return
	}

	claims := middleware.Claims(r)
	if claims == nil || !auth.IsAdmin(claims.Role) {
		owned, err := h.ownsExport(r.Context(), middleware.Actor(r), name)
		if err != nil {
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to check export ownership", err, h.Env)
			return
		}
		if !owned {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Export not found", problem.ErrNotFound, h.Env)
			return
		}
	}

	contentType := export.FormatCSV.ContentType()
	if strings.HasSuffix(name, export.FormatPDF.Extension()) {
		contentType = export.FormatPDF.ContentType()
	}
	h.serveFile(w, r, name, contentType)
}

func (h *SearchHandler) run(w http.ResponseWriter, r *http.Request, req searchRequest) (*search.Outcome, bool) {
	if h.Searcher == nil {
		problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeUnavailable, "Search unavailable", errors.New("searcher not configured"), h.Env)
		return nil, false
	}
	if utf8.RuneCountInString(req.Identifier) > maxIdentifierLength {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeInvalidQuery, "Identifier too long", nil, h.Env,
			problem.WithDetail(fmt.Sprintf("identifier must be at most %d characters", maxIdentifierLength)))
		return nil, false
	}

	outcome, err := h.Searcher.Search(r.Context(), search.Request{
		Identifier: req.Identifier,
		Actor:      middleware.Actor(r),
		Sources:    req.Sources,
		Fields:     req.Fields,
		IPAddress:  audit.ClientIP(r),
	})
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeInvalidQuery, "Invalid search query", err, h.Env,
				problem.WithDetail("identifier must not be empty"))
			return nil, false
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Search failed", err, h.Env)
		return nil, false
	}
	return outcome, true
}

func (h *SearchHandler) ownsExport(ctx context.Context, actor, name string) (bool, error) {
	if h.History == nil {
		return false, nil
	}
	return h.History.OwnsExport(ctx, actor, name)
}

func (h *SearchHandler) serveFile(w http.ResponseWriter, r *http.Request, name, contentType string) {
	f, err := h.Exporter.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Export not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to open export", err, h.Env)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to open export", err, h.Env)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

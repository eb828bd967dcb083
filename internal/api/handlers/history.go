package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/domain/history"
)

type HistoryReader interface {
	Searches(ctx context.Context, actor string, limit int) ([]history.SearchSession, error)
	Exports(ctx context.Context, actor string, limit int) ([]history.ExportRecord, error)
}

type HistoryHandler struct {
	History HistoryReader
	Env     string
}

func NewHistoryHandler(reader HistoryReader, env string) *HistoryHandler {
	return &HistoryHandler{History: reader, Env: env}
}

type historyExport struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id,omitempty"`
	Identifier   string `json:"identifier"`
	Actor        string `json:"actor"`
	Format       string `json:"format"`
	File         string `json:"file"`
	RecordsCount int    `json:"records_count"`
	CreatedAt    string `json:"created_at"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// Searches handles GET /api/v1/history/searches.
func (h *HistoryHandler) Searches(w http.ResponseWriter, r *http.Request) {
	actor, limit, ok := h.scope(w, r)
	if !ok {
		return
	}
	items, err := h.History.Searches(r.Context(), actor, limit)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to list searches", err, h.Env)
		return
	}
	if items == nil {
		items = []history.SearchSession{}
	}
	writeJSON(w, http.StatusOK, listResponse[history.SearchSession]{Items: items})
}

// Exports handles GET /api/v1/history/exports. Paths are reduced to file
// names so the export directory layout is not disclosed.
func (h *HistoryHandler) Exports(w http.ResponseWriter, r *http.Request) {
	actor, limit, ok := h.scope(w, r)
	if !ok {
		return
	}
	records, err := h.History.Exports(r.Context(), actor, limit)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to list exports", err, h.Env)
		return
	}
	items := make([]historyExport, 0, len(records))
	for _, rec := range records {
		items = append(items, historyExport{
			ID:           rec.ID,
			SessionID:    rec.SessionID,
			Identifier:   rec.Identifier,
			Actor:        rec.Actor,
			Format:       rec.Format,
			File:         filepath.Base(rec.Path),
			RecordsCount: rec.RecordsCount,
			CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listResponse[historyExport]{Items: items})
}

// scope resolves whose history to list. Users always see their own;
// admins see everyone's unless ?actor= narrows it.
func (h *HistoryHandler) scope(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	limit, err := queryLimit(r)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid limit", err, h.Env, problem.WithDetail(err.Error()))
		return "", 0, false
	}
	claims := middleware.Claims(r)
	if claims != nil && auth.IsAdmin(claims.Role) {
		return strings.TrimSpace(r.URL.Query().Get("actor")), limit, true
	}
	return middleware.Actor(r), limit, true
}

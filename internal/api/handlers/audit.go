package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/audit"
)

type AuditHandler struct {
	Store    audit.Store
	Recorder audit.Recorder
	Env      string
	now      func() time.Time
}

func NewAuditHandler(store audit.Store, recorder audit.Recorder, env string) *AuditHandler {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &AuditHandler{Store: store, Recorder: recorder, Env: env, now: time.Now}
}

// List handles GET /api/v1/admin/audit?actor=&action=&since=&until=&limit=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}
	events, err := h.Store.List(r.Context(), filter)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to read audit log", err, h.Env)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, listResponse[audit.Event]{Items: events})
}

// Export handles GET /api/v1/admin/audit/export?format=csv|json. The
// download itself is audited.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Unsupported export format", nil, h.Env,
			problem.WithDetail("format must be csv or json"))
		return
	}
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = audit.MaxListLimit
	}

	events, err := h.Store.List(r.Context(), filter)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to read audit log", err, h.Env)
		return
	}

	h.Recorder.Record(audit.Event{
		Actor:        middleware.Actor(r),
		Action:       audit.ActionAuditExport,
		ResourceType: "audit",
		IPAddress:    audit.ClientIP(r),
		Status:       audit.StatusSuccess,
		Details: map[string]string{
			"format": format,
			"events": strconv.Itoa(len(events)),
		},
	})

	filename := fmt.Sprintf("audit_%s.%s", h.now().UTC().Format("20060102T150405Z"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := audit.WriteJSON(w, events); err != nil {
			logWriteError(r.Context(), err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := audit.WriteCSV(w, events); err != nil {
		logWriteError(r.Context(), err)
	}
}

func (h *AuditHandler) filter(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	q := r.URL.Query()
	limit, err := audit.ParseLimit(q.Get("limit"))
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid limit", err, h.Env, problem.WithDetail(err.Error()))
		return audit.Filter{}, false
	}
	now := h.now()
	since, err := audit.ParseTime(q.Get("since"), now)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid since", err, h.Env, problem.WithDetail(err.Error()))
		return audit.Filter{}, false
	}
	until, err := audit.ParseTime(q.Get("until"), now)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid until", err, h.Env, problem.WithDetail(err.Error()))
		return audit.Filter{}, false
	}
	return audit.Filter{
		Actor:  strings.TrimSpace(q.Get("actor")),
		Action: strings.TrimSpace(q.Get("action")),
		Since:  since,
		Until:  until,
		Limit:  limit,
	}, true
}

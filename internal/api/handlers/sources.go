package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/Togather-Foundation/retriever/internal/sanitize"
)

// SourceService is the registry surface the admin API needs.
type SourceService interface {
	Create(ctx context.Context, actor string, d sources.Descriptor) (*sources.Descriptor, error)
	Update(ctx context.Context, actor, name string, d sources.Descriptor) (*sources.Descriptor, error)
	Deactivate(ctx context.Context, actor, name string) error
	Activate(ctx context.Context, actor, name string) error
	Get(ctx context.Context, name string) (*sources.Descriptor, error)
	List(ctx context.Context, activeOnly bool) ([]sources.Descriptor, error)
	Test(ctx context.Context, actor, name string) (sources.TestResult, error)
	Describe(ctx context.Context, name string) ([]sources.FieldDescriptor, error)
}

type PolicySnapshotter interface {
	Snapshot() *redact.Policy
}

type AdminSourcesHandler struct {
	Sources SourceService
	Policy  PolicySnapshotter
	Env     string
}

func NewAdminSourcesHandler(svc SourceService, policy PolicySnapshotter, env string) *AdminSourcesHandler {
	return &AdminSourcesHandler{Sources: svc, Policy: policy, Env: env}
}

type schemaResponse struct {
	Source      string                    `json:"source"`
	Live        bool                      `json:"live"`
	RefreshedAt *time.Time                `json:"refreshed_at,omitempty"`
	Fields      []sources.FieldDescriptor `json:"fields"`
}

// List handles GET /api/v1/admin/sources. ?active=true hides inactive
// sources.
func (h *AdminSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid active filter", err, h.Env,
				problem.WithDetail("active must be true or false"))
			return
		}
		activeOnly = v
	}

	list, err := h.Sources.List(r.Context(), activeOnly)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to list data sources", err, h.Env)
		return
	}
	items := make([]sources.Descriptor, 0, len(list))
	for _, d := range list {
		items = append(items, d.Public())
	}
	writeJSON(w, http.StatusOK, listResponse[sources.Descriptor]{Items: items})
}

// Create handles POST /api/v1/admin/sources.
func (h *AdminSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var d sources.Descriptor
	if err := decodeJSON(r, &d); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	d.Description = sanitize.Text(d.Description)
	d.IdentityFields = sanitize.TextSlice(d.IdentityFields)

	created, err := h.Sources.Create(r.Context(), middleware.Actor(r), d)
	if err != nil {
		h.writeSourceError(w, r, err, d.Name)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/sources/"+created.Name)
	writeJSON(w, http.StatusCreated, created.Public())
}

// Get handles GET /api/v1/admin/sources/{name}.
func (h *AdminSourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	d, err := h.Sources.Get(r.Context(), name)
	if err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}
	writeJSON(w, http.StatusOK, d.Public())
}

// Update handles PUT /api/v1/admin/sources/{name}. Masked credentials in
// the body keep their stored values.
func (h *AdminSourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	var d sources.Descriptor
	if err := decodeJSON(r, &d); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	d.Description = sanitize.Text(d.Description)
	d.IdentityFields = sanitize.TextSlice(d.IdentityFields)

	updated, err := h.Sources.Update(r.Context(), middleware.Actor(r), name, d)
	if err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

// Deactivate handles DELETE /api/v1/admin/sources/{name}. Descriptors are
// soft-deleted so audit history keeps resolving.
func (h *AdminSourcesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := h.Sources.Deactivate(r.Context(), middleware.Actor(r), name); err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /api/v1/admin/sources/{name}/activate.
func (h *AdminSourcesHandler) Activate(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := h.Sources.Activate(r.Context(), middleware.Actor(r), name); err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Data source activated"})
}

// Test handles POST /api/v1/admin/sources/{name}/test. A failed
// connection is still a 200 with ok=false.
func (h *AdminSourcesHandler) Test(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	result, err := h.Sources.Test(r.Context(), middleware.Actor(r), name)
	if err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Schema handles GET /api/v1/admin/sources/{name}/schema. The stored
// snapshot is returned unless ?refresh=true asks for live introspection.
// Sensitive reflects the current redaction policy.
func (h *AdminSourcesHandler) Schema(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	d, err := h.Sources.Get(r.Context(), name)
	if err != nil {
		h.writeSourceError(w, r, err, name)
		return
	}

	resp := schemaResponse{Source: d.Name, RefreshedAt: d.SchemaRefreshedAt, Fields: d.Schema}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh || len(d.Schema) == 0 {
		fields, err := h.Sources.Describe(r.Context(), name)
		if err != nil {
			problem.Write(w, r, http.StatusBadGateway, problem.TypeUnavailable, "Schema introspection failed", err, h.Env)
			return
		}
		now := time.Now().UTC()
		resp.Live = true
		resp.RefreshedAt = &now
		resp.Fields = fields
	}

	var policy *redact.Policy
	if h.Policy != nil {
		policy = h.Policy.Snapshot()
	}
	marked := make([]sources.FieldDescriptor, len(resp.Fields))
	for i, f := range resp.Fields {
		f.Sensitive = policy.Sensitive(f.Name)
		marked[i] = f
	}
	resp.Fields = marked
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminSourcesHandler) writeSourceError(w http.ResponseWriter, r *http.Request, err error, name string) {
	var verr *sources.ValidationError
	switch {
	case errors.As(err, &verr):
		errs := make(map[string]interface{}, len(verr.Problems))
		for _, p := range verr.Problems {
			errs[p.Field] = p.Message
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid data source", err, h.Env,
			problem.WithDetail(err.Error()), problem.WithErrors(errs))
	case errors.Is(err, sources.ErrInvalid):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid data source", err, h.Env,
			problem.WithDetail(err.Error()))
	case errors.Is(err, sources.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Data source not found", err, h.Env,
			problem.WithDetail("no data source named "+strconv.Quote(sanitize.Label(name, 100))))
	case errors.Is(err, sources.ErrNameTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Data source name already exists", err, h.Env)
	case errors.Is(err, sources.ErrConnectionTest):
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Connection test failed", err, h.Env,
			problem.WithDetail(err.Error()))
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}

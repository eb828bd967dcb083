package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	testErr error
	fields  []sources.FieldDescriptor
}

func (p *stubProber) Test(context.Context, sources.Descriptor) error { return p.testErr }

func (p *stubProber) Describe(context.Context, sources.Descriptor) ([]sources.FieldDescriptor, error) {
	return p.fields, nil
}

func newSourcesHandler(t *testing.T, prober *stubProber) (*AdminSourcesHandler, *sources.Service) {
	t.Helper()
	svc := sources.NewService(sources.NewMemoryRepository(), prober, nil, zerolog.Nop())
	return NewAdminSourcesHandler(svc, redact.NewStore(redact.Default(), zerolog.Nop()), "test"), svc
}

func postgresDescriptor(name string) sources.Descriptor {
	return sources.Descriptor{
		Name:   name,
		Kind:   sources.KindPostgres,
		Active: true,
		SQL: &sources.SQLParams{
			Host:     "db.internal",
			Port:     5432,
			Database: "crm",
			Username: "reader",
			Password: "hunter2",
			Tables:   []string{"customers"},
		},
	}
}

func adminRequest(t *testing.T, method, target string, body any, name string) *http.Request {
	t.Helper()
	req := withClaims(jsonRequest(t, method, target, body), "root", "admin")
	if name != "" {
		req.SetPathValue("name", name)
	}
	return req
}

func TestSources_CreateMasksSecrets(t *testing.T) {
	handler, svc := newSourcesHandler(t, &stubProber{})

	d := postgresDescriptor("crm")
	d.Description = `Customer DB <script>alert(1)</script>`
	rec := httptest.NewRecorder()
	handler.Create(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources", d, ""))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/admin/sources/crm", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "<script>")

	stored, err := svc.Get(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", stored.SQL.Password)
	assert.Equal(t, "root", stored.CreatedBy)
}

func TestSources_CreateErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		handler, _ := newSourcesHandler(t, &stubProber{})
		rec := httptest.NewRecorder()
		handler.Create(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources", sources.Descriptor{Name: "bad", Kind: sources.KindCSV}, ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		p := decodeProblem(t, rec)
		assert.Contains(t, p.Errors, "file")
	})

	t.Run("connection test", func(t *testing.T) {
		handler, _ := newSourcesHandler(t, &stubProber{testErr: errors.New("connection refused")})
		rec := httptest.NewRecorder()
		handler.Create(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources", postgresDescriptor("crm"), ""))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("duplicate", func(t *testing.T) {
		handler, _ := newSourcesHandler(t, &stubProber{})
		rec := httptest.NewRecorder()
		handler.Create(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources", postgresDescriptor("crm"), ""))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = httptest.NewRecorder()
		handler.Create(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources", postgresDescriptor("CRM"), ""))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSources_UpdateKeepsMaskedPassword(t *testing.T) {
	handler, svc := newSourcesHandler(t, &stubProber{})
	_, err := svc.Create(context.Background(), "root", postgresDescriptor("crm"))
	require.NoError(t, err)

	// Read the public view, edit it, send it back.
	rec := httptest.NewRecorder()
	handler.Get(rec, adminRequest(t, http.MethodGet, "/api/v1/admin/sources/crm", nil, "crm"))
	require.Equal(t, http.StatusOK, rec.Code)
	var public sources.Descriptor
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&public))
	public.Description = "edited"

	rec = httptest.NewRecorder()
	handler.Update(rec, adminRequest(t, http.MethodPut, "/api/v1/admin/sources/crm", public, "crm"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := svc.Get(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", stored.SQL.Password)
	assert.Equal(t, "edited", stored.Description)
}

func TestSources_ListDeactivateActivate(t *testing.T) {
	handler, svc := newSourcesHandler(t, &stubProber{})
	ctx := context.Background()
	_, err := svc.Create(ctx, "root", postgresDescriptor("crm"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "root", postgresDescriptor("hr"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.Deactivate(rec, adminRequest(t, http.MethodDelete, "/api/v1/admin/sources/hr", nil, "hr"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	list := func(target string) []sources.Descriptor {
		rec := httptest.NewRecorder()
		handler.List(rec, adminRequest(t, http.MethodGet, target, nil, ""))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp listResponse[sources.Descriptor]
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp.Items
	}
	assert.Len(t, list("/api/v1/admin/sources"), 2)
	active := list("/api/v1/admin/sources?active=true")
	require.Len(t, active, 1)
	assert.Equal(t, "crm", active[0].Name)

	rec = httptest.NewRecorder()
	handler.Activate(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources/hr/activate", nil, "hr"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list("/api/v1/admin/sources?active=true"), 2)

	rec = httptest.NewRecorder()
	handler.List(rec, adminRequest(t, http.MethodGet, "/api/v1/admin/sources?active=maybe", nil, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSources_TestConnection(t *testing.T) {
	prober := &stubProber{}
	handler, svc := newSourcesHandler(t, prober)
	_, err := svc.Create(context.Background(), "root", postgresDescriptor("crm"))
	require.NoError(t, err)

	prober.testErr = errors.New("connection refused")
	rec := httptest.NewRecorder()
	handler.Test(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources/crm/test", nil, "crm"))

	require.Equal(t, http.StatusOK, rec.Code)
	var result sources.TestResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.OK)
	assert.Equal(t, "connection refused", result.Error)

	rec = httptest.NewRecorder()
	handler.Test(rec, adminRequest(t, http.MethodPost, "/api/v1/admin/sources/nope/test", nil, "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSources_SchemaMarksSensitiveFields(t *testing.T) {
	prober := &stubProber{fields: []sources.FieldDescriptor{
		{Table: "customers", Name: "full_name", Type: sources.FieldString, Identity: true},
		{Table: "customers", Name: "email", Type: sources.FieldString},
		{Table: "customers", Name: "created_at", Type: sources.FieldTimestamp},
	}}
	handler, svc := newSourcesHandler(t, prober)
	_, err := svc.Create(context.Background(), "root", postgresDescriptor("crm"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.Schema(rec, adminRequest(t, http.MethodGet, "/api/v1/admin/sources/crm/schema", nil, "crm"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp schemaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Live, "schema captured at create time is served from the snapshot")
	require.Len(t, resp.Fields, 3)
	assert.True(t, resp.Fields[0].Identity)
	assert.False(t, resp.Fields[0].Sensitive)
	assert.True(t, resp.Fields[1].Sensitive)
	assert.False(t, resp.Fields[2].Sensitive)

	rec = httptest.NewRecorder()
	handler.Schema(rec, adminRequest(t, http.MethodGet, "/api/v1/admin/sources/crm/schema?refresh=true", nil, "crm"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Live)
}

func TestSources_NotFoundEchoIsSanitized(t *testing.T) {
	handler, _ := newSourcesHandler(t, &stubProber{})

	rec := httptest.NewRecorder()
	handler.Get(rec, adminRequest(t, http.MethodGet, "/api/v1/admin/sources/x", nil, "<b>x</b>"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	p := decodeProblem(t, rec)
	assert.NotContains(t, p.Detail, "<b>")
}

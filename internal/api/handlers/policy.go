package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/redact"
)

// PolicyStore is the redaction policy holder. redact.Store implements it.
type PolicyStore interface {
	Snapshot() *redact.Policy
	Update(patterns []string, mask string) (*redact.Policy, error)
}

type PolicyHandler struct {
	Store    PolicyStore
	Recorder audit.Recorder
	Env      string
}

func NewPolicyHandler(store PolicyStore, recorder audit.Recorder, env string) *PolicyHandler {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &PolicyHandler{Store: store, Recorder: recorder, Env: env}
}

type policyRequest struct {
	Patterns []string `json:"patterns"`
	Mask     string   `json:"mask,omitempty"`
}

// Get handles GET /api/v1/admin/policy.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Snapshot())
}

// Update handles PUT /api/v1/admin/policy. The new policy replaces the old
// one atomically; searches already running keep the snapshot they took.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	if req.Patterns == nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Patterns are required", nil, h.Env)
		return
	}

	previous := h.Store.Snapshot()
	policy, err := h.Store.Update(req.Patterns, req.Mask)
	if err != nil {
		if errors.Is(err, redact.ErrEmptyPattern) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid redaction policy", err, h.Env,
				problem.WithDetail(err.Error()))
			return
		}
		h.Recorder.Record(audit.Event{
			Actor:        middleware.Actor(r),
			Action:       audit.ActionPolicyUpdate,
			ResourceType: "policy",
			IPAddress:    audit.ClientIP(r),
			Status:       audit.StatusFailure,
			Details:      map[string]string{"error": err.Error()},
		})
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to store redaction policy", err, h.Env)
		return
	}

	details := map[string]string{
		"patterns": strings.Join(policy.Patterns, ","),
		"count":    strconv.Itoa(len(policy.Patterns)),
	}
	if previous != nil {
		details["previous"] = strings.Join(previous.Patterns, ",")
	}
	h.Recorder.Record(audit.Event{
		Actor:        middleware.Actor(r),
		Action:       audit.ActionPolicyUpdate,
		ResourceType: "policy",
		IPAddress:    audit.ClientIP(r),
		Status:       audit.StatusSuccess,
		Details:      details,
	})
	writeJSON(w, http.StatusOK, policy)
}

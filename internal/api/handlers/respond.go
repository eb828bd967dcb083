package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/rs/zerolog"
)

var errEmptyBody = errors.New("request body is empty")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads exactly one JSON document into dst, rejecting unknown
// fields. Oversized bodies surface as *http.MaxBytesError.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON document")
	}
	return nil
}

// writeDecodeError answers a failed decodeJSON with 413 or 400.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request body too large", err, env,
			problem.WithDetail(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
		return
	}
	problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, env)
}

func pathParam(r *http.Request, key string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.PathValue(key))
}

// queryLimit parses ?limit=, returning 0 (the service default) when absent.
func queryLimit(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get("limit"))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

type MessageResponse struct {
	Message string `json:"message"`
}

// logWriteError notes a failure after the response status was sent.
func logWriteError(ctx context.Context, err error) {
	zerolog.Ctx(ctx).Warn().Err(err).Msg("write response body failed")
}

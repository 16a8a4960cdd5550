package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
)

// maxBodyBytes bounds request payloads.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write JSON response", log.FieldError, err)
	}
}

// decodeJSON reads exactly one JSON value from the body into target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return core.Validation("body", "invalid JSON payload: %v", err)
	}
	if dec.More() {
		return core.Validation("body", "invalid JSON payload: extra content")
	}
	return nil
}

// errorStatus maps a domain error onto an HTTP status and a stable kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status, kind := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", log.FieldError, err, log.FieldStatusCode, status)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.FromContext(ctx).DebugContext(ctx, "Request rejected", log.FieldError, err, log.FieldStatusCode, status)
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// pathUser reads and validates the {user} path segment.
func pathUser(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.PathValue("user"))
	if user == "" {
		return "", core.Validation("username", "username is required")
	}
	return user, nil
}

// queryPeriod reads ?month=YYYY-MM, defaulting to the month containing now.
func queryPeriod(r *http.Request, now time.Time) (core.Period, error) {
	raw := r.URL.Query().Get("month")
	if strings.TrimSpace(raw) == "" {
		return core.PeriodOf(now), nil
	}
	return core.ParsePeriod(raw)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.Validation(name, "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC).
func parseDate(field, raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, core.Validation(field, "%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, core.Validation(field, "%s must be YYYY-MM-DD or RFC 3339, got %q", field, raw)
}

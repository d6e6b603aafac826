package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cohort-ledger/admin"
	"cohort-ledger/blobstore"
	"cohort-ledger/ledger"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes. Anything unrecognised is
// an internal error whose detail is not exposed.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, blobstore.ErrNotImage), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, admin.ErrBadSecret), errors.Is(err, admin.ErrInvalidToken), errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrRateLimited):
		return http.StatusConflict
	case errors.Is(err, admin.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		detail = "internal error"
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

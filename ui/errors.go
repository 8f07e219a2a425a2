package ui

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/security"
)

const readOnlyMessage = "Dashboard is in readonly mode"

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps workbench errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, core.ErrQueueNotFound), errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrComputationTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := statusFor(err)
	msg := readOnlyMessage
	if code != http.StatusForbidden {
		msg = security.SanitizeErrorMessage(strings.TrimPrefix(err.Error(), "workbench: "))
	}
	if code == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

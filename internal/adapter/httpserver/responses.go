package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charlalabs/charla-gateway/internal/domain"
)

// genericFallback is the catch-all body for unexpected failures; stack
// traces never leave the process.
const genericFallback = "mmm algo fallo por aca, intenta de nuevo"

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels to HTTP statuses. This is the single
// status policy for the gateway: input errors are 400, blocklisted ids 403,
// a rejected client id 401, missing license 503, rate limits 429,
// everything else 500. Degraded generative replies never reach this path;
// they are returned as 200 by the pipeline.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrForbidden):
		code = http.StatusForbidden
		codeStr = "FORBIDDEN"
	case errors.Is(err, domain.ErrClientRejected):
		code = http.StatusUnauthorized
		codeStr = "CLIENT_REJECTED"
	case errors.Is(err, domain.ErrUnlicensed):
		code = http.StatusServiceUnavailable
		codeStr = "UNLICENSED"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_TIMEOUT"
	default:
		// do not leak internals on unexpected errors
		msg = genericFallback
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}

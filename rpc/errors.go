package rpc

import (
	"encoding/json"
	"net/http"

	coreerrors "inferpay/core/errors"
)

type problem struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// statusForReason maps a core failure code onto an HTTP status.
func statusForReason(reason string) int {
	switch reason {
	case "duplicate_request", "already_settled", "custody_shortfall":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "underfunded", "insufficient_funds":
		return http.StatusPaymentRequired
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_pricing", "conversion_unavailable":
		return http.StatusUnprocessableEntity
	case "transfer_failed":
		return http.StatusBadGateway
	case "invalid_argument":
		return http.StatusBadRequest
	case "paused":
		return http.StatusServiceUnavailable
	case "quota_exceeded":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	reason := coreerrors.Reason(err)
	status := statusForReason(reason)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeProblem(w, status, reason, msg)
}

func writeProblem(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, problem{Error: msg, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

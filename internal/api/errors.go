package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-aqara/internal/accessory"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Values of Error.Code.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// accessoryErrors maps accessory manager failures to responses, first
// match wins.
var accessoryErrors = []struct {
	err    error
	status int
	code   string
}{
	{accessory.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{accessory.ErrNotControllable, http.StatusConflict, ErrCodeConflict},
	{accessory.ErrInvalidCommand, http.StatusUnprocessableEntity, ErrCodeValidation},
	{accessory.ErrInvalidParameters, http.StatusUnprocessableEntity, ErrCodeValidation},
	{accessory.ErrQueueFull, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

func writeAccessoryError(w http.ResponseWriter, err error) {
	for _, m := range accessoryErrors {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := err.Error()
		if m.status == http.StatusNotFound {
			msg = "accessory not found"
		}
		writeError(w, m.status, m.code, msg)
		return
	}
	writeInternalError(w, "command failed")
}

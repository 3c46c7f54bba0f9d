package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/internal/logging"
)

// Envelope is the JSON body of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusFor maps an error's kind to an HTTP status.
func StatusFor(err error) int {
	switch authcore.KindOf(err) {
	case authcore.KindValidation:
		return http.StatusBadRequest
	case authcore.KindUnauthorized:
		return http.StatusUnauthorized
	case authcore.KindForbidden:
		return http.StatusForbidden
	case authcore.KindNotFound:
		return http.StatusNotFound
	case authcore.KindAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a generic error envelope for err. Only validation errors
// expose detail to the client; internal errors are logged instead.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	body := Envelope{
		Status:  status,
		Message: http.StatusText(status),
		Error:   authcore.KindOf(err).String(),
	}

	var vErr *authcore.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &vErr) {
		body.Message = vErr.Error()
	}

	if status == http.StatusInternalServerError {
		logging.LogError(r.Context(), logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}

	WriteJSON(w, status, body)
}

// WriteData writes a success envelope around data.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{
		Success: true,
		Message: message,
		Status:  status,
		Data:    data,
	})
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

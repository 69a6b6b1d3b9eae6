package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
)

const (
	statusOK      = "ok"
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the JSON body of every response.
type envelope struct {
	Status   string      `json:"status"`
	Message  string      `json:"message,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	Trace    []string    `json:"trace,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: statusError, Message: message})
}

// writeError maps err's kind to a status code. Internal causes are logged in
// full and only exposed in debug mode.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)
	body := envelope{Status: statusError, Message: apperr.Message(err)}

	fields := []zap.Field{
		zap.String("request_id", requestID(r)),
		zap.String("path", r.URL.Path),
		zap.String("kind", kind.String()),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", fields...)
		if h.debug {
			body.Detail = err.Error()
		}
	} else {
		h.log.Warn("rejected request", fields...)
	}

	writeJSON(w, status, body)
}

package api

import (
	"encoding/json"
	"io"
	"net/http"
)

const (
	statusSuccess = "success"
	statusIgnored = "ignored"
	statusFailed  = "failed"
)

type messageResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// writeJSON keeps a Content-Type the caller already set.
func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, messageResponse{Message: message, Status: status})
}

func writeFailed(w http.ResponseWriter, code int, message string) {
	writeMessage(w, code, statusFailed, message)
}

func readBodyLimited(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return io.ReadAll(r.Body)
}

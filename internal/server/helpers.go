package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
)

type apiError struct {
	Error string `json:"error"`
}

func errorResponse(msg string) apiError {
	return apiError{Error: msg}
}

// respondJSON encodes data before touching w, so an encoding failure still
// yields a clean 500 instead of a truncated body.
func respondJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		slog.Error("encode JSON response", slog.Any("err", err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// isHTMXRequest reports whether blog.js asked for the article list fragment.
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") != ""
}

// setHXTrigger tells the client which events to fire after swapping the fragment.
func setHXTrigger(w http.ResponseWriter, events map[string]any) {
	if len(events) == 0 {
		return
	}
	if payload, err := encodeJSON(events); err == nil {
		w.Header().Set("HX-Trigger", payload)
	} else {
		slog.Warn("encode HX-Trigger", slog.Any("err", err))
	}
}

func encodeJSON(data any) (string, error) {
	payload, err := json.Marshal(data)
	return string(payload), err
}

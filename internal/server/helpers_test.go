package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusNotFound, errorResponse("article not found"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"error": "article not found"}, body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestRespondJSONEncodeFailure(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("unexpected JSON content type on failure")
	}
}

func TestSetHXTrigger(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	setHXTrigger(rec, nil)
	if got := rec.Header().Get("HX-Trigger"); got != "" {
		t.Fatalf("HX-Trigger for no events = %q", got)
	}

	setHXTrigger(rec, map[string]any{"filterChanged": map[string]any{"count": 2}})
	if got, want := rec.Header().Get("HX-Trigger"), `{"filterChanged":{"count":2}}`; got != want {
		t.Fatalf("HX-Trigger = %q, want %q", got, want)
	}
}

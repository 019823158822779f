package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"narrate/internal/services"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrNotFound, "store", "get", "project 4", nil), http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "api", "decode", "bad", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrPrecondition, "assembly", "guard", "missing audio", nil), http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrConflict, "store", "begin", "already generating", nil), http.StatusConflict},
		{services.Wrap(services.ErrCancelled, "assembly", "run", "", context.Canceled), http.StatusConflict},
		{services.Wrap(services.ErrWorkerNotReady, "synthesis", "ready", "", nil), http.StatusServiceUnavailable},
		{services.Wrap(services.ErrWorkerStartFailed, "synthesis", "start", "", nil), http.StatusServiceUnavailable},
		{services.Wrap(services.ErrSynthesisTimeout, "synthesis", "wait", "", nil), http.StatusGatewayTimeout},
		{services.Wrap(services.ErrMediaTool, "encoding", "segment", "ffmpeg exited 1", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStatusForErrorSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", services.Wrap(services.ErrNotFound, "store", "get", "item 9", nil))
	if got := statusForError(err); got != http.StatusNotFound {
		t.Fatalf("expected 404 through fmt wrapping, got %d", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	open := authMiddleware("", next)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty token should disable auth, got %d", rec.Code)
	}

	guarded := authMiddleware("s3cret", next)
	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"s3cret", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Authorization %q: got %d, want %d", tt.header, rec.Code, tt.want)
		}
	}
}

func TestQueryBool(t *testing.T) {
	tests := map[string]bool{"": true, "false": false, "0": false, "maybe": true, "true": true, "1": true}
	for raw, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/x?wait="+raw, nil)
		if got := queryBool(req, "wait", true); got != want {
			t.Errorf("queryBool(%q) = %v, want %v", raw, got, want)
		}
	}
}

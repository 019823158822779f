package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"narrate/internal/api"
	"narrate/internal/config"
	"narrate/internal/logging"
	"narrate/internal/services"
	"narrate/internal/statusbus"
)

const maxJSONBody = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	events  *statusbus.WebSocketHandler
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.events = statusbus.NewWebSocketHandler(d.hub, d.store.GetStatus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/doctor", srv.handleDoctor)
	mux.HandleFunc("POST /api/daemon/stop", srv.handleDaemonStop)
	mux.HandleFunc("POST /api/notifications/test", srv.handleTestNotification)
	mux.HandleFunc("GET /api/worker", srv.handleWorkerStatus)
	mux.HandleFunc("POST /api/worker/start", srv.handleWorkerStart)
	mux.HandleFunc("POST /api/worker/stop", srv.handleWorkerStop)

	mux.HandleFunc("GET /api/projects", srv.handleListProjects)
	mux.HandleFunc("POST /api/projects", srv.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{project}", srv.handleGetProject)
	mux.HandleFunc("PATCH /api/projects/{project}", srv.handleRenameProject)
	mux.HandleFunc("DELETE /api/projects/{project}", srv.handleDeleteProject)

	mux.HandleFunc("GET /api/projects/{project}/items", srv.handleListItems)
	mux.HandleFunc("POST /api/projects/{project}/items", srv.handleAddItem)
	mux.HandleFunc("PATCH /api/projects/{project}/items/{item}", srv.handleUpdateItem)
	mux.HandleFunc("DELETE /api/projects/{project}/items/{item}", srv.handleDeleteItem)
	mux.HandleFunc("POST /api/projects/{project}/items/{item}/move", srv.handleMoveItem)
	mux.HandleFunc("PUT /api/projects/{project}/items/{item}/image", srv.handleUploadImage)
	mux.HandleFunc("POST /api/projects/{project}/items/{item}/synthesize", srv.handleSynthesize)

	mux.HandleFunc("POST /api/projects/{project}/generate", srv.handleGenerate)
	mux.HandleFunc("POST /api/projects/{project}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/projects/{project}/reset", srv.handleReset)
	mux.HandleFunc("GET /api/projects/{project}/status", srv.handleJobStatus)
	mux.HandleFunc("GET /api/projects/{project}/events", srv.handleEvents)
	mux.HandleFunc("GET /api/projects/{project}/video", srv.handleVideo)

	srv.handler = authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), mux)
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// No write timeout: synthesis waits and status streams outlive any fixed deadline.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

// writeServiceError maps classified errors onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := api.ErrorResponse{Error: err.Error()}
	if marker := services.Marker(err); marker != nil {
		body.Kind = marker.Error()
		if status != http.StatusNotFound && status != http.StatusBadRequest {
			body.Hint = services.Hint(err)
		}
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, body)
}

func statusForError(err error) int {
	switch services.Marker(err) {
	case services.ErrNotFound:
		return http.StatusNotFound
	case services.ErrValidation:
		return http.StatusBadRequest
	case services.ErrPrecondition:
		return http.StatusUnprocessableEntity
	case services.ErrConflict, services.ErrCancelled:
		return http.StatusConflict
	case services.ErrWorkerStartFailed, services.ErrWorkerNotReady, services.ErrTransient:
		return http.StatusServiceUnavailable
	case services.ErrSynthesisTimeout, services.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "path", fmt.Sprintf("invalid %s id %q", name, raw), nil)
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return services.Wrap(services.ErrValidation, "api", "body", "request body is required", nil)
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "body", "invalid JSON body", err)
	}
	return nil
}

func queryBool(r *http.Request, name string, fallback bool) bool {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

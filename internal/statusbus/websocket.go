package statusbus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"narrate/internal/logging"
	"narrate/internal/services"
	"narrate/internal/store"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Snapshot loads the persisted status of a project.
type Snapshot func(ctx context.Context, projectID int64) (store.JobStatus, error)

// WebSocketHandler streams status events for one project to a client. The
// first frame is always the persisted status, so a subscriber never waits
// for the next change to learn where the job stands.
type WebSocketHandler struct {
	hub      *Hub
	snapshot Snapshot
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler wires hub and snapshot.
func NewWebSocketHandler(hub *Hub, snapshot Snapshot, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger(logger, "statusbus"),
	}
}

// Serve upgrades the request and streams events for projectID until the
// client disconnects or the request context ends.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request, projectID int64) {
	ctx, cancel := context.WithCancel(services.WithProjectID(r.Context(), projectID))
	defer cancel()
	logger := logging.WithContext(ctx, h.logger)

	cursor := h.hub.Cursor()
	status, err := h.snapshot(ctx, projectID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, services.ErrNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	if err := writeEvent(conn, Event{Sequence: cursor, ProjectID: projectID, Status: status, Timestamp: time.Now().UTC()}); err != nil {
		return
	}
	logger.Debug("status subscriber connected")

	for {
		events, next, err := h.hub.Fetch(ctx, cursor, projectID, true)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
		cursor = next
		for _, evt := range events {
			if err := writeEvent(conn, evt); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(evt)
}

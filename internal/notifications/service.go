package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrate/internal/config"
)

const userAgent = "narrate/0.1.0"

// Event names a notification-worthy milestone.
type Event string

const (
	EventGenerationCompleted Event = "generation_completed"
	EventGenerationFailed    Event = "generation_failed"
	EventSynthesisFailed     Event = "synthesis_failed"
	EventTest                Event = "test"
)

// Payload carries the event fields used to render a message.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventGenerationCompleted: cfg.Notifications.Completed,
			EventGenerationFailed:    cfg.Notifications.Failed,
			EventSynthesisFailed:     cfg.Notifications.Failed,
			EventTest:                true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	title := payload.text("title", "Untitled project")
	switch event {
	case EventGenerationCompleted:
		body := fmt.Sprintf("🎬 Video ready: %s", title)
		if items := payload.text("items", ""); items != "" {
			body = fmt.Sprintf("%s (%s items", body, items)
			if elapsed, ok := payload["elapsed"].(time.Duration); ok && elapsed > 0 {
				body = fmt.Sprintf("%s in %s", body, elapsed.Round(time.Second))
			}
			body += ")"
		}
		return message{
			title:    "Narrate - Video Ready",
			body:     body,
			tags:     []string{"narrate", "video", "completed"},
			priority: "high",
		}, true
	case EventGenerationFailed:
		return message{
			title:    "Narrate - Generation Failed",
			body:     fmt.Sprintf("❌ Video generation failed for %s: %s", title, payload.text("error", "unknown error")),
			tags:     []string{"narrate", "video", "failed"},
			priority: "high",
		}, true
	case EventSynthesisFailed:
		return message{
			title: "Narrate - Synthesis Failed",
			body:  fmt.Sprintf("🔇 Voice generation failed for %s: %s", title, payload.text("error", "unknown error")),
			tags:  []string{"narrate", "synthesis", "failed"},
		}, true
	case EventTest:
		return message{
			title:    "Narrate - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"narrate", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key, fallback string) string {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	default:
		s = fmt.Sprint(v)
	}
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"narrate/internal/artifact"
	"narrate/internal/assembly"
	"narrate/internal/config"
	"narrate/internal/logging"
	"narrate/internal/notifications"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/synthesis"
)

// Synthesizer turns text into an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice synthesis.Voice) (synthesis.Result, error)
}

// DurationProbe measures audio files.
type DurationProbe interface {
	ProbeDuration(ctx context.Context, audio string) (float64, error)
}

// Dependencies wires a Manager.
type Dependencies struct {
	Store        *store.Store
	Orchestrator *assembly.Orchestrator
	Synthesizer  Synthesizer
	Worker       *synthesis.Worker
	Probe        DurationProbe
	Artifacts    artifact.Store
	Hub          *statusbus.Hub
	Notifier     notifications.Service
	Logger       *slog.Logger
}

// Manager owns background generation runs and synthesis tasks and is the
// entry point the API uses for every state-changing operation.
type Manager struct {
	cfg          *config.Config
	store        *store.Store
	orchestrator *assembly.Orchestrator
	synthesizer  Synthesizer
	worker       *synthesis.Worker
	probe        DurationProbe
	artifacts    artifact.Store
	hub          *statusbus.Hub
	notifier     notifications.Service
	logger       *slog.Logger
	pool         *ants.Pool

	mu           sync.RWMutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lastErr      error
	synthesizing map[int64]struct{}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, deps Dependencies) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if deps.Store == nil || deps.Orchestrator == nil || deps.Synthesizer == nil || deps.Probe == nil || deps.Artifacts == nil {
		return nil, errors.New("workflow: store, orchestrator, synthesizer, probe and artifact store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	size := cfg.Synthesis.Concurrency
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logging.ErrorWithContext(logger, "synthesis task panicked", "synthesis_panic",
			logging.String("panic", fmt.Sprint(p)),
		)
	}))
	if err != nil {
		return nil, fmt.Errorf("workflow: create synthesis pool: %w", err)
	}

	return &Manager{
		cfg:          cfg,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		synthesizer:  deps.Synthesizer,
		worker:       deps.Worker,
		probe:        deps.Probe,
		artifacts:    deps.Artifacts,
		hub:          deps.Hub,
		notifier:     notifier,
		logger:       logger,
		pool:         pool,
		synthesizing: make(map[int64]struct{}),
	}, nil
}

// Start enables background work. Work started afterwards is bound to ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	return nil
}

// Stop cancels in-flight runs and synthesis tasks and waits for them to
// record their outcome.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	timeout := m.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := m.pool.ReleaseTimeout(timeout); err != nil {
		m.logger.Warn("synthesis pool did not drain", logging.Error(err))
	}
}

// background registers a unit of work tied to the manager lifetime.
func (m *Manager) background() (context.Context, func(), error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, nil, errors.New("workflow is not running")
	}
	m.wg.Add(1)
	return m.ctx, m.wg.Done, nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "event was not pushed"),
			logging.Error(err),
		)
	}
}

func projectTitle(p *store.Project) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Title)
}

package workflow

import (
	"context"

	"narrate/internal/logging"
	"narrate/internal/store"
	"narrate/internal/synthesis"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running        bool                    `json:"running"`
	LastError      string                  `json:"last_error,omitempty"`
	Generating     []int64                 `json:"generating"`
	Synthesizing   int                     `json:"synthesizing"`
	PoolCapacity   int                     `json:"pool_capacity"`
	PoolRunning    int                     `json:"pool_running"`
	PoolWaiting    int                     `json:"pool_waiting"`
	Worker         *synthesis.WorkerStatus `json:"worker,omitempty"`
	ComponentState []ComponentHealth       `json:"components"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	synthesizing := len(m.synthesizing)
	m.mu.RUnlock()

	summary := StatusSummary{
		Running:      running,
		Synthesizing: synthesizing,
		PoolCapacity: m.pool.Cap(),
		PoolRunning:  m.pool.Running(),
		PoolWaiting:  m.pool.Waiting(),
		Generating:   []int64{},
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if projects, err := m.store.ProjectsInState(ctx, store.StateGenerating); err == nil {
		for _, p := range projects {
			summary.Generating = append(summary.Generating, p.ID)
		}
	} else {
		m.logger.Warn("failed to read generating projects", logging.Error(err))
	}
	if m.worker != nil {
		status := m.worker.Status()
		summary.Worker = &status
	}
	summary.ComponentState = m.Health(ctx)
	return summary
}

// Worker returns the supervised synthesis worker, or nil when the worker is
// managed externally.
func (m *Manager) Worker() *synthesis.Worker {
	return m.worker
}

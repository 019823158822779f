package workflow

import (
	"context"
	"fmt"

	"narrate/internal/preflight"
	"narrate/internal/synthesis"
)

// ComponentHealth summarizes the readiness of one pipeline component.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthyComponent constructs a ready ComponentHealth record.
func HealthyComponent(name string) ComponentHealth {
	return ComponentHealth{Name: name, Ready: true}
}

// UnhealthyComponent constructs an unhealthy ComponentHealth record with context detail.
func UnhealthyComponent(name, detail string) ComponentHealth {
	return ComponentHealth{Name: name, Ready: false, Detail: detail}
}

// Health reports whether synthesis and assembly can currently make progress.
func (m *Manager) Health(ctx context.Context) []ComponentHealth {
	out := make([]ComponentHealth, 0, 2)

	switch {
	case m.worker == nil:
		out = append(out, HealthyComponent("synthesis"))
	case m.worker.State() == synthesis.WorkerReady:
		out = append(out, HealthyComponent("synthesis"))
	case m.worker.State() == synthesis.WorkerStopped:
		out = append(out, ComponentHealth{Name: "synthesis", Ready: true, Detail: "idle, started on demand"})
	default:
		out = append(out, UnhealthyComponent("synthesis", fmt.Sprintf("worker %s", m.worker.State())))
	}

	result := preflight.CheckDirectoryAccess(ctx, "assembly", m.cfg.Paths.WorkDir, m.cfg.Workflow.MinFreeDiskMiB)
	if result.Passed {
		out = append(out, HealthyComponent("assembly"))
	} else {
		out = append(out, UnhealthyComponent("assembly", result.Detail))
	}
	return out
}

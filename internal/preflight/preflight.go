package preflight

import (
	"context"

	"narrate/internal/config"
	"narrate/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes the checks that apply to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess(ctx, "Data directory", cfg.Paths.DataDir, 0),
		CheckDirectoryAccess(ctx, "Media directory", cfg.Paths.MediaDir, 0),
		CheckDirectoryAccess(ctx, "Work directory", cfg.Paths.WorkDir, cfg.Workflow.MinFreeDiskMiB),
	}
	if cfg.Storage.Backend != config.StorageS3 {
		results = append(results, CheckDirectoryAccess(ctx, "Artifact directory", cfg.Paths.ArtifactDir, 0))
	}
	if cfg.Synthesis.Transport == config.TransportAMQP {
		results = append(results, CheckAMQP(ctx, cfg.Synthesis.AMQPURL))
	} else {
		results = append(results,
			CheckDirectoryAccess(ctx, "Synthesis inbox", cfg.Synthesis.InboxDir, 0),
			CheckDirectoryAccess(ctx, "Synthesis outbox", cfg.Synthesis.OutboxDir, 0),
		)
	}
	return results
}

// CheckSystemDeps evaluates the external programs cfg refers to. Both the
// daemon and the CLI doctor command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := deps.MediaRequirements(cfg.FFmpegBinary(), cfg.FFprobeBinary())
	requirements = append(requirements, deps.WorkerRequirement(cfg.Synthesis.WorkerCommand))
	return deps.CheckBinaries(requirements)
}

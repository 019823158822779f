package api

import (
	"fmt"
	"time"

	"narrate/internal/deps"
	"narrate/internal/preflight"
	"narrate/internal/staging"
	"narrate/internal/store"
	"narrate/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromJobStatus converts a persisted job status.
func FromJobStatus(status store.JobStatus) JobStatus {
	return JobStatus{
		State:     string(status.State),
		Progress:  status.Progress,
		Message:   status.Message,
		Error:     status.Error,
		RunID:     status.RunID,
		UpdatedAt: formatTime(status.UpdatedAt),
	}
}

// FromProject converts a project record. videoURL is the download route
// when a video is attached.
func FromProject(project *store.Project, itemCount int, videoURL string) Project {
	if project == nil {
		return Project{}
	}
	dto := Project{
		ID:        project.ID,
		Title:     project.Title,
		Status:    FromJobStatus(project.Status),
		HasVideo:  project.HasVideo(),
		ItemCount: itemCount,
		CreatedAt: formatTime(project.CreatedAt),
		UpdatedAt: formatTime(project.UpdatedAt),
	}
	if dto.HasVideo {
		dto.VideoURL = videoURL
	}
	return dto
}

// FromItem converts an item record.
func FromItem(item *store.Item, synthesizing bool) Item {
	if item == nil {
		return Item{}
	}
	return Item{
		ID:            item.ID,
		ProjectID:     item.ProjectID,
		Position:      item.Position,
		Content:       item.Content,
		Instruct:      item.Instruct,
		HasImage:      item.HasImage(),
		HasAudio:      item.HasAudio(),
		AudioDuration: item.AudioDuration,
		Synthesizing:  synthesizing,
		CreatedAt:     formatTime(item.CreatedAt),
		UpdatedAt:     formatTime(item.UpdatedAt),
	}
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	dto := WorkflowStatus{
		Running:      summary.Running,
		LastError:    summary.LastError,
		Generating:   append([]int64{}, summary.Generating...),
		Synthesizing: summary.Synthesizing,
		PoolCapacity: summary.PoolCapacity,
		PoolRunning:  summary.PoolRunning,
		PoolWaiting:  summary.PoolWaiting,
		Components:   make([]ComponentHealth, 0, len(summary.ComponentState)),
	}
	if summary.Worker != nil {
		dto.Worker = &WorkerStatus{
			State: string(summary.Worker.State),
			PID:   summary.Worker.PID,
			Ready: summary.Worker.Ready,
		}
	}
	for _, component := range summary.ComponentState {
		dto.Components = append(dto.Components, ComponentHealth{
			Name:   component.Name,
			Ready:  component.Ready,
			Detail: component.Detail,
		})
	}
	return dto
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		command := dep.Command
		if dep.Resolved != "" {
			command = dep.Resolved
		}
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, result := range results {
		out = append(out, CheckResult{Name: result.Name, Passed: result.Passed, Detail: result.Detail})
	}
	return out
}

// FromWorkDirs converts run directory listings.
func FromWorkDirs(dirs []staging.DirInfo) []WorkDir {
	out := make([]WorkDir, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, WorkDir{Name: dir.Name, Size: dir.Size, ModTime: formatTime(dir.ModTime)})
	}
	return out
}

// BuildDoctorReport marks the report healthy when every check passed and no
// required dependency is missing.
func BuildDoctorReport(results []preflight.Result, statuses []deps.Status) DoctorReport {
	report := DoctorReport{
		Checks:       FromChecks(results),
		Dependencies: FromDependencies(statuses),
		Healthy:      true,
	}
	for _, check := range report.Checks {
		if !check.Passed {
			report.Healthy = false
		}
	}
	if len(deps.Missing(statuses)) > 0 {
		report.Healthy = false
	}
	return report
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(statuses []DependencyStatus) DependencySummary {
	if len(statuses) == 0 {
		return DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range statuses {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(statuses) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(statuses), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(statuses))
	}

	return DependencySummary{
		Total:           len(statuses),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}

package daemon

import (
	"context"
	"net/http"

	"narrate/internal/api"
	"narrate/internal/synthesis"
)

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		Transport:    status.Transport,
		Storage:      status.Storage,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
		WorkDirs:     api.FromWorkDirs(status.WorkDirs),
	})
}

func (s *apiServer) handleDoctor(w http.ResponseWriter, r *http.Request) {
	checks, statuses := s.daemon.Doctor(r.Context())
	s.writeJSON(w, http.StatusOK, api.BuildDoctorReport(checks, statuses))
}

func (s *apiServer) handleDaemonStop(w http.ResponseWriter, _ *http.Request) {
	s.daemon.RequestShutdown()
	s.writeJSON(w, http.StatusAccepted, api.ActionResponse{OK: true, Message: "shutdown requested"})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, message+": "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: sent, Message: message})
}

func workerDTO(status synthesis.WorkerStatus) api.WorkerStatus {
	return api.WorkerStatus{State: string(status.State), PID: status.PID, Ready: status.Ready}
}

func (s *apiServer) handleWorkerStatus(w http.ResponseWriter, _ *http.Request) {
	worker := s.daemon.workflow.Worker()
	if worker == nil {
		s.writeError(w, http.StatusNotFound, "synthesis worker is managed externally")
		return
	}
	s.writeJSON(w, http.StatusOK, workerDTO(worker.Status()))
}

func (s *apiServer) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	worker := s.daemon.workflow.Worker()
	if worker == nil {
		s.writeError(w, http.StatusNotFound, "synthesis worker is managed externally")
		return
	}
	if err := worker.EnsureReady(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, workerDTO(worker.Status()))
}

func (s *apiServer) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	worker := s.daemon.workflow.Worker()
	if worker == nil {
		s.writeError(w, http.StatusNotFound, "synthesis worker is managed externally")
		return
	}
	if err := worker.Stop(context.WithoutCancel(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Message: "synthesis worker stopped"})
}

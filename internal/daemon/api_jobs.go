package daemon

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"narrate/internal/api"
	"narrate/internal/artifact"
	"narrate/internal/services"
	"narrate/internal/store"
	"narrate/internal/textutil"
)

const presignTTL = 15 * time.Minute

// presigner is implemented by artifact stores that hand out temporary URLs.
type presigner interface {
	Presign(loc artifact.Location, ttl time.Duration) (string, error)
}

func (s *apiServer) writeStatus(w http.ResponseWriter, code int, projectID int64, status store.JobStatus) {
	s.writeJSON(w, code, api.StatusResponse{ProjectID: projectID, Status: api.FromJobStatus(status)})
}

// handleGenerate answers as soon as the run is claimed; completion is
// observed through the status endpoints.
func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := s.daemon.workflow.Generate(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusAccepted, projectID, status)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := s.daemon.workflow.Cancel(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK, projectID, status)
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := s.daemon.workflow.Reset(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK, projectID, status)
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := s.daemon.store.GetStatus(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK, projectID, status)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.events.Serve(w, r, projectID)
}

func (s *apiServer) handleVideo(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	project, err := s.daemon.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !project.HasVideo() {
		s.writeServiceError(w, r, services.Wrap(services.ErrNotFound, "api", "video",
			fmt.Sprintf("project %d has no video", projectID), nil))
		return
	}
	loc := artifact.Location{Path: project.VideoPath, Key: project.VideoKey}
	if loc.Key != "" {
		signer, ok := s.daemon.artifacts.(presigner)
		if !ok {
			s.writeError(w, http.StatusNotImplemented, "configured storage cannot serve object downloads")
			return
		}
		url, err := signer.Presign(loc, presignTTL)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if _, err := os.Stat(loc.Path); err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrNotFound, "api", "video", "video file is missing", err))
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", textutil.VideoFileName(project.Title, projectID, filepath.Ext(loc.Path))))
	http.ServeFile(w, r, loc.Path)
}

package daemon

import (
	"fmt"
	"net/http"

	"narrate/internal/api"
	"narrate/internal/store"
)

func videoRoute(projectID int64) string {
	return fmt.Sprintf("/api/projects/%d/video", projectID)
}

func (s *apiServer) projectDTO(r *http.Request, project *store.Project) (api.Project, []api.Item, error) {
	items, err := s.daemon.store.ListItems(r.Context(), project.ID)
	if err != nil {
		return api.Project{}, nil, err
	}
	dtos := make([]api.Item, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, api.FromItem(item, s.daemon.workflow.Synthesizing(item.ID)))
	}
	return api.FromProject(project, len(items), videoRoute(project.ID)), dtos, nil
}

func (s *apiServer) writeProject(w http.ResponseWriter, r *http.Request, status int, project *store.Project) {
	dto, items, err := s.projectDTO(r, project)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, status, api.ProjectResponse{Project: dto, Items: items})
}

func (s *apiServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.daemon.store.ListProjects(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.Project, 0, len(projects))
	for _, project := range projects {
		dto, _, err := s.projectDTO(r, project)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		out = append(out, dto)
	}
	s.writeJSON(w, http.StatusOK, api.ProjectListResponse{Projects: out})
}

func (s *apiServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProjectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	project, err := s.daemon.store.CreateProject(r.Context(), req.Title)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeProject(w, r, http.StatusCreated, project)
}

func (s *apiServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	project, err := s.daemon.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeProject(w, r, http.StatusOK, project)
}

func (s *apiServer) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req api.RenameProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	project, err := s.daemon.store.RenameProject(r.Context(), id, req.Title)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeProject(w, r, http.StatusOK, project)
}

func (s *apiServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	project, err := s.daemon.workflow.DeleteProject(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Message: fmt.Sprintf("deleted project %q", project.Title)})
}

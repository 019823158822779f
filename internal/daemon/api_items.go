package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"narrate/internal/api"
	"narrate/internal/services"
	"narrate/internal/store"
	"narrate/internal/workflow"
)

const maxImageUpload = 64 << 20

func itemIDs(r *http.Request) (int64, int64, error) {
	projectID, err := pathID(r, "project")
	if err != nil {
		return 0, 0, err
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		return 0, 0, err
	}
	return projectID, itemID, nil
}

func (s *apiServer) itemDTOs(items []*store.Item) []api.Item {
	out := make([]api.Item, 0, len(items))
	for _, item := range items {
		out = append(out, api.FromItem(item, s.daemon.workflow.Synthesizing(item.ID)))
	}
	return out
}

func (s *apiServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := s.daemon.store.GetProject(r.Context(), projectID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items, err := s.daemon.store.ListItems(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemListResponse{Items: s.itemDTOs(items)})
}

func (s *apiServer) handleAddItem(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req api.ItemRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	var content, instruct string
	if req.Content != nil {
		content = *req.Content
	}
	if req.Instruct != nil {
		instruct = *req.Instruct
	}
	item, err := s.daemon.store.AddItem(r.Context(), projectID, content, instruct)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ItemResponse{Item: api.FromItem(item, false)})
}

func (s *apiServer) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	projectID, itemID, err := itemIDs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req api.ItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.daemon.store.UpdateItem(r.Context(), projectID, itemID, store.ItemUpdate{
		Content:  req.Content,
		Instruct: req.Instruct,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: api.FromItem(item, s.daemon.workflow.Synthesizing(item.ID))})
}

func (s *apiServer) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	projectID, itemID, err := itemIDs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := s.daemon.workflow.DeleteItem(r.Context(), projectID, itemID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Message: fmt.Sprintf("deleted item %d", itemID)})
}

func (s *apiServer) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	projectID, itemID, err := itemIDs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req api.MoveItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var dir store.Direction
	switch strings.ToLower(strings.TrimSpace(req.Direction)) {
	case "up":
		dir = store.MoveUp
	case "down":
		dir = store.MoveDown
	default:
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "move",
			fmt.Sprintf("direction must be up or down, got %q", req.Direction), nil))
		return
	}
	items, err := s.daemon.store.MoveItem(r.Context(), projectID, itemID, dir)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemListResponse{Items: s.itemDTOs(items)})
}

// handleUploadImage accepts a multipart "image" field, or a raw body named
// by the filename query parameter.
func (s *apiServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	projectID, itemID, err := itemIDs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)

	var item *store.Item
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, ferr := r.FormFile("image")
		if ferr != nil {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "multipart field \"image\" is required", ferr))
			return
		}
		defer file.Close()
		item, err = s.daemon.workflow.AttachImage(r.Context(), projectID, itemID, header.Filename, file)
	} else {
		filename := strings.TrimSpace(r.URL.Query().Get("filename"))
		if filename == "" {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "filename query parameter is required for raw uploads", nil))
			return
		}
		item, err = s.daemon.workflow.AttachImage(r.Context(), projectID, itemID, filename, r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: api.FromItem(item, s.daemon.workflow.Synthesizing(item.ID))})
}

// handleSynthesize runs speech synthesis for an item. Worker failures are
// reported in the response body with status 200 so the caller can show the
// message; only request problems use error status codes.
func (s *apiServer) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	projectID, itemID, err := itemIDs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	results, err := s.daemon.workflow.SubmitSynthesis(r.Context(), projectID, itemID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !queryBool(r, "wait", true) {
		s.writeJSON(w, http.StatusAccepted, api.SynthesisResponse{Accepted: true})
		return
	}
	select {
	case outcome := <-results:
		s.writeJSON(w, http.StatusOK, s.synthesisResponse(outcome))
	case <-r.Context().Done():
	}
}

func (s *apiServer) synthesisResponse(outcome workflow.SynthesisOutcome) api.SynthesisResponse {
	resp := api.SynthesisResponse{
		Skipped:   outcome.Skipped,
		ElapsedMS: outcome.Elapsed.Milliseconds(),
	}
	if outcome.Item != nil {
		item := api.FromItem(outcome.Item, false)
		resp.Item = &item
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
		resp.Hint = services.Hint(outcome.Err)
	}
	return resp
}

package httpapi

import (
	"net/http"
)

// handleProjectsList implements GET /api/projects. _orphaned and
// _migrated are already excluded at the store layer (hidden = 0);
// _personal is listed, and its display name of "Personal" is seeded
// directly onto the row, not special-cased here (§6.3).
func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.Projects().List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleProjectGet implements GET /api/projects/{id}.
func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	proj, err := s.store.Projects().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// handleProjectUpdate implements PUT /api/projects/{id}. Reserved projects
// reject with a 403 via writeError's ConflictError special case.
func (s *Server) handleProjectUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string `json:"name"`
		RootPath *string `json:"root_path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	proj, err := s.store.Projects().Update(r.PathValue("id"), req.Name, req.RootPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// handleProjectDelete implements DELETE /api/projects/{id}.
func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Projects().Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package httpapi

import (
	"net/http"
)

// hookRequest is the wire shape of spec.md §6.1's POST /hooks/execute body.
type hookRequest struct {
	HookType  string         `json:"hook_type"`
	Source    string         `json:"source"`
	InputData map[string]any `json:"input_data"`
}

// handleHookExecute implements §6.1: look up the adapter by source,
// translate to a HookEvent, dispatch it, translate the response back to
// the CLI's native shape.
func (s *Server) handleHookExecute(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.HookType == "" || req.Source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hook_type and source are required"})
		return
	}
	if s.dispatcher == nil || s.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatcher not initialized"})
		return
	}

	adapter, err := s.registry.Lookup(req.Source)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	native := map[string]any{"hook_type": req.HookType, "input_data": req.InputData}
	event, err := adapter.TranslateToEvent(native)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := s.dispatcher.Handle(event)

	out, err := adapter.TranslateFromResponse(resp, req.HookType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

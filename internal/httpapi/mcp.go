package httpapi

import (
	"net/http"
	"time"

	"github.com/steveyegge/gobby/internal/store"
)

// projectIDFromRequest resolves the project governing this request: an
// explicit project_id query param wins, otherwise cwd (also a query
// param) is resolved the same way dispatch.resolveProjectID does.
func (s *Server) projectIDFromRequest(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("project_id"); id != "" {
		return id, nil
	}
	cwd := r.URL.Query().Get("cwd")
	if cwd == "" {
		return store.ReservedProjectOrphaned, nil
	}
	proj, err := s.store.Projects().EnsureProject("", cwdProjectName(cwd), cwd)
	if err != nil {
		return "", err
	}
	return proj.ID, nil
}

func cwdProjectName(cwd string) string {
	for i := len(cwd) - 1; i >= 0; i-- {
		if cwd[i] == '/' {
			return cwd[i+1:]
		}
	}
	return cwd
}

type mcpServerView struct {
	Name      string            `json:"name"`
	ProjectID string            `json:"project_id"`
	Transport string            `json:"transport"`
	URL       string            `json:"url,omitempty"`
	Command   string            `json:"command,omitempty"`
	Enabled   bool              `json:"enabled"`
	State     string            `json:"state"`
	Healthy   bool              `json:"healthy"`
	Consecutive int             `json:"consecutive_failures"`
}

// handleMCPServersList implements GET /mcp/servers (§6.2).
func (s *Server) handleMCPServersList(w http.ResponseWriter, r *http.Request) {
	projectID, err := s.projectIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfgs, err := s.store.MCPServers().List(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]mcpServerView, 0, len(cfgs))
	for _, cfg := range cfgs {
		v := mcpServerView{
			Name: cfg.Name, ProjectID: cfg.ProjectID, Transport: cfg.Transport,
			URL: cfg.URL, Command: cfg.Command, Enabled: cfg.Enabled, State: "unknown",
		}
		if s.mcp != nil {
			if h, ok := s.mcp.Health(cfg.Name); ok {
				v.State, v.Healthy, v.Consecutive = h.State, h.Healthy, h.ConsecutiveFailures
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": views})
}

type mcpServerUpsertRequest struct {
	Name      string            `json:"name"`
	ProjectID string            `json:"project_id"`
	Transport string            `json:"transport"`
	URL       string            `json:"url"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	Headers   map[string]string `json:"headers"`
	Enabled   bool              `json:"enabled"`
}

// handleMCPServersUpsert implements POST /mcp/servers (§6.2). Any
// previously connected transport for this name is dropped so the next
// call reconnects using the freshly saved config.
func (s *Server) handleMCPServersUpsert(w http.ResponseWriter, r *http.Request) {
	var req mcpServerUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	cfg := store.MCPServerConfig{
		Name: req.Name, ProjectID: req.ProjectID, Transport: req.Transport, URL: req.URL,
		Command: req.Command, Args: req.Args, Env: req.Env, Headers: req.Headers, Enabled: req.Enabled,
	}
	if err := s.store.MCPServers().Upsert(cfg); err != nil {
		writeError(w, err)
		return
	}
	if s.mcp != nil {
		s.mcp.Forget(req.Name)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMCPServersDelete implements DELETE /mcp/servers/{name}.
func (s *Server) handleMCPServersDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	projectID := r.URL.Query().Get("project_id")
	if err := s.store.MCPServers().Delete(name, projectID); err != nil {
		writeError(w, err)
		return
	}
	if s.mcp != nil {
		s.mcp.Forget(name)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMCPServersImport bulk-upserts a list of server configs in one call.
func (s *Server) handleMCPServersImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Servers []mcpServerUpsertRequest `json:"servers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	imported := 0
	for _, sv := range req.Servers {
		if sv.Name == "" {
			continue
		}
		cfg := store.MCPServerConfig{
			Name: sv.Name, ProjectID: sv.ProjectID, Transport: sv.Transport, URL: sv.URL,
			Command: sv.Command, Args: sv.Args, Env: sv.Env, Headers: sv.Headers, Enabled: sv.Enabled,
		}
		if err := s.store.MCPServers().Upsert(cfg); err != nil {
			writeError(w, err)
			return
		}
		if s.mcp != nil {
			s.mcp.Forget(sv.Name)
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}

// handleMCPListTools implements GET /mcp/{server}/tools (§6.2): lazy
// connects and returns the live tool list.
func (s *Server) handleMCPListTools(w http.ResponseWriter, r *http.Request) {
	server := r.PathValue("server")
	if s.mcp == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "mcp manager not initialized"})
		return
	}
	projectID, err := s.projectIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tools, changed, err := s.mcp.ListTools(r.Context(), projectID, server)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "changed": changed})
}

// handleMCPToolCall implements POST /mcp/tools/call (§6.2).
func (s *Server) handleMCPToolCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerName string         `json:"server_name"`
		ToolName   string         `json:"tool_name"`
		Arguments  map[string]any `json:"arguments"`
		ProjectID  string         `json:"project_id"`
		TimeoutMs  int64          `json:"timeout_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if s.mcp == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "mcp manager not initialized"})
		return
	}
	var timeout time.Duration
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	result, err := s.mcp.CallTool(r.Context(), req.ProjectID, req.ServerName, req.ToolName, req.Arguments, timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMCPToolSchema implements POST /mcp/tools/schema (§6.2).
func (s *Server) handleMCPToolSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerName string `json:"server_name"`
		ToolName   string `json:"tool_name"`
		ProjectID  string `json:"project_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if s.mcp == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "mcp manager not initialized"})
		return
	}
	schema, err := s.mcp.GetToolInputSchema(r.Context(), req.ProjectID, req.ServerName, req.ToolName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"input_schema": schema})
}

// handleMCPRefresh implements POST /mcp/refresh: re-lists tools for every
// configured server in a project and reports a schema-hash-driven diff
// (new/changed/unchanged/removed counts per §6.2).
func (s *Server) handleMCPRefresh(w http.ResponseWriter, r *http.Request) {
	if s.mcp == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "mcp manager not initialized"})
		return
	}
	projectID, err := s.projectIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfgs, err := s.store.MCPServers().List(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	results := map[string]any{}
	for _, cfg := range cfgs {
		before, _ := s.store.MCPServers().ListCachedTools(cfg.Name, projectID)
		prevNames := map[string]bool{}
		for _, t := range before {
			prevNames[t.ToolName] = true
		}

		tools, changed, err := s.mcp.ListTools(r.Context(), projectID, cfg.Name)
		if err != nil {
			results[cfg.Name] = map[string]string{"error": err.Error()}
			continue
		}
		newNames := map[string]bool{}
		for _, t := range tools {
			newNames[t.Name] = true
		}
		removed := 0
		for name := range prevNames {
			if !newNames[name] {
				removed++
			}
		}
		newCount := 0
		for _, name := range changed {
			if !prevNames[name] {
				newCount++
			}
		}
		results[cfg.Name] = map[string]int{
			"new":       newCount,
			"changed":   len(changed) - newCount,
			"unchanged": len(tools) - len(changed),
			"removed":   removed,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": results})
}

// semanticRequest is the common shape of the recommend/search/embed
// endpoints: all accept cwd and resolve a project from it, returning a
// 200 JSON error object (not 400) when no project resolves (§6.2).
type semanticRequest struct {
	Cwd   string `json:"cwd"`
	Query string `json:"query"`
	Text  string `json:"text"`
}

func (s *Server) resolveSemanticProject(cwd string) (string, bool) {
	if cwd == "" {
		return "", false
	}
	proj, err := s.store.Projects().EnsureProject("", cwdProjectName(cwd), cwd)
	if err != nil {
		return "", false
	}
	return proj.ID, true
}

// handleMCPToolsRecommend and handleMCPToolsSearch are LLM/semantic
// features (§6.2). Gobby's daemon has no embedding model wired
// in-process, so both return the project's cached tools whose name or
// description contains the query (case-insensitive substring match),
// unranked, in server and tool-name order. handleMCPToolsEmbed, below,
// returns hash-bucket vectors instead.
func (s *Server) handleMCPToolsRecommend(w http.ResponseWriter, r *http.Request) {
	s.handleSemanticToolQuery(w, r)
}

func (s *Server) handleMCPToolsSearch(w http.ResponseWriter, r *http.Request) {
	s.handleSemanticToolQuery(w, r)
}

func (s *Server) handleSemanticToolQuery(w http.ResponseWriter, r *http.Request) {
	var req semanticRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	projectID, ok := s.resolveSemanticProject(req.Cwd)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "no project could be resolved from cwd"})
		return
	}
	query := req.Query
	if query == "" {
		query = req.Text
	}
	matches := s.matchCachedTools(projectID, query)
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) matchCachedTools(projectID, query string) []map[string]string {
	cfgs, err := s.store.MCPServers().List(projectID)
	if err != nil {
		return nil
	}
	var matches []map[string]string
	for _, cfg := range cfgs {
		tools, err := s.store.MCPServers().ListCachedTools(cfg.Name, projectID)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if query == "" || containsFold(t.ToolName, query) || containsFold(t.Description, query) {
				matches = append(matches, map[string]string{"server_name": cfg.Name, "tool_name": t.ToolName, "description": t.Description})
			}
		}
	}
	return matches
}

func containsFold(haystack, needle string) bool {
	h, n := toLower(haystack), toLower(needle)
	if n == "" {
		return true
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if h[i:i+len(n)] == n {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// handleMCPToolsEmbed returns a deterministic, non-ML hash-bucket vector
// for each cached tool's description — a stand-in embedding stable across
// calls, used by clients that only need a fixed-dimension vector to
// compute their own similarity over, not the semantics of a trained model.
func (s *Server) handleMCPToolsEmbed(w http.ResponseWriter, r *http.Request) {
	var req semanticRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if _, ok := s.resolveSemanticProject(req.Cwd); !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "no project could be resolved from cwd"})
		return
	}
	text := req.Text
	if text == "" {
		text = req.Query
	}
	writeJSON(w, http.StatusOK, map[string]any{"embedding": hashEmbed(text)})
}

const embedDimensions = 16

// hashEmbed buckets text into a fixed-dimension count vector via FNV-1a
// over sliding trigrams, giving callers a stable vector to diff without
// Gobby depending on an external embedding model.
func hashEmbed(text string) [embedDimensions]float64 {
	var vec [embedDimensions]float64
	lower := toLower(text)
	const windowSize = 3
	for i := 0; i+windowSize <= len(lower); i++ {
		h := fnv1a(lower[i : i+windowSize])
		vec[h%embedDimensions]++
	}
	return vec
}

func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

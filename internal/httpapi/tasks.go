package httpapi

import (
	"net/http"

	"github.com/steveyegge/gobby/internal/store"
)

func (s *Server) resolveTask(w http.ResponseWriter, r *http.Request) (*store.Task, bool) {
	ref := r.PathValue("ref")
	projectID := r.URL.Query().Get("project_id")
	task, err := s.store.Tasks().ResolveRef(projectID, ref)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return task, true
}

// handleTaskList implements GET /tasks, honoring ?ready=true/?blocked=true
// filters alongside the plain project listing (§6.3, §4.6).
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	opts := store.ListReadyOptions{ProjectID: projectID}

	switch {
	case r.URL.Query().Get("ready") == "true":
		tasks, err := s.store.Tasks().ListReady(opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
	case r.URL.Query().Get("blocked") == "true":
		tasks, err := s.store.Tasks().ListBlocked(opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
	default:
		tasks, err := s.store.Tasks().ListReady(opts)
		if err != nil {
			writeError(w, err)
			return
		}
		blocked, err := s.store.Tasks().ListBlocked(opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": append(tasks, blocked...)})
	}
}

type taskCreateRequest struct {
	ProjectID    string   `json:"project_id"`
	ParentTaskID *string  `json:"parent_task_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     int      `json:"priority"`
	TaskType     string   `json:"task_type"`
	Labels       []string `json:"labels"`
}

// handleTaskCreate implements POST /tasks.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	task, err := s.store.Tasks().CreateTask(store.CreateTaskOptions{
		ProjectID: req.ProjectID, ParentTaskID: req.ParentTaskID, Title: req.Title,
		Description: req.Description, Priority: req.Priority, TaskType: req.TaskType, Labels: req.Labels,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleTaskGet implements GET /tasks/{ref}; ref may be a UUID, "#N", a
// bare seq_num, or a dotted path_cache (§6.3).
func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type taskUpdateRequest struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	Status       *string   `json:"status"`
	Priority     *int      `json:"priority"`
	TaskType     *string   `json:"task_type"`
	Labels       *[]string `json:"labels"`
	Assignee     *string   `json:"assignee"`
	ParentTaskID **string  `json:"parent_task_id"`
	ClearParent  bool      `json:"clear_parent"`
}

// handleTaskUpdate implements PATCH /tasks/{ref}.
func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req taskUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	updated, err := s.store.Tasks().UpdateTask(task.ID, store.UpdateTaskFields{
		Title: req.Title, Description: req.Description, Status: req.Status, Priority: req.Priority,
		TaskType: req.TaskType, Labels: req.Labels, Assignee: req.Assignee,
		ParentTaskID: req.ParentTaskID, ClearParent: req.ClearParent,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleTaskDelete implements DELETE /tasks/{ref}?cascade=&unlink= (§6.3).
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	unlink := r.URL.Query().Get("unlink") == "true"
	if err := s.store.Tasks().DeleteTask(task.ID, cascade, unlink); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTaskClose implements POST /tasks/{ref}/close.
func (s *Server) handleTaskClose(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason    string  `json:"reason"`
		CommitSHA string  `json:"commit_sha"`
		SessionID *string `json:"session_id"`
		Force     bool    `json:"force"`
	}
	_ = decodeJSON(r, &req)
	closed, err := s.store.Tasks().CloseTask(task.ID, req.Reason, req.CommitSHA, req.SessionID, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

// handleTaskReopen implements POST /tasks/{ref}/reopen.
func (s *Server) handleTaskReopen(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)
	reopened, err := s.store.Tasks().ReopenTask(task.ID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reopened)
}

// handleTaskDeEscalate implements POST /tasks/{ref}/de-escalate: returns
// an escalated task to open. Its escalation_reason is left unchanged.
func (s *Server) handleTaskDeEscalate(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	if task.Status != store.TaskEscalated {
		writeError(w, &store.ConflictError{Reason: "task is not escalated"})
		return
	}
	status := store.TaskOpen
	updated, err := s.store.Tasks().UpdateTask(task.ID, store.UpdateTaskFields{Status: &status})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleTaskLinkCommit implements POST /tasks/{ref}/commits.
func (s *Server) handleTaskLinkCommit(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req struct {
		SHA string `json:"sha"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	resolver, err := s.commitResolverFor(task.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	short, err := s.store.Tasks().LinkCommit(task.ID, req.SHA, resolver)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sha": short})
}

// handleTaskUnlinkCommit implements DELETE /tasks/{ref}/commits/{sha}.
func (s *Server) handleTaskUnlinkCommit(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	resolver, err := s.commitResolverFor(task.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Tasks().UnlinkCommit(task.ID, r.PathValue("sha"), resolver); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCommentsList implements GET /tasks/{ref}/comments.
func (s *Server) handleCommentsList(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	comments, err := s.store.Comments().List(task.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// handleCommentsAdd implements POST /tasks/{ref}/comments.
func (s *Server) handleCommentsAdd(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req struct {
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	comment, err := s.store.Comments().Add(task.ID, req.Author, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// handleCommentsDelete implements DELETE /tasks/{ref}/comments/{commentID}.
func (s *Server) handleCommentsDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Comments().Delete(r.PathValue("commentID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDependenciesList implements GET /tasks/{ref}/dependencies. The
// store has no per-task edge listing beyond Add/Remove, so this reports
// only {task_id, blocked}, where blocked says whether the task appears in
// the project's ListBlocked result. Individual edges are not listed.
func (s *Server) handleDependenciesList(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	blocked, err := s.store.Tasks().ListBlocked(store.ListReadyOptions{ProjectID: task.ProjectID})
	if err != nil {
		writeError(w, err)
		return
	}
	isBlocked := false
	for _, b := range blocked {
		if b.ID == task.ID {
			isBlocked = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": task.ID, "blocked": isBlocked})
}

// handleDependenciesAdd implements POST /tasks/{ref}/dependencies.
func (s *Server) handleDependenciesAdd(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	var req struct {
		DependsOn string `json:"depends_on"`
		DepType   string `json:"dep_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	dependsOn, ok2 := s.lookupDependency(w, task.ProjectID, req.DependsOn)
	if !ok2 {
		return
	}
	depType := req.DepType
	if depType == "" {
		depType = store.DepBlocks
	}
	if err := s.store.Tasks().AddDependency(task.ID, dependsOn.ID, depType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDependenciesRemove implements DELETE /tasks/{ref}/dependencies.
func (s *Server) handleDependenciesRemove(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}
	dependsOnRef := r.URL.Query().Get("depends_on")
	depType := r.URL.Query().Get("dep_type")
	if depType == "" {
		depType = store.DepBlocks
	}
	dependsOn, ok2 := s.lookupDependency(w, task.ProjectID, dependsOnRef)
	if !ok2 {
		return
	}
	if err := s.store.Tasks().RemoveDependency(task.ID, dependsOn.ID, depType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) lookupDependency(w http.ResponseWriter, projectID, ref string) (*store.Task, bool) {
	t, err := s.store.Tasks().ResolveRef(projectID, ref)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return t, true
}

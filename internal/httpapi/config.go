package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/steveyegge/gobby/internal/config"
)

// handleConfigValuesGet implements GET /api/config/values.
func (s *Server) handleConfigValuesGet(w http.ResponseWriter, r *http.Request) {
	v, err := config.LoadOrCreateValues(s.configPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleConfigValuesPut implements PUT /api/config/values: the full
// replacement document is validated then persisted.
func (s *Server) handleConfigValuesPut(w http.ResponseWriter, r *http.Request) {
	var v config.Values
	if err := decodeJSON(r, &v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := config.SaveValues(s.configPath, &v); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &v)
}

// handleConfigValuesValidate implements POST /api/config/values/validate:
// runs SaveValues against a scratch file (configPath + ".validate-tmp"),
// so the live config file is never touched. The scratch file is left on
// disk after a successful validation.
func (s *Server) handleConfigValuesValidate(w http.ResponseWriter, r *http.Request) {
	var v config.Values
	if err := decodeJSON(r, &v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	tmp := s.configPath + ".validate-tmp"
	if err := config.SaveValues(tmp, &v); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleConfigValuesReset implements POST /api/config/values/reset:
// overwrites the config file with factory defaults.
func (s *Server) handleConfigValuesReset(w http.ResponseWriter, r *http.Request) {
	defaults := config.DefaultValues()
	if err := config.SaveValues(s.configPath, defaults); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaults)
}

// handleConfigTemplateGet implements GET /api/config/template: returns the
// raw YAML override document as text.
func (s *Server) handleConfigTemplateGet(w http.ResponseWriter, r *http.Request) {
	doc, err := config.LoadTemplate(config.DefaultTemplatePath())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleConfigTemplatePut implements PUT /api/config/template: applies the
// posted YAML overrides onto the current values and persists both the
// merged values and the override-only template (§9's scenario 6: only the
// keys actually set survive a round trip).
func (s *Server) handleConfigTemplatePut(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	base, err := config.LoadOrCreateValues(s.configPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	merged, err := config.ImportTemplate(doc, base)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := config.SaveValues(s.configPath, merged); err != nil {
		writeConfigError(w, err)
		return
	}
	if err := config.SaveTemplate(config.DefaultTemplatePath(), merged); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// handleConfigSecretsList implements GET /api/config/secrets?category=.
func (s *Server) handleConfigSecretsList(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "secrets store not initialized"})
		return
	}
	secrets, err := s.secrets.List(r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]string, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, map[string]string{
			"name":       sec.Name,
			"category":   sec.Category,
			"created_at": sec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": out})
}

// handleConfigSecretsPut implements POST /api/config/secrets.
func (s *Server) handleConfigSecretsPut(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "secrets store not initialized"})
		return
	}
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
		Value    string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.secrets.Put(req.Name, req.Category, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfigSecretsDelete implements DELETE /api/config/secrets/{name}.
func (s *Server) handleConfigSecretsDelete(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "secrets store not initialized"})
		return
	}
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfigExport implements POST /api/config/export: renders the
// current values as a template-style non-default-diff YAML document,
// letting an operator hand-carry config between machines without
// exposing secrets (secrets are a separate store, never included here).
func (s *Server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	v, err := config.LoadOrCreateValues(s.configPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	doc, err := config.ExportTemplate(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleConfigImport implements POST /api/config/import: the inverse of
// export, merging a posted YAML document onto the current values.
func (s *Server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	base, err := config.LoadOrCreateValues(s.configPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	merged, err := config.ImportTemplate(doc, base)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := config.SaveValues(s.configPath, merged); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// writeConfigError maps config package sentinel errors to a status code;
// config errors aren't typed the way store/mcpclient errors are, so this
// is the one place string/errors.Is matching is appropriate rather than
// the errorStatuser interface switch in server.go.
func writeConfigError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, config.ErrInvalidVersion) || errors.Is(err, config.ErrInvalidType) || errors.Is(err, config.ErrMissingField) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"
)

// MCPServers is the repository for registered MCP server configs, their
// cached tool listings, and per-tool call metrics (spec.md §3.2
// "MCPServerConfig"/"CachedTool"/"ToolMetric", §4.5).
type MCPServers struct{ s *Store }

func (s *Store) MCPServers() *MCPServers { return &MCPServers{s} }

// Upsert creates or replaces a server's configuration.
func (m *MCPServers) Upsert(cfg MCPServerConfig) error {
	args, _ := json.Marshal(cfg.Args)
	env, _ := json.Marshal(cfg.Env)
	headers, _ := json.Marshal(cfg.Headers)
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := m.s.db.Exec(
		`INSERT INTO mcp_servers (name, project_id, transport, url, command, args, env, headers, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, project_id) DO UPDATE SET
			transport = excluded.transport, url = excluded.url, command = excluded.command,
			args = excluded.args, env = excluded.env, headers = excluded.headers, enabled = excluded.enabled`,
		cfg.Name, cfg.ProjectID, cfg.Transport, cfg.URL, cfg.Command, string(args), string(env), string(headers), enabled,
	)
	if err != nil {
		return err
	}
	m.s.notify(Change{Entity: "mcp_server", ID: cfg.Name, Op: "update"})
	return nil
}

// Get fetches one server config.
func (m *MCPServers) Get(name, projectID string) (*MCPServerConfig, error) {
	row := m.s.db.QueryRow(
		`SELECT name, project_id, transport, url, command, args, env, headers, enabled
		 FROM mcp_servers WHERE name = ? AND project_id = ?`, name, projectID,
	)
	return scanMCPServer(row)
}

// List returns every server config visible to a project (its own rows
// plus project_id='' global rows).
func (m *MCPServers) List(projectID string) ([]*MCPServerConfig, error) {
	rows, err := m.s.db.Query(
		`SELECT name, project_id, transport, url, command, args, env, headers, enabled
		 FROM mcp_servers WHERE project_id = ? OR project_id = '' ORDER BY name`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MCPServerConfig
	for rows.Next() {
		cfg, err := scanMCPServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Delete removes a server config and its cached tools (ON DELETE CASCADE).
func (m *MCPServers) Delete(name, projectID string) error {
	res, err := m.s.db.Exec(`DELETE FROM mcp_servers WHERE name = ? AND project_id = ?`, name, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "mcp_server", ID: name}
	}
	m.s.notify(Change{Entity: "mcp_server", ID: name, Op: "delete"})
	return nil
}

func scanMCPServer(row rowScanner) (*MCPServerConfig, error) {
	cfg := &MCPServerConfig{}
	var argsJSON, envJSON, headersJSON string
	var enabled int
	if err := row.Scan(&cfg.Name, &cfg.ProjectID, &cfg.Transport, &cfg.URL, &cfg.Command,
		&argsJSON, &envJSON, &headersJSON, &enabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "mcp_server", ID: ""}
		}
		return nil, err
	}
	cfg.Enabled = enabled != 0
	_ = json.Unmarshal([]byte(argsJSON), &cfg.Args)
	_ = json.Unmarshal([]byte(envJSON), &cfg.Env)
	_ = json.Unmarshal([]byte(headersJSON), &cfg.Headers)
	return cfg, nil
}

// HashSchema computes the stable digest cached_tools.schema_hash tracks,
// so the MCP client can detect a tool's input schema changing between
// server restarts without re-hashing the raw (non-deterministic field
// order) JSON it received over the wire.
func HashSchema(inputSchemaJSON string) string {
	var normalized any
	if err := json.Unmarshal([]byte(inputSchemaJSON), &normalized); err != nil {
		sum := sha256.Sum256([]byte(inputSchemaJSON))
		return hex.EncodeToString(sum[:])
	}
	canonical, _ := json.Marshal(normalized)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ReplaceCachedTools overwrites a server's cached tool listing in one
// transaction, returning the subset of names whose schema_hash changed
// (or that are new) relative to what was cached before — the MCP client
// uses this to decide when to invalidate a consumer's cached tool schema.
func (m *MCPServers) ReplaceCachedTools(serverName, projectID string, tools []CachedTool) ([]string, error) {
	tx, err := m.s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prevHashes := map[string]string{}
	rows, err := tx.Query(`SELECT tool_name, schema_hash FROM cached_tools WHERE server_name = ? AND project_id = ?`, serverName, projectID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			rows.Close()
			return nil, err
		}
		prevHashes[name] = hash
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM cached_tools WHERE server_name = ? AND project_id = ?`, serverName, projectID); err != nil {
		return nil, err
	}

	var changed []string
	for _, t := range tools {
		hash := HashSchema(t.InputSchemaJSON)
		if prevHashes[t.ToolName] != hash {
			changed = append(changed, t.ToolName)
		}
		if _, err := tx.Exec(
			`INSERT INTO cached_tools (server_name, project_id, tool_name, description, input_schema_json, schema_hash)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			serverName, projectID, t.ToolName, t.Description, t.InputSchemaJSON, hash,
		); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changed, nil
}

// ListCachedTools returns the cached tool listing for one server.
func (m *MCPServers) ListCachedTools(serverName, projectID string) ([]*CachedTool, error) {
	rows, err := m.s.db.Query(
		`SELECT server_name, project_id, tool_name, description, input_schema_json, schema_hash
		 FROM cached_tools WHERE server_name = ? AND project_id = ? ORDER BY tool_name`, serverName, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CachedTool
	for rows.Next() {
		ct := &CachedTool{}
		if err := rows.Scan(&ct.ServerName, &ct.ProjectID, &ct.ToolName, &ct.Description, &ct.InputSchemaJSON, &ct.SchemaHash); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// RecordToolCall upserts the running call/success/latency counters for
// one tool (§4.5 "per-call metrics that never fail the call").
func (m *MCPServers) RecordToolCall(projectID, serverName, toolName string, success bool, latencyMs int64) error {
	successDelta := 0
	if success {
		successDelta = 1
	}
	now := time.Now().UTC()
	_, err := m.s.db.Exec(
		`INSERT INTO tool_metrics (project_id, server_name, tool_name, call_count, success_count, total_latency_ms, last_called_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(project_id, server_name, tool_name) DO UPDATE SET
			call_count = call_count + 1,
			success_count = success_count + excluded.success_count,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms,
			last_called_at = excluded.last_called_at`,
		projectID, serverName, toolName, successDelta, latencyMs, now,
	)
	return err
}

// ToolMetrics returns the recorded metrics for every tool on a server.
func (m *MCPServers) ToolMetrics(projectID, serverName string) ([]*ToolMetric, error) {
	rows, err := m.s.db.Query(
		`SELECT project_id, server_name, tool_name, call_count, success_count, total_latency_ms, last_called_at
		 FROM tool_metrics WHERE project_id = ? AND server_name = ? ORDER BY tool_name`, projectID, serverName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ToolMetric
	for rows.Next() {
		tm := &ToolMetric{}
		var lastCalled sql.NullTime
		if err := rows.Scan(&tm.ProjectID, &tm.ServerName, &tm.ToolName, &tm.CallCount, &tm.SuccessCount, &tm.TotalLatencyMs, &lastCalled); err != nil {
			return nil, err
		}
		if lastCalled.Valid {
			t := lastCalled.Time
			tm.LastCalledAt = &t
		}
		out = append(out, tm)
	}
	return out, rows.Err()
}

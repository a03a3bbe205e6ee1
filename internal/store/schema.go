package store

// schema holds the full set of DDL statements applied to a fresh database.
// Modeled on the beads project's sqlite schema (issues/dependencies tables
// with CHECK-constrained status transitions and ON DELETE CASCADE edges):
// Gobby renames "issues" to "tasks" and adds the session/worktree/workflow
// state/MCP tables the daemon needs on top of the same task-DAG shape.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    root_path TEXT NOT NULL DEFAULT '',
    hidden INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL,
    source TEXT NOT NULL CHECK(source IN ('claude','gemini','codex','antigravity')),
    machine_id TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL REFERENCES projects(id),
    parent_session_id TEXT REFERENCES sessions(id),
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','paused','handoff_ready','expired')),
    jsonl_path TEXT DEFAULT '',
    summary_markdown TEXT DEFAULT '',
    compact_markdown TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_identity
    ON sessions(external_id, source, machine_id)
    WHERE status != 'expired';
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_sessions_handoff
    ON sessions(machine_id, source, project_id, status);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    parent_task_id TEXT REFERENCES tasks(id),
    seq_num INTEGER NOT NULL,
    path_cache TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL CHECK(length(title) > 0),
    description TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','in_progress','escalated','closed')),
    priority INTEGER NOT NULL DEFAULT 999,
    task_type TEXT NOT NULL DEFAULT 'task',
    labels TEXT NOT NULL DEFAULT '[]',
    assignee TEXT DEFAULT '',
    commits TEXT NOT NULL DEFAULT '[]',
    workflow_name TEXT DEFAULT '',
    sequence_order INTEGER DEFAULT 0,
    closed_in_session_id TEXT REFERENCES sessions(id),
    closed_commit_sha TEXT DEFAULT '',
    closed_reason TEXT DEFAULT '',
    closed_at DATETIME,
    validation_status TEXT NOT NULL DEFAULT 'none' CHECK(validation_status IN ('none','pending','valid','invalid')),
    escalation_reason TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK ((status = 'closed') = (closed_at IS NOT NULL)),
    UNIQUE(project_id, seq_num)
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_dependencies (
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    dep_type TEXT NOT NULL DEFAULT 'blocks' CHECK(dep_type IN ('blocks','related')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (task_id, depends_on_task_id, dep_type),
    CHECK (task_id != depends_on_task_id)
);

CREATE INDEX IF NOT EXISTS idx_task_deps_task ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_dependencies(depends_on_task_id);

CREATE TABLE IF NOT EXISTS worktrees (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    branch_name TEXT NOT NULL,
    worktree_path TEXT NOT NULL,
    base_branch TEXT NOT NULL DEFAULT 'main',
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','released','deleted')),
    task_id TEXT REFERENCES tasks(id),
    agent_session_id TEXT REFERENCES sessions(id),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_worktrees_active_branch
    ON worktrees(project_id, branch_name)
    WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_worktrees_task ON worktrees(task_id);

CREATE TABLE IF NOT EXISTS workflow_state (
    session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
    workflow_name TEXT NOT NULL DEFAULT '',
    step TEXT NOT NULL DEFAULT '',
    variables TEXT NOT NULL DEFAULT '{}',
    observations TEXT NOT NULL DEFAULT '[]',
    reserved_slots INTEGER NOT NULL DEFAULT 0,
    spawned_agents TEXT NOT NULL DEFAULT '[]',
    context_injected INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mcp_servers (
    name TEXT NOT NULL,
    project_id TEXT DEFAULT '',
    transport TEXT NOT NULL CHECK(transport IN ('http','websocket','stdio')),
    url TEXT DEFAULT '',
    command TEXT DEFAULT '',
    args TEXT NOT NULL DEFAULT '[]',
    env TEXT NOT NULL DEFAULT '{}',
    headers TEXT NOT NULL DEFAULT '{}',
    enabled INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (name, project_id)
);

CREATE TABLE IF NOT EXISTS cached_tools (
    server_name TEXT NOT NULL,
    project_id TEXT NOT NULL DEFAULT '',
    tool_name TEXT NOT NULL,
    description TEXT DEFAULT '',
    input_schema_json TEXT NOT NULL DEFAULT '{}',
    schema_hash TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (server_name, project_id, tool_name),
    FOREIGN KEY (server_name, project_id) REFERENCES mcp_servers(name, project_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tool_metrics (
    project_id TEXT NOT NULL DEFAULT '',
    server_name TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    call_count INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    total_latency_ms INTEGER NOT NULL DEFAULT 0,
    last_called_at DATETIME,
    PRIMARY KEY (project_id, server_name, tool_name)
);

CREATE TABLE IF NOT EXISTS session_tasks (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    action TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_session_tasks_session ON session_tasks(session_id, action, created_at);

CREATE TABLE IF NOT EXISTS task_comments (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    author TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL CHECK(length(body) > 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_comments_task ON task_comments(task_id, created_at);

CREATE TABLE IF NOT EXISTS secrets (
    name TEXT PRIMARY KEY,
    category TEXT NOT NULL DEFAULT 'general',
    ciphertext BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// migrations lists schema revisions applied in order after the base schema.
// Empty for now; future ALTER TABLE statements append here so existing
// installs upgrade in place instead of requiring a fresh database.
var migrations []migration

type migration struct {
	version int
	sql     string
}

package store

import "time"

// Session mirrors spec.md §3.2 "Session".
type Session struct {
	ID              string
	ExternalID      string
	Source          string
	MachineID       string
	ProjectID       string
	ParentSessionID *string
	Status          string
	JSONLPath       string
	SummaryMarkdown string
	CompactMarkdown string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	SessionActive       = "active"
	SessionPaused       = "paused"
	SessionHandoffReady = "handoff_ready"
	SessionExpired      = "expired"
)

// Task mirrors spec.md §3.2 "Task".
type Task struct {
	ID                 string
	ProjectID          string
	ParentTaskID       *string
	SeqNum             int
	PathCache          string
	Title              string
	Description        string
	Status             string
	Priority           int
	TaskType           string
	Labels             []string
	Assignee           string
	Commits            []string
	WorkflowName       string
	SequenceOrder      int
	ClosedInSessionID  *string
	ClosedCommitSHA    string
	ClosedReason       string
	ClosedAt           *time.Time
	ValidationStatus   string
	EscalationReason   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskEscalated  = "escalated"
	TaskClosed     = "closed"

	UnknownPriority = 999
)

// TaskDependency mirrors spec.md §3.2 "TaskDependency".
type TaskDependency struct {
	TaskID          string
	DependsOnTaskID string
	DepType         string
}

const (
	DepBlocks  = "blocks"
	DepRelated = "related"
)

// Worktree mirrors spec.md §3.2 "Worktree".
type Worktree struct {
	ID              string
	ProjectID       string
	BranchName      string
	WorktreePath    string
	BaseBranch      string
	Status          string
	TaskID          *string
	AgentSessionID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	WorktreeActive   = "active"
	WorktreeReleased = "released"
	WorktreeDeleted  = "deleted"
)

// SpawnedAgent records one successful orchestrator spawn (§4.4 step 7).
type SpawnedAgent struct {
	TaskID      string `json:"task_id"`
	AgentID     string `json:"agent_id"`
	SessionID   string `json:"session_id"`
	WorktreeID  string `json:"worktree_id"`
	BranchName  string `json:"branch_name"`
}

// WorkflowState mirrors spec.md §3.2 "WorkflowState".
type WorkflowState struct {
	SessionID        string
	WorkflowName     string
	Step             string
	Variables        map[string]any
	Observations     []map[string]any
	ReservedSlots    int
	SpawnedAgents    []SpawnedAgent
	ContextInjected  bool
	UpdatedAt        time.Time
}

// MCPServerConfig mirrors spec.md §3.2 "MCPServerConfig".
type MCPServerConfig struct {
	Name      string
	ProjectID string
	Transport string
	URL       string
	Command   string
	Args      []string
	Env       map[string]string
	Headers   map[string]string
	Enabled   bool
}

const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportStdio     = "stdio"
)

// CachedTool mirrors spec.md §3.2 "CachedTool".
type CachedTool struct {
	ServerName      string
	ProjectID       string
	ToolName        string
	Description     string
	InputSchemaJSON string
	SchemaHash      string
}

// ToolMetric mirrors spec.md §3.2 "ToolMetric".
type ToolMetric struct {
	ProjectID      string
	ServerName     string
	ToolName       string
	CallCount      int64
	SuccessCount   int64
	TotalLatencyMs int64
	LastCalledAt   *time.Time
}

// Secret mirrors spec.md §3.2 "Secret". Ciphertext is never logged.
type Secret struct {
	Name       string
	Category   string
	Ciphertext []byte
	CreatedAt  time.Time
}

// Project is the project registry entry backing spec.md §3.1 ProjectID.
type Project struct {
	ID       string
	Name     string
	RootPath string
	Hidden   bool
}

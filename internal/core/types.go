package core

import "time"

// TokenCounts is one turn's token usage, authoritative or estimated.
type TokenCounts struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read,omitempty"`
	CacheWrite int64 `json:"cache_write,omitempty"`
}

// UsageRow is the normalized per-turn usage record the pipeline returns.
// There is at most one row per (conversation, turn) pair.
type UsageRow struct {
	ConversationID string      `json:"conversation_id"`
	TurnID         string      `json:"turn_id"`
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	Tokens         TokenCounts `json:"tokens"`
	Timestamp      time.Time   `json:"timestamp"`
	LastModified   time.Time   `json:"last_modified"`
	CostUSD        float64     `json:"cost_usd,omitempty"`
	ProjectPath    string      `json:"project_path,omitempty"`
	ProjectName    string      `json:"project_name,omitempty"`
	IsEstimated    bool        `json:"is_estimated"`
}

// Conversation is one user-agent session as stored by the editor. The
// engine treats it as read-only and versions it by LastModified.
type Conversation struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastModified time.Time
	Model        string // conversation-level default, may be a placeholder
	TurnIDs      []string
	ProjectPath  string
	ProjectName  string
}

// Role is a turn's author.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// Turn is one message within a conversation. Immutable once fully
// written; may appear with empty content while a response streams.
type Turn struct {
	ID        string
	Role      Role
	Input     int64
	Output    int64
	Text      string
	Model     string // per-turn override, may be empty or a placeholder
	CreatedAt time.Time
}

// EnrichmentRecord is one billed unit of work from the remote usage
// export. It carries no conversation identity; matching is by time.
type EnrichmentRecord struct {
	Timestamp              time.Time
	Kind                   string
	Model                  string
	MaxMode                bool
	InputWithCacheWrite    int64
	InputWithoutCacheWrite int64
	CacheRead              int64
	Output                 int64
	Total                  int64
	CostUSD                float64
}

// Project is the workspace a conversation belongs to.
type Project struct {
	Path string
	Name string
}

// ParseOptions narrows a pipeline run. A zero value means "everything".
type ParseOptions struct {
	// SessionID restricts the run to a single conversation and bypasses
	// the result cache.
	SessionID string
	// Limit bounds the number of conversations processed,
	// most-recently-modified first. Zero means no bound.
	Limit int
	// Since excludes conversations last modified before this instant.
	Since time.Time
}

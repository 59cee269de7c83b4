package models

import (
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
)

// TargetContext is one immutable version in a target's append-only context
// chain. Version numbers are monotone from 1 with no gaps; the owning target
// points at the head via CurrentContextID.
type TargetContext struct {
	ID              string               `json:"id"`
	TargetID        string               `json:"target_id"`
	Version         int                  `json:"version"`
	ParentVersionID *string              `json:"parent_version_id,omitempty"`
	UserContext     string               `json:"user_context,omitempty"`
	AgentContext    string               `json:"agent_context,omitempty"`
	CreatedBy       config.ContextAuthor `json:"created_by"`
	ChangeSummary   string               `json:"change_summary,omitempty"`
	ChangeType      string               `json:"change_type,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// AppendContextRequest contains fields for appending a new context version.
// At least one of UserContext/AgentContext must be non-empty.
type AppendContextRequest struct {
	TargetID      string
	UserContext   string
	AgentContext  string
	CreatedBy     config.ContextAuthor
	ChangeSummary string
	ChangeType    string
}

// FieldDiff is a line-oriented diff of a single text field.
type FieldDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// ContextDiff compares two context versions field by field.
type ContextDiff struct {
	UserContext  FieldDiff `json:"user_context"`
	AgentContext FieldDiff `json:"agent_context"`
}

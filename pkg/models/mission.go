package models

import (
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
)

// Scope declares which hosts a mission may touch. Patterns are recorded for
// the agent's benefit; the gateway does not enforce them.
type Scope struct {
	In  []string `json:"in,omitempty"`
	Out []string `json:"out,omitempty"`
}

// Mission is a bounded unit of testing work with a goal and an ordered
// stream of actions.
type Mission struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Goal        string               `json:"goal"`
	Hypothesis  *string              `json:"hypothesis,omitempty"`
	Scope       Scope                `json:"scope"`
	Status      config.MissionStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// CreateMissionRequest contains fields for creating a mission.
// Embeddings may be nil when the embedder is disabled.
type CreateMissionRequest struct {
	Name                string
	Goal                string
	Hypothesis          *string
	Scope               Scope
	GoalEmbedding       []float32
	HypothesisEmbedding []float32
}

// UpdateMissionRequest contains the fields update_mission may change.
// Nil fields are left untouched. Status changes are validated against the
// mission state machine.
type UpdateMissionRequest struct {
	Name                *string
	Goal                *string
	Hypothesis          *string
	Scope               *Scope
	Status              *config.MissionStatus
	GoalEmbedding       []float32
	HypothesisEmbedding []float32
}

// MissionFilters contains filtering options for listing missions.
type MissionFilters struct {
	Status config.MissionStatus
	Limit  int
}

// MissionAction is one immutable record of a technique attempt.
type MissionAction struct {
	ID         string               `json:"id"`
	MissionID  string               `json:"mission_id"`
	Technique  string               `json:"technique"`
	Hypothesis *string              `json:"hypothesis,omitempty"`
	Result     string               `json:"result"`
	Success    config.ActionOutcome `json:"success"`
	Learning   *string              `json:"learning,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// RecordActionRequest contains fields for appending an action to a mission.
type RecordActionRequest struct {
	MissionID       string
	Technique       string
	Hypothesis      *string
	Result          string
	Success         config.ActionOutcome
	Learning        *string
	ActionEmbedding []float32
	ResultEmbedding []float32
}

// ActionFilters contains filtering options for search_techniques.
type ActionFilters struct {
	SuccessOnly         bool
	MissionGoalContains string
	MinSuccessRate      float64
	TechniqueContains   string
	Limit               int
}

// ScoredAction pairs an action with a cosine-similarity score.
type ScoredAction struct {
	Action *MissionAction `json:"action"`
	Score  float64        `json:"score"`
}

// TechniqueStats aggregates historical use of a named technique.
type TechniqueStats struct {
	Technique      string     `json:"technique"`
	UsageCount     int        `json:"usage_count"`
	SuccessRate    float64    `json:"success_rate"`
	FailedContexts []string   `json:"failed_contexts,omitempty"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
}

// Package models defines the persisted entities and the request/filter
// structs exchanged between the tool surface and the repositories.
package models

import (
	"fmt"
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
)

// Target is a host/port/protocol triple under test. The triple is unique;
// port is nil when it equals the scheme default.
type Target struct {
	ID               string                `json:"id"`
	Host             string                `json:"host"`
	Port             *int                  `json:"port,omitempty"`
	Protocol         config.Protocol       `json:"protocol"`
	Title            string                `json:"title,omitempty"`
	Status           config.TargetStatus   `json:"status"`
	RiskLevel        config.RiskLevel      `json:"risk_level"`
	Metadata         map[string]string     `json:"metadata,omitempty"`
	CurrentContextID *string               `json:"current_context_id,omitempty"`
	LastActivity     *time.Time            `json:"last_activity,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// BaseURL derives the canonical URL from the triple.
func (t *Target) BaseURL() string {
	if t.Port != nil {
		return fmt.Sprintf("%s://%s:%d", t.Protocol, t.Host, *t.Port)
	}
	return fmt.Sprintf("%s://%s", t.Protocol, t.Host)
}

// TargetDefaults carries the mutable fields applied when an upsert creates
// a new target. An existing row is returned unchanged.
type TargetDefaults struct {
	Title     string
	Status    config.TargetStatus
	RiskLevel config.RiskLevel
	Metadata  map[string]string
}

// TargetSearchFilters contains filtering options for listing targets.
type TargetSearchFilters struct {
	// Query matches case-insensitive substrings of host and title.
	Query     string
	Status    config.TargetStatus
	RiskLevel config.RiskLevel
	Protocol  config.Protocol
	Limit     int
}

// TargetUpdate contains the fields update_target_status may change.
// Nil fields are left untouched.
type TargetUpdate struct {
	Title     *string
	Status    *config.TargetStatus
	RiskLevel *config.RiskLevel
	Metadata  map[string]string // merged key-by-key into existing metadata
}

// TargetSummary is the tool-facing view of a target.
type TargetSummary struct {
	Target         *Target    `json:"target"`
	RequestCount   int        `json:"request_count"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	ContextExcerpt string     `json:"current_context_excerpt,omitempty"`
}

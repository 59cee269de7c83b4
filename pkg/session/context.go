// Package session holds per-agent-connection state: the active mission and
// the active cookie profile. Each MCP connection gets its own manager;
// nothing is shared across connections.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kwkeefer/hiro/pkg/repository"
)

// Snapshot is the immutable view of a connection's mission context.
// Readers (the HTTP executor's logging path) always see a consistent pair.
type Snapshot struct {
	MissionID     string
	CookieProfile string
}

// MissionResolver looks up missions for Set validation and Get display.
// Satisfied by *repository.MissionRepo; nil when the store is disabled.
type MissionResolver interface {
	Get(ctx context.Context, id string) (name string, err error)
}

// RepoResolver adapts a MissionRepo to the MissionResolver interface.
type RepoResolver struct {
	Missions *repository.MissionRepo
}

// Get returns the mission's human name.
func (r *RepoResolver) Get(ctx context.Context, id string) (string, error) {
	mission, err := r.Missions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return mission.Name, nil
}

// ContextManager tracks the active mission and cookie profile for one agent
// connection. Tool calls on a connection are sequential, but background
// logging may read concurrently, so state swaps atomically as a whole.
type ContextManager struct {
	state    atomic.Pointer[Snapshot]
	resolver MissionResolver
}

// NewContextManager creates an empty manager. resolver may be nil; Set then
// fails because missions cannot be validated without a store.
func NewContextManager(resolver MissionResolver) *ContextManager {
	m := &ContextManager{resolver: resolver}
	m.state.Store(&Snapshot{})
	return m
}

// Set activates a mission (validated against the store) and, optionally, a
// cookie profile. Returns the mission's human name as confirmation.
// An empty cookieProfile keeps the previous profile.
func (m *ContextManager) Set(ctx context.Context, missionID, cookieProfile string) (string, error) {
	if missionID == "" {
		return "", fmt.Errorf("mission_id is required")
	}
	if m.resolver == nil {
		return "", fmt.Errorf("missions are unavailable without a store")
	}
	name, err := m.resolver.Get(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mission: %w", err)
	}

	prev := m.state.Load()
	next := &Snapshot{MissionID: missionID, CookieProfile: cookieProfile}
	if cookieProfile == "" {
		next.CookieProfile = prev.CookieProfile
	}
	m.state.Store(next)
	return name, nil
}

// Clear resets both fields.
func (m *ContextManager) Clear() {
	m.state.Store(&Snapshot{})
}

// Get returns the current snapshot with the mission name resolved fresh
// from the store (it may have been renamed since Set).
func (m *ContextManager) Get(ctx context.Context) (Snapshot, string, error) {
	snap := *m.state.Load()
	if snap.MissionID == "" || m.resolver == nil {
		return snap, "", nil
	}
	name, err := m.resolver.Get(ctx, snap.MissionID)
	if err != nil {
		return snap, "", err
	}
	return snap, name, nil
}

// Snapshot returns the current state as one consistent pair.
func (m *ContextManager) Snapshot() Snapshot {
	return *m.state.Load()
}

// ResolveMission applies per-call precedence: an explicit mission id wins,
// otherwise the active mission applies. Empty means none.
func (m *ContextManager) ResolveMission(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return m.state.Load().MissionID
}

// ResolveCookieProfile applies the same precedence for cookie profiles.
func (m *ContextManager) ResolveCookieProfile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return m.state.Load().CookieProfile
}

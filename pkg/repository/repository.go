// Package repository implements the typed repositories over PostgreSQL.
// Every write runs in a single transaction; reads are auto-commit. The only
// cross-entity transaction is the context-version append, which serialises
// per target via a row lock.
package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the entity repositories over a shared connection pool.
type Store struct {
	Targets  *TargetRepo
	Contexts *ContextRepo
	Missions *MissionRepo
	Actions  *ActionRepo
	Requests *RequestRepo
	Library  *LibraryRepo
}

// NewStore creates the repository bundle.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Targets:  NewTargetRepo(pool),
		Contexts: NewContextRepo(pool),
		Missions: NewMissionRepo(pool),
		Actions:  NewActionRepo(pool),
		Requests: NewRequestRepo(pool),
		Library:  NewLibraryRepo(pool),
	}
}

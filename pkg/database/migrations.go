package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// CreateVectorIndexes creates approximate-NN indexes on the embedding
// columns. IVFFlat indexes are created separately from the schema migration
// because ivfflat builds sample existing rows for clustering. Missing
// indexes are created; an index that already exists is left as it is.
func CreateVectorIndexes(ctx context.Context, db *stdsql.DB) error {
	indexes := []struct {
		name, table, column string
	}{
		{"idx_missions_goal_embedding", "missions", "goal_embedding"},
		{"idx_missions_hypothesis_embedding", "missions", "hypothesis_embedding"},
		{"idx_mission_actions_action_embedding", "mission_actions", "action_embedding"},
		{"idx_mission_actions_result_embedding", "mission_actions", "result_embedding"},
		{"idx_technique_library_content_embedding", "technique_library", "content_embedding"},
	}

	for _, idx := range indexes {
		stmt := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (%s vector_cosine_ops) WITH (lists = 100)`,
			idx.name, idx.table, idx.column)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

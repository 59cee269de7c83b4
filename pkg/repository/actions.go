package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/models"
)

// ActionRepo manages the immutable mission-action stream and its
// similarity queries.
type ActionRepo struct {
	pool *pgxpool.Pool
}

// NewActionRepo creates a new ActionRepo
func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

const actionColumns = `id, mission_id, technique, hypothesis, result, success, learning, created_at`

// Append inserts an action record. Actions are never updated or deleted
// individually; they cascade with their mission.
func (r *ActionRepo) Append(ctx context.Context, req models.RecordActionRequest) (*models.MissionAction, error) {
	if req.Technique == "" {
		return nil, fmt.Errorf("technique is required")
	}
	if req.Result == "" {
		return nil, fmt.Errorf("result is required")
	}
	if req.Success == "" {
		req.Success = config.ActionOutcomeUnknown
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO mission_actions
			(id, mission_id, technique, hypothesis, result, success, learning,
			 action_embedding, result_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9::vector)
		RETURNING `+actionColumns,
		uuid.New().String(), req.MissionID, req.Technique, req.Hypothesis,
		req.Result, string(req.Success), req.Learning,
		formatVector(req.ActionEmbedding), formatVector(req.ResultEmbedding))

	action, err := scanAction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to append action: %w", err)
	}
	return action, nil
}

// Latest returns the mission's most recent action, or nil when the mission
// has none. Ties on created_at break by id.
func (r *ActionRepo) Latest(ctx context.Context, missionID string) (*models.MissionAction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+actionColumns+` FROM mission_actions
		WHERE mission_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, missionID)
	action, err := scanAction(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest action: %w", err)
	}
	return action, nil
}

// Get returns an action by id.
func (r *ActionRepo) Get(ctx context.Context, id string) (*models.MissionAction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM mission_actions WHERE id = $1`, id)
	action, err := scanAction(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

// ListRecent returns the mission's most recent actions, newest first.
func (r *ActionRepo) ListRecent(ctx context.Context, missionID string, limit int) ([]*models.MissionAction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM mission_actions
		WHERE mission_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// FindSimilar runs a cosine k-NN over action embeddings. Score is
// 1 − cosine distance, descending. Rows without embeddings never match.
func (r *ActionRepo) FindSimilar(ctx context.Context, queryVector []float32, missionID *string, k int, minSimilarity float64) ([]*models.ScoredAction, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if k <= 0 {
		k = 10
	}

	where := []string{"action_embedding IS NOT NULL"}
	args := []any{formatVector(queryVector)}
	if missionID != nil {
		args = append(args, *missionID)
		where = append(where, fmt.Sprintf("mission_id = $%d", len(args)))
	}
	args = append(args, 1-minSimilarity)
	where = append(where, fmt.Sprintf("(action_embedding <=> $1::vector) <= $%d", len(args)))
	args = append(args, k)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (action_embedding <=> $1::vector) AS score
		FROM mission_actions
		WHERE %s
		ORDER BY action_embedding <=> $1::vector
		LIMIT $%d`, actionColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar actions: %w", err)
	}
	defer rows.Close()

	var scored []*models.ScoredAction
	for rows.Next() {
		var a models.MissionAction
		var success string
		var score float64
		err := rows.Scan(&a.ID, &a.MissionID, &a.Technique, &a.Hypothesis, &a.Result,
			&success, &a.Learning, &a.CreatedAt, &score)
		if err != nil {
			return nil, err
		}
		a.Success = config.ActionOutcome(success)
		scored = append(scored, &models.ScoredAction{Action: &a, Score: score})
	}
	return scored, rows.Err()
}

// Search lists actions by non-vector filters, newest first. MinSuccessRate
// filters on the aggregate rate of the action's technique across all
// missions, so a known-bad technique is excluded even when the matching
// row itself succeeded.
func (r *ActionRepo) Search(ctx context.Context, filters models.ActionFilters) ([]*models.MissionAction, error) {
	where := []string{"TRUE"}
	args := []any{}

	if filters.SuccessOnly {
		where = append(where, "a.success = 'true'")
	}
	if filters.TechniqueContains != "" {
		args = append(args, "%"+filters.TechniqueContains+"%")
		where = append(where, fmt.Sprintf("a.technique ILIKE $%d", len(args)))
	}
	if filters.MissionGoalContains != "" {
		args = append(args, "%"+filters.MissionGoalContains+"%")
		where = append(where, fmt.Sprintf("m.goal ILIKE $%d", len(args)))
	}
	if filters.MinSuccessRate > 0 {
		args = append(args, filters.MinSuccessRate)
		where = append(where, fmt.Sprintf(`a.technique IN (
			SELECT technique FROM mission_actions
			GROUP BY technique
			HAVING avg(CASE WHEN success = 'true' THEN 1.0 ELSE 0.0 END) >= $%d)`, len(args)))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM mission_actions a
		JOIN missions m ON m.id = a.mission_id
		WHERE %s
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $%d`, prefixColumns("a", actionColumns), strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// Stats aggregates historical use of one technique name (exact match).
func (r *ActionRepo) Stats(ctx context.Context, technique string) (*models.TechniqueStats, error) {
	stats := &models.TechniqueStats{Technique: technique}

	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       COALESCE(avg(CASE WHEN success = 'true' THEN 1.0 ELSE 0.0 END), 0),
		       max(created_at)
		FROM mission_actions
		WHERE technique = $1`, technique).
		Scan(&stats.UsageCount, &stats.SuccessRate, &stats.LastUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate technique stats: %w", err)
	}
	if stats.UsageCount == 0 {
		return nil, ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT result FROM mission_actions
		WHERE technique = $1 AND success = 'false'
		ORDER BY created_at DESC
		LIMIT 5`, technique)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed contexts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		stats.FailedContexts = append(stats.FailedContexts, result)
	}
	return stats, rows.Err()
}

// Embeddings returns the stored embedding vectors for an action; either may
// be nil when the embedder was disabled at record time.
func (r *ActionRepo) Embeddings(ctx context.Context, id string) (action, result []float32, err error) {
	var actionText, resultText *string
	err = r.pool.QueryRow(ctx, `
		SELECT action_embedding::text, result_embedding::text
		FROM mission_actions WHERE id = $1`, id).Scan(&actionText, &resultText)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to read action embeddings: %w", err)
	}
	if actionText != nil {
		if action, err = parseVector(*actionText); err != nil {
			return nil, nil, err
		}
	}
	if resultText != nil {
		if result, err = parseVector(*resultText); err != nil {
			return nil, nil, err
		}
	}
	return action, result, nil
}

func scanAction(row pgx.Row) (*models.MissionAction, error) {
	var a models.MissionAction
	var success string
	err := row.Scan(&a.ID, &a.MissionID, &a.Technique, &a.Hypothesis, &a.Result,
		&success, &a.Learning, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Success = config.ActionOutcome(success)
	return &a, nil
}

func scanActions(rows pgx.Rows) ([]*models.MissionAction, error) {
	var actions []*models.MissionAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

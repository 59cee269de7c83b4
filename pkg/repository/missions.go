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

// MissionRepo manages missions and their target associations.
type MissionRepo struct {
	pool *pgxpool.Pool
}

// NewMissionRepo creates a new MissionRepo
func NewMissionRepo(pool *pgxpool.Pool) *MissionRepo {
	return &MissionRepo{pool: pool}
}

const missionColumns = `id, name, goal, hypothesis, scope, status, created_at, completed_at`

// Create inserts a mission. Embeddings may be nil when the embedder is
// disabled; similarity search over the mission degrades accordingly.
func (r *MissionRepo) Create(ctx context.Context, req models.CreateMissionRequest) (*models.Mission, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.Goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	scope, err := marshalJSON(req.Scope)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO missions
			(id, name, goal, hypothesis, scope, status, goal_embedding, hypothesis_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8::vector)
		RETURNING `+missionColumns,
		uuid.New().String(), req.Name, req.Goal, req.Hypothesis, scope,
		string(config.MissionStatusActive),
		formatVector(req.GoalEmbedding), formatVector(req.HypothesisEmbedding))

	mission, err := scanMission(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create mission: %w", err)
	}
	return mission, nil
}

// Get returns a mission by id.
func (r *MissionRepo) Get(ctx context.Context, id string) (*models.Mission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id)
	mission, err := scanMission(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return mission, nil
}

// Update applies the non-nil fields. Status changes are validated against
// the mission state machine inside the transaction; entering a terminal
// state stamps completed_at.
func (r *MissionRepo) Update(ctx context.Context, id string, req models.UpdateMissionRequest) (*models.Mission, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM missions WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock mission: %w", err)
	}

	set := []string{}
	args := []any{id}
	appendArg := func(clause string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(clause, len(args)))
	}

	if req.Name != nil {
		appendArg("name = $%d", *req.Name)
	}
	if req.Goal != nil {
		appendArg("goal = $%d", *req.Goal)
		appendArg("goal_embedding = $%d::vector", formatVector(req.GoalEmbedding))
	}
	if req.Hypothesis != nil {
		appendArg("hypothesis = $%d", *req.Hypothesis)
		appendArg("hypothesis_embedding = $%d::vector", formatVector(req.HypothesisEmbedding))
	}
	if req.Scope != nil {
		scope, err := marshalJSON(*req.Scope)
		if err != nil {
			return nil, err
		}
		appendArg("scope = $%d", scope)
	}
	if req.Status != nil {
		if !config.MissionStatus(currentStatus).CanTransitionTo(*req.Status) {
			return nil, fmt.Errorf("%w: mission status %s cannot transition to %s",
				ErrConflict, currentStatus, *req.Status)
		}
		appendArg("status = $%d", string(*req.Status))
		if req.Status.IsTerminal() {
			set = append(set, "completed_at = now()")
		}
	}

	if len(set) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		return r.Get(ctx, id)
	}

	row := tx.QueryRow(ctx, fmt.Sprintf(
		`UPDATE missions SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(set, ", "), missionColumns), args...)
	mission, err := scanMission(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update mission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mission update: %w", err)
	}
	return mission, nil
}

// List returns missions newest first, optionally filtered by status.
func (r *MissionRepo) List(ctx context.Context, filters models.MissionFilters) ([]*models.Mission, error) {
	where := "TRUE"
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = "status = $1"
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM missions WHERE %s
		ORDER BY created_at DESC LIMIT $%d`, missionColumns, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	var missions []*models.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// AssociateTarget links a target to the mission. Idempotent.
func (r *MissionRepo) AssociateTarget(ctx context.Context, missionID, targetID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mission_targets (mission_id, target_id)
		VALUES ($1, $2)
		ON CONFLICT (mission_id, target_id) DO NOTHING`, missionID, targetID)
	if err != nil {
		return fmt.Errorf("failed to associate target: %w", err)
	}
	return nil
}

// DissociateTarget removes a mission-target link. Removing an absent link
// is a no-op.
func (r *MissionRepo) DissociateTarget(ctx context.Context, missionID, targetID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM mission_targets WHERE mission_id = $1 AND target_id = $2`,
		missionID, targetID)
	if err != nil {
		return fmt.Errorf("failed to dissociate target: %w", err)
	}
	return nil
}

// TargetIDs returns the ids of targets associated with the mission.
func (r *MissionRepo) TargetIDs(ctx context.Context, missionID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT target_id FROM mission_targets WHERE mission_id = $1`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mission targets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a mission; actions and links cascade, request rows survive.
func (r *MissionRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM missions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMission(row pgx.Row) (*models.Mission, error) {
	var m models.Mission
	var scope []byte
	var status string
	err := row.Scan(&m.ID, &m.Name, &m.Goal, &m.Hypothesis, &scope, &status,
		&m.CreatedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	m.Status = config.MissionStatus(status)
	if err := unmarshalJSON(scope, &m.Scope); err != nil {
		return nil, fmt.Errorf("failed to decode mission scope: %w", err)
	}
	return &m, nil
}

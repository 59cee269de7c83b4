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

// ContextRepo manages the immutable target-context version chain.
type ContextRepo struct {
	pool *pgxpool.Pool
}

// NewContextRepo creates a new ContextRepo
func NewContextRepo(pool *pgxpool.Pool) *ContextRepo {
	return &ContextRepo{pool: pool}
}

const contextColumns = `id, target_id, version, parent_version_id, user_context,
	agent_context, created_by, change_summary, change_type, created_at`

// Append adds a new context version for the target. expectedVersion is the
// version the caller's edit was based on (0 when the target had no context);
// if a concurrent append moved the head first, Append fails with ErrConflict
// and the caller must re-read and retry.
//
// The whole operation runs in one transaction holding a row lock on the
// target, so version numbers are assigned without gaps.
func (r *ContextRepo) Append(ctx context.Context, req models.AppendContextRequest, expectedVersion int) (*models.TargetContext, error) {
	if req.UserContext == "" && req.AgentContext == "" {
		return nil, fmt.Errorf("either user_context or agent_context is required")
	}
	if req.CreatedBy == "" {
		req.CreatedBy = config.ContextAuthorAgent
	}
	if req.ChangeType == "" {
		req.ChangeType = "update"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the target row for the duration of the append.
	var currentContextID *string
	err = tx.QueryRow(ctx,
		`SELECT current_context_id FROM targets WHERE id = $1 FOR UPDATE`,
		req.TargetID).Scan(&currentContextID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock target: %w", err)
	}

	currentVersion := 0
	if currentContextID != nil {
		err = tx.QueryRow(ctx,
			`SELECT version FROM target_contexts WHERE id = $1`,
			*currentContextID).Scan(&currentVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to read current context version: %w", err)
		}
	}

	if currentVersion != expectedVersion {
		return nil, ErrConflict
	}

	newCtx := models.TargetContext{
		ID:              uuid.New().String(),
		TargetID:        req.TargetID,
		Version:         currentVersion + 1,
		ParentVersionID: currentContextID,
		UserContext:     req.UserContext,
		AgentContext:    req.AgentContext,
		CreatedBy:       req.CreatedBy,
		ChangeSummary:   req.ChangeSummary,
		ChangeType:      req.ChangeType,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO target_contexts
			(id, target_id, version, parent_version_id, user_context, agent_context,
			 created_by, change_summary, change_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		newCtx.ID, newCtx.TargetID, newCtx.Version, newCtx.ParentVersionID,
		newCtx.UserContext, newCtx.AgentContext, string(newCtx.CreatedBy),
		newCtx.ChangeSummary, newCtx.ChangeType).Scan(&newCtx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert context version: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE targets SET current_context_id = $2, updated_at = now() WHERE id = $1`,
		req.TargetID, newCtx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to advance context head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit context append: %w", err)
	}

	return &newCtx, nil
}

// Current returns the head of the target's context chain, or ErrNotFound
// when the target has no context yet.
func (r *ContextRepo) Current(ctx context.Context, targetID string) (*models.TargetContext, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+prefixColumns("c", contextColumns)+`
		FROM target_contexts c
		JOIN targets t ON t.current_context_id = c.id
		WHERE t.id = $1`, targetID)
	tc, err := scanContext(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current context: %w", err)
	}
	return tc, nil
}

// History returns context versions newest first.
func (r *ContextRepo) History(ctx context.Context, targetID string, limit int) ([]*models.TargetContext, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+contextColumns+` FROM target_contexts
		WHERE target_id = $1
		ORDER BY version DESC
		LIMIT $2`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list context history: %w", err)
	}
	defer rows.Close()

	var history []*models.TargetContext
	for rows.Next() {
		tc, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, tc)
	}
	return history, rows.Err()
}

// Get returns a context version by id.
func (r *ContextRepo) Get(ctx context.Context, id string) (*models.TargetContext, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contextColumns+` FROM target_contexts WHERE id = $1`, id)
	tc, err := scanContext(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return tc, nil
}

// GetVersion returns a specific version of the target's chain.
func (r *ContextRepo) GetVersion(ctx context.Context, targetID string, version int) (*models.TargetContext, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contextColumns+` FROM target_contexts WHERE target_id = $1 AND version = $2`,
		targetID, version)
	tc, err := scanContext(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get context version: %w", err)
	}
	return tc, nil
}

// Diff compares two context versions field by field, line-oriented.
func (r *ContextRepo) Diff(ctx context.Context, aID, bID string) (*models.ContextDiff, error) {
	a, err := r.Get(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := r.Get(ctx, bID)
	if err != nil {
		return nil, err
	}
	return &models.ContextDiff{
		UserContext:  diffLines(a.UserContext, b.UserContext),
		AgentContext: diffLines(a.AgentContext, b.AgentContext),
	}, nil
}

// diffLines produces the line-level additions and removals going from a to b
// using a longest-common-subsequence walk.
func diffLines(a, b string) models.FieldDiff {
	if a == b {
		return models.FieldDiff{}
	}
	al := splitLines(a)
	bl := splitLines(b)

	// LCS table over lines.
	lcs := make([][]int, len(al)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(bl)+1)
	}
	for i := len(al) - 1; i >= 0; i-- {
		for j := len(bl) - 1; j >= 0; j-- {
			if al[i] == bl[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var diff models.FieldDiff
	i, j := 0, 0
	for i < len(al) && j < len(bl) {
		switch {
		case al[i] == bl[j]:
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			diff.Removed = append(diff.Removed, al[i])
			i++
		default:
			diff.Added = append(diff.Added, bl[j])
			j++
		}
	}
	diff.Removed = append(diff.Removed, al[i:]...)
	diff.Added = append(diff.Added, bl[j:]...)
	return diff
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanContext(row pgx.Row) (*models.TargetContext, error) {
	var tc models.TargetContext
	var createdBy string
	err := row.Scan(&tc.ID, &tc.TargetID, &tc.Version, &tc.ParentVersionID,
		&tc.UserContext, &tc.AgentContext, &createdBy, &tc.ChangeSummary,
		&tc.ChangeType, &tc.CreatedAt)
	if err != nil {
		return nil, err
	}
	tc.CreatedBy = config.ContextAuthor(createdBy)
	return &tc, nil
}

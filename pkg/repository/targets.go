package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/models"
)

// TargetRepo manages the targets table.
type TargetRepo struct {
	pool *pgxpool.Pool
}

// NewTargetRepo creates a new TargetRepo
func NewTargetRepo(pool *pgxpool.Pool) *TargetRepo {
	return &TargetRepo{pool: pool}
}

const targetColumns = `id, host, port, protocol, title, status, risk_level, metadata,
	current_context_id, last_activity, created_at, updated_at`

// NormalizeTriple lowercases the host and drops the port when it equals the
// scheme default, producing the canonical form the unique index is built on.
func NormalizeTriple(host string, port *int, protocol config.Protocol) (string, *int) {
	host = strings.ToLower(strings.TrimSpace(host))
	if port != nil && *port == protocol.DefaultPort() {
		port = nil
	}
	return host, port
}

// Upsert inserts a target for the triple or returns the existing row
// unchanged. The boolean reports whether a row was created.
func (r *TargetRepo) Upsert(ctx context.Context, host string, port *int, protocol config.Protocol, defaults models.TargetDefaults) (*models.Target, bool, error) {
	host, port = NormalizeTriple(host, port, protocol)
	if host == "" {
		return nil, false, fmt.Errorf("host is required")
	}

	if defaults.Status == "" {
		defaults.Status = config.TargetStatusActive
	}
	if defaults.RiskLevel == "" {
		defaults.RiskLevel = config.RiskLevelMedium
	}
	metadata, err := marshalJSON(defaults.Metadata)
	if err != nil {
		return nil, false, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO targets (id, host, port, protocol, title, status, risk_level, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (host, COALESCE(port, 0), protocol) DO NOTHING
		RETURNING `+targetColumns,
		uuid.New().String(), host, port, string(protocol),
		defaults.Title, string(defaults.Status), string(defaults.RiskLevel), metadata)

	target, err := scanTarget(row)
	if err == nil {
		return target, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("failed to upsert target: %w", err)
	}

	// Conflict: the triple already exists; return it unchanged.
	target, err = r.getByTriple(ctx, host, port, protocol)
	if err != nil {
		return nil, false, err
	}
	return target, false, nil
}

func (r *TargetRepo) getByTriple(ctx context.Context, host string, port *int, protocol config.Protocol) (*models.Target, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets
		WHERE host = $1 AND COALESCE(port, 0) = COALESCE($2, 0) AND protocol = $3`,
		host, port, string(protocol))
	target, err := scanTarget(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get target by triple: %w", err)
	}
	return target, nil
}

// Get returns a target by id.
func (r *TargetRepo) Get(ctx context.Context, id string) (*models.Target, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	target, err := scanTarget(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return target, nil
}

// UpdateFields applies the non-nil fields of the update. Metadata keys are
// merged into the existing map rather than replacing it.
func (r *TargetRepo) UpdateFields(ctx context.Context, id string, update models.TargetUpdate) (*models.Target, error) {
	set := []string{"updated_at = now()"}
	args := []any{id}

	appendArg := func(clause string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(clause, len(args)))
	}

	if update.Title != nil {
		appendArg("title = $%d", *update.Title)
	}
	if update.Status != nil {
		appendArg("status = $%d", string(*update.Status))
	}
	if update.RiskLevel != nil {
		appendArg("risk_level = $%d", string(*update.RiskLevel))
	}
	if len(update.Metadata) > 0 {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		appendArg("metadata = metadata || $%d::jsonb", metadata)
	}

	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE targets SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(set, ", "), targetColumns), args...)
	target, err := scanTarget(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update target: %w", err)
	}
	return target, nil
}

// Search lists targets matching the filters, most recently active first.
func (r *TargetRepo) Search(ctx context.Context, filters models.TargetSearchFilters) ([]*models.Target, error) {
	where := []string{"TRUE"}
	args := []any{}

	if filters.Query != "" {
		args = append(args, "%"+filters.Query+"%")
		where = append(where, fmt.Sprintf("(host ILIKE $%d OR title ILIKE $%d)", len(args), len(args)))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.RiskLevel != "" {
		args = append(args, string(filters.RiskLevel))
		where = append(where, fmt.Sprintf("risk_level = $%d", len(args)))
	}
	if filters.Protocol != "" {
		args = append(args, string(filters.Protocol))
		where = append(where, fmt.Sprintf("protocol = $%d", len(args)))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM targets
		WHERE %s
		ORDER BY last_activity DESC NULLS LAST, created_at DESC
		LIMIT $%d`, targetColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search targets: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// BumpActivity records request activity against the target.
func (r *TargetRepo) BumpActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE targets SET last_activity = $2, updated_at = now() WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to bump target activity: %w", err)
	}
	return nil
}

// Delete removes a target. Contexts and mission links cascade; request rows
// keep a null target reference.
func (r *TargetRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTarget(row pgx.Row) (*models.Target, error) {
	var t models.Target
	var metadata []byte
	var protocol, status, riskLevel string
	err := row.Scan(&t.ID, &t.Host, &t.Port, &protocol, &t.Title, &status, &riskLevel,
		&metadata, &t.CurrentContextID, &t.LastActivity, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Protocol = config.Protocol(protocol)
	t.Status = config.TargetStatus(status)
	t.RiskLevel = config.RiskLevel(riskLevel)
	if err := unmarshalJSON(metadata, &t.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode target metadata: %w", err)
	}
	return &t, nil
}

func scanTargets(rows pgx.Rows) ([]*models.Target, error) {
	var targets []*models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

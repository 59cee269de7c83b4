package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwkeefer/hiro/pkg/models"
)

// RequestRepo manages the immutable http_requests log and its links to
// mission actions.
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo creates a new RequestRepo
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `id, target_id, method, url, host, path, query_params,
	request_headers, request_cookies, request_body, request_body_size, status_code,
	response_headers, response_body, response_body_size, elapsed_ms, error, created_at`

// Insert persists a request record. The id is generated here; an id
// collision regenerates once rather than failing the caller's request.
func (r *RequestRepo) Insert(ctx context.Context, rec *models.HTTPRequest) (*models.HTTPRequest, error) {
	queryParams, err := marshalJSON(rec.QueryParams)
	if err != nil {
		return nil, err
	}
	reqHeaders, err := marshalJSON(rec.RequestHeaders)
	if err != nil {
		return nil, err
	}
	reqCookies, err := marshalJSON(rec.RequestCookies)
	if err != nil {
		return nil, err
	}
	respHeaders, err := marshalJSON(rec.ResponseHeaders)
	if err != nil {
		return nil, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	for attempt := 0; ; attempt++ {
		id := uuid.New().String()
		row := r.pool.QueryRow(ctx, `
			INSERT INTO http_requests
				(id, target_id, method, url, host, path, query_params,
				 request_headers, request_cookies, request_body, request_body_size,
				 status_code, response_headers, response_body, response_body_size,
				 elapsed_ms, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING `+requestColumns,
			id, rec.TargetID, rec.Method, rec.URL, rec.Host, rec.Path, queryParams,
			reqHeaders, reqCookies, rec.RequestBody, rec.RequestBodySize,
			rec.StatusCode, respHeaders, rec.ResponseBody, rec.ResponseBodySize,
			rec.ElapsedMs, rec.Error, createdAt)

		inserted, err := scanRequest(row)
		if err == nil {
			return inserted, nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			continue
		}
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}
}

// LinkToAction links a request to an action. Idempotent: a duplicate link
// is a no-op, so re-linking after a cancelled tool call is safe.
func (r *RequestRepo) LinkToAction(ctx context.Context, requestID, actionID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO action_requests (action_id, request_id)
		VALUES ($1, $2)
		ON CONFLICT (action_id, request_id) DO NOTHING`, actionID, requestID)
	if err != nil {
		return fmt.Errorf("failed to link request to action: %w", err)
	}
	return nil
}

// Get returns a request by id.
func (r *RequestRepo) Get(ctx context.Context, id string) (*models.HTTPRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM http_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// RecentForMission returns the last N requests linked to the mission
// through its actions, newest first.
func (r *RequestRepo) RecentForMission(ctx context.Context, missionID string, count int) ([]*models.HTTPRequest, error) {
	if count <= 0 {
		count = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM http_requests
		WHERE id IN (
			SELECT ar.request_id
			FROM action_requests ar
			JOIN mission_actions a ON a.id = ar.action_id
			WHERE a.mission_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, missionID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to list mission requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// RecentCandidatesForMission returns the requests eligible for the
// record_action backward sweep: requests already linked to the mission's
// earlier actions, plus still-unlinked requests against targets associated
// with the mission. Newest first.
func (r *RequestRepo) RecentCandidatesForMission(ctx context.Context, missionID string, count int) ([]*models.HTTPRequest, error) {
	if count <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM http_requests r
		WHERE r.id IN (
			SELECT ar.request_id
			FROM action_requests ar
			JOIN mission_actions a ON a.id = ar.action_id
			WHERE a.mission_id = $1)
		OR (r.target_id IN (SELECT target_id FROM mission_targets WHERE mission_id = $1)
			AND NOT EXISTS (SELECT 1 FROM action_requests ar2 WHERE ar2.request_id = r.id))
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $2`, missionID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// CountForTarget returns how many requests hit the target.
func (r *RequestRepo) CountForTarget(ctx context.Context, targetID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM http_requests WHERE target_id = $1`, targetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count target requests: %w", err)
	}
	return count, nil
}

func scanRequest(row pgx.Row) (*models.HTTPRequest, error) {
	var req models.HTTPRequest
	var queryParams, reqHeaders, reqCookies, respHeaders []byte
	err := row.Scan(&req.ID, &req.TargetID, &req.Method, &req.URL, &req.Host, &req.Path,
		&queryParams, &reqHeaders, &reqCookies, &req.RequestBody, &req.RequestBodySize,
		&req.StatusCode, &respHeaders, &req.ResponseBody, &req.ResponseBodySize,
		&req.ElapsedMs, &req.Error, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(queryParams, &req.QueryParams); err != nil {
		return nil, fmt.Errorf("failed to decode query params: %w", err)
	}
	if err := unmarshalJSON(reqHeaders, &req.RequestHeaders); err != nil {
		return nil, fmt.Errorf("failed to decode request headers: %w", err)
	}
	if err := unmarshalJSON(reqCookies, &req.RequestCookies); err != nil {
		return nil, fmt.Errorf("failed to decode request cookies: %w", err)
	}
	if err := unmarshalJSON(respHeaders, &req.ResponseHeaders); err != nil {
		return nil, fmt.Errorf("failed to decode response headers: %w", err)
	}
	return &req, nil
}

func scanRequests(rows pgx.Rows) ([]*models.HTTPRequest, error) {
	var requests []*models.HTTPRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

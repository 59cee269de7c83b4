// Package reqlog is the logging and auto-attribution pipeline: every
// executed HTTP request is persisted, its target materialised from the URL,
// and the request linked to the active mission's latest action.
//
// The pipeline is strictly best-effort. Every step is wrapped individually;
// a failure is tagged with its step name and logged, and the remaining
// steps still run. The observed HTTP call is never affected.
package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/httpexec"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/repository"
)

// Pipeline persists executed requests. A nil store disables it entirely
// (the executor keeps working without logging).
type Pipeline struct {
	store    *repository.Store
	redactor *Redactor
	cfg      config.HTTPConfig
}

// NewPipeline creates the logging pipeline. store may be nil.
func NewPipeline(store *repository.Store, cfg config.HTTPConfig) *Pipeline {
	return &Pipeline{
		store:    store,
		redactor: NewRedactor(cfg.SensitiveHeaders),
		cfg:      cfg,
	}
}

// Record implements httpexec.Recorder. It never returns an error and never
// panics the caller; failures surface only in the log stream.
func (p *Pipeline) Record(ctx context.Context, req *httpexec.EffectiveRequest, env *httpexec.ResponseEnvelope) {
	if p.store == nil {
		slog.Debug("Request logging skipped: store disabled", "url", req.URL)
		return
	}

	// The tool call may be cancelled right after the transfer; logging
	// still completes under its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// Step 1: parse the final URL. On failure, attribution is skipped but
	// the request is still logged against the raw URL.
	finalURL := env.FinalURL
	if finalURL == "" {
		finalURL = req.URL
	}
	host, port, protocol, path, queryParams, parseErr := parseTarget(finalURL)
	if parseErr != nil {
		slog.Error("Request logging step failed", "step", "parse_url", "url", finalURL, "error", parseErr)
	}

	// Step 2: upsert the target.
	var target *models.Target
	if parseErr == nil {
		var err error
		target, _, err = p.store.Targets.Upsert(ctx, host, port, protocol, models.TargetDefaults{
			Status:    config.TargetStatusActive,
			RiskLevel: config.RiskLevelMedium,
		})
		if err != nil {
			target = nil
			slog.Error("Request logging step failed", "step", "upsert_target", "host", host, "error", err)
		}
	}

	// Step 3: truncate bodies at the configured limits.
	reqBody, reqSize := truncate(req.Body, p.cfg.MaxRequestBodyBytes)
	respBody, respSize := truncate(env.Body, p.cfg.MaxResponseBodyBytes)
	if env.BodySize > respSize {
		// The executor already dropped the tail on the wire; keep the
		// original transfer size.
		respSize = env.BodySize
	}

	// Step 4: redact sensitive headers in the stored copies.
	requestHeaders := p.redactor.Headers(req.Headers)
	responseHeaders := p.redactor.Headers(env.Headers)

	record := &models.HTTPRequest{
		Method:           req.Method,
		URL:              finalURL,
		Host:             host,
		Path:             path,
		QueryParams:      queryParams,
		RequestHeaders:   requestHeaders,
		RequestCookies:   req.Cookies,
		RequestBody:      string(reqBody),
		RequestBodySize:  reqSize,
		ResponseHeaders:  responseHeaders,
		ResponseBody:     string(respBody),
		ResponseBodySize: respSize,
		ElapsedMs:        env.ElapsedMs,
		CreatedAt:        time.Now().UTC(),
	}
	if target != nil {
		record.TargetID = &target.ID
	}
	if env.Error != "" {
		errStr := env.Error
		record.Error = &errStr
	} else {
		status := env.Status
		record.StatusCode = &status
	}

	// Step 5: insert the request row.
	inserted, err := p.store.Requests.Insert(ctx, record)
	if err != nil {
		slog.Error("Request logging step failed", "step", "insert_request", "url", finalURL, "error", err)
	}

	// Step 6: link to the active mission's latest action. The mission id
	// was already resolved (explicit override or connection context) by
	// the tool layer.
	if inserted != nil && req.MissionID != "" {
		if err := p.linkToLatestAction(ctx, req.MissionID, inserted.ID); err != nil {
			slog.Error("Request logging step failed", "step", "link_action",
				"mission_id", req.MissionID, "error", err)
		}
		// Touching a target under an active mission associates the two, so
		// mission views and the record_action sweep see the traffic.
		if target != nil {
			if err := p.store.Missions.AssociateTarget(ctx, req.MissionID, target.ID); err != nil {
				slog.Error("Request logging step failed", "step", "associate_target",
					"mission_id", req.MissionID, "error", err)
			}
		}
	}

	// Step 7: bump the target's last activity.
	if target != nil && inserted != nil {
		if err := p.store.Targets.BumpActivity(ctx, target.ID, inserted.CreatedAt); err != nil {
			slog.Error("Request logging step failed", "step", "bump_activity",
				"target_id", target.ID, "error", err)
		}
	}
}

func (p *Pipeline) linkToLatestAction(ctx context.Context, missionID, requestID string) error {
	latest, err := p.store.Actions.Latest(ctx, missionID)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}
	return p.store.Requests.LinkToAction(ctx, requestID, latest.ID)
}

// parseTarget splits a URL into the target triple plus path and query.
func parseTarget(rawURL string) (host string, port *int, protocol config.Protocol, path string, query map[string][]string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, "", "", nil, err
	}
	protocol = config.Protocol(strings.ToLower(u.Scheme))
	if !protocol.IsValid() {
		return "", nil, "", "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host = strings.ToLower(u.Hostname())
	if host == "" {
		return "", nil, "", "", nil, fmt.Errorf("url has no host: %s", rawURL)
	}
	if portStr := u.Port(); portStr != "" {
		n, perr := strconv.Atoi(portStr)
		if perr != nil {
			return "", nil, "", "", nil, fmt.Errorf("invalid port: %s", portStr)
		}
		port = &n
	}
	query = u.Query()
	if len(query) == 0 {
		query = nil
	}
	return host, port, protocol, u.Path, query, nil
}

// truncate bounds a stored body, preserving the original size.
func truncate(body []byte, limit int64) ([]byte, int64) {
	size := int64(len(body))
	if limit > 0 && size > limit {
		return body[:limit], size
	}
	return body, size
}

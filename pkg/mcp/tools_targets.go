package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/session"
)

func (g *Gateway) registerTargetTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name:        "create_target",
		Description: "Register a target host for testing. The (host, port, protocol) triple is unique; re-creating an existing triple returns the existing target unchanged.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"host":       strProp("Target hostname. Lowercased on store."),
			"port":       intProp("Port. Omit for the scheme default; scheme-default ports are normalised away."),
			"protocol":   strProp("http or https. Default https."),
			"title":      strProp("Human-readable title."),
			"status":     strProp("active, inactive, blocked or completed. Default active."),
			"risk_level": strProp("low, medium, high or critical. Default medium."),
			"notes":      strProp("Free-form notes, stored in the target metadata."),
		}, "host"),
	}, g.handleCreateTarget)

	g.register(server, &mcpsdk.Tool{
		Name:        "update_target_status",
		Description: "Update a target's status, risk level or notes.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"target_id":  strProp("Target id."),
			"status":     strProp("active, inactive, blocked or completed."),
			"risk_level": strProp("low, medium, high or critical."),
			"notes":      strProp("Free-form notes, merged into the target metadata."),
		}, "target_id"),
	}, g.handleUpdateTargetStatus)

	g.register(server, &mcpsdk.Tool{
		Name:        "get_target_summary",
		Description: "Fetch a target with its request count, last activity and an excerpt of the current context.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"target_id": strProp("Target id."),
		}, "target_id"),
	}, g.handleGetTargetSummary)

	g.register(server, &mcpsdk.Tool{
		Name:        "search_targets",
		Description: "List targets filtered by substring, status, risk level and protocol, most recently active first.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"query":      strProp("Case-insensitive substring matched against host and title."),
			"status":     strProp("active, inactive, blocked or completed."),
			"risk_level": strProp("low, medium, high or critical."),
			"protocol":   strProp("http or https."),
			"limit":      intProp("Maximum results. Default 50."),
		}),
	}, g.handleSearchTargets)
}

// targetEnums validates the shared status/risk/protocol parameters.
func targetEnums(c *coercer) (config.TargetStatus, config.RiskLevel, config.Protocol) {
	status := config.TargetStatus(c.str("status", ""))
	if status != "" && !status.IsValid() {
		c.addError("status", "active, inactive, blocked or completed", c.args["status"])
	}
	risk := config.RiskLevel(c.str("risk_level", ""))
	if risk != "" && !risk.IsValid() {
		c.addError("risk_level", "low, medium, high or critical", c.args["risk_level"])
	}
	protocol := config.Protocol(c.str("protocol", ""))
	if protocol != "" && !protocol.IsValid() {
		c.addError("protocol", "http or https", c.args["protocol"])
	}
	return status, risk, protocol
}

func (g *Gateway) handleCreateTarget(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	host := c.requiredStr("host")
	title := c.str("title", "")
	notes := c.str("notes", "")
	status, risk, protocol := targetEnums(c)
	var port *int
	if _, ok := args["port"]; ok {
		before := len(c.errs)
		p := c.integer("port", 0)
		if len(c.errs) > before {
			// integer() already reported the field.
		} else if p < 1 || p > 65535 {
			c.addError("port", "integer in 1..65535", args["port"])
		} else {
			port = &p
		}
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}
	if protocol == "" {
		protocol = config.ProtocolHTTPS
	}

	defaults := models.TargetDefaults{Title: title, Status: status, RiskLevel: risk}
	if notes != "" {
		defaults.Metadata = map[string]string{"notes": notes}
	}

	target, created, err := g.store.Targets.Upsert(ctx, host, port, protocol, defaults)
	if err != nil {
		return nil, "", mapError(err)
	}

	return map[string]any{"target": target, "created": created}, "", nil
}

func (g *Gateway) handleUpdateTargetStatus(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	targetID := c.requiredStr("target_id")
	notes := c.str("notes", "")
	status, risk, _ := targetEnums(c)
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	update := models.TargetUpdate{}
	if status != "" {
		update.Status = &status
	}
	if risk != "" {
		update.RiskLevel = &risk
	}
	if notes != "" {
		update.Metadata = map[string]string{"notes": notes}
	}
	if update.Status == nil && update.RiskLevel == nil && update.Metadata == nil {
		return nil, "", validationError([]FieldError{
			{Field: "status", Expected: "at least one of status, risk_level or notes"},
		})
	}

	target, err := g.store.Targets.UpdateFields(ctx, targetID, update)
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"target": target}, "", nil
}

func (g *Gateway) handleGetTargetSummary(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	targetID := c.requiredStr("target_id")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	summary, err := g.targetSummary(ctx, targetID)
	if err != nil {
		return nil, "", mapError(err)
	}
	return summary, "", nil
}

// targetSummary assembles the tool-facing view of one target.
func (g *Gateway) targetSummary(ctx context.Context, targetID string) (*models.TargetSummary, error) {
	target, err := g.store.Targets.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	count, err := g.store.Requests.CountForTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	summary := &models.TargetSummary{
		Target:       target,
		RequestCount: count,
		LastActivity: target.LastActivity,
	}
	if current, err := g.store.Contexts.Current(ctx, targetID); err == nil {
		summary.ContextExcerpt = excerpt(current.AgentContext, current.UserContext)
	}
	return summary, nil
}

// excerpt returns the first non-empty context field, clipped to 500 bytes.
func excerpt(fields ...string) string {
	for _, f := range fields {
		if f == "" {
			continue
		}
		if len(f) > 500 {
			return f[:500] + "…"
		}
		return f
	}
	return ""
}

func (g *Gateway) handleSearchTargets(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	query := c.str("query", "")
	limit := c.integer("limit", 50)
	status, risk, protocol := targetEnums(c)
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	targets, err := g.store.Targets.Search(ctx, models.TargetSearchFilters{
		Query:     query,
		Status:    status,
		RiskLevel: risk,
		Protocol:  protocol,
		Limit:     limit,
	})
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"targets": targets, "count": len(targets)}, "", nil
}

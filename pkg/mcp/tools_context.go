package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/repository"
	"github.com/kwkeefer/hiro/pkg/session"
)

func (g *Gateway) registerContextTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name:        "get_target_context",
		Description: "Read a target's context notes: the current version, a specific version, and optionally the version history.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"target_id":       strProp("Target id."),
			"version":         intProp("Specific version to fetch instead of the current one."),
			"include_history": boolProp("Also return the version history (newest first). Default false."),
		}, "target_id"),
	}, g.handleGetTargetContext)

	g.register(server, &mcpsdk.Tool{
		Name: "update_target_context",
		Description: "Append a new context version for a target. With append_mode (default) the " +
			"provided fields are concatenated onto the previous version; without it they replace " +
			"the previous fields. Returns conflict when a concurrent update wins; re-read and retry.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"target_id":      strProp("Target id."),
			"user_context":   strProp("Operator-authored notes. At least one of user_context/agent_context is required."),
			"agent_context":  strProp("Agent-authored notes. At least one of user_context/agent_context is required."),
			"change_summary": strProp("One-line description of what changed."),
			"append_mode":    boolProp("Concatenate onto the previous version instead of replacing. Default true."),
		}, "target_id", "change_summary"),
	}, g.handleUpdateTargetContext)
}

func (g *Gateway) handleGetTargetContext(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	targetID := c.requiredStr("target_id")
	version := c.integer("version", 0)
	includeHistory := c.boolean("include_history", false)
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	// The target must exist even when it has no context yet.
	if _, err := g.store.Targets.Get(ctx, targetID); err != nil {
		return nil, "", mapError(err)
	}

	var current *models.TargetContext
	var err error
	if version > 0 {
		current, err = g.store.Contexts.GetVersion(ctx, targetID, version)
		if err != nil {
			return nil, "", mapError(err)
		}
	} else {
		current, err = g.store.Contexts.Current(ctx, targetID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, "", mapError(err)
		}
	}

	result := map[string]any{"current": current}
	if includeHistory {
		history, err := g.store.Contexts.History(ctx, targetID, 20)
		if err != nil {
			return nil, "", mapError(err)
		}
		result["history"] = history
	}
	return result, "", nil
}

func (g *Gateway) handleUpdateTargetContext(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	targetID := c.requiredStr("target_id")
	userContext := c.str("user_context", "")
	agentContext := c.str("agent_context", "")
	changeSummary := c.requiredStr("change_summary")
	appendMode := c.boolean("append_mode", true)
	if userContext == "" && agentContext == "" {
		c.addError("agent_context", "either user_context or agent_context must be provided", nil)
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	prev, err := g.store.Contexts.Current(ctx, targetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, "", mapError(err)
	}

	req := models.AppendContextRequest{
		TargetID:      targetID,
		UserContext:   userContext,
		AgentContext:  agentContext,
		CreatedBy:     config.ContextAuthorAgent,
		ChangeSummary: changeSummary,
		ChangeType:    "update",
	}

	expectedVersion := 0
	if prev != nil {
		expectedVersion = prev.Version
		if appendMode {
			req.UserContext = concatContext(prev.UserContext, userContext)
			req.AgentContext = concatContext(prev.AgentContext, agentContext)
		} else {
			// Replace mode: absent fields replicate the previous version.
			if userContext == "" {
				req.UserContext = prev.UserContext
			}
			if agentContext == "" {
				req.AgentContext = prev.AgentContext
			}
		}
	} else {
		req.ChangeType = "create"
	}

	newVersion, err := g.store.Contexts.Append(ctx, req, expectedVersion)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, "", conflictError("a concurrent context update won the race; re-read the current version and retry")
		}
		return nil, "", mapError(err)
	}
	return map[string]any{"context": newVersion}, "", nil
}

// concatContext appends an addition onto the previous field text, keeping
// the previous text when nothing new is provided.
func concatContext(previous, addition string) string {
	if addition == "" {
		return previous
	}
	if previous == "" {
		return addition
	}
	return strings.TrimRight(previous, "\n") + "\n\n" + addition
}

package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/session"
)

func (g *Gateway) registerSearchTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name:        "find_similar_techniques",
		Description: "Find past actions whose technique is semantically similar to the query, scored by cosine similarity.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"query":          strProp("What you are about to try."),
			"k":              intProp("Maximum results. Default 10."),
			"min_similarity": numProp("Score floor in [0,1]. Default 0.5."),
			"mission_id":     strProp("Restrict to one mission."),
		}, "query"),
	}, g.handleFindSimilarTechniques)

	g.register(server, &mcpsdk.Tool{
		Name:        "search_techniques",
		Description: "List past actions by exact filters: outcome, technique substring, mission goal substring, aggregate success rate.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"success_only":        boolProp("Only actions that succeeded."),
			"mission_type":        strProp("Case-insensitive substring matched against the owning mission's goal."),
			"min_success_rate":    numProp("Exclude techniques whose overall success rate is below this [0,1]."),
			"technique_substring": strProp("Case-insensitive substring matched against the technique label."),
			"limit":               intProp("Maximum results. Default 50."),
		}),
	}, g.handleSearchTechniques)

	g.register(server, &mcpsdk.Tool{
		Name:        "get_technique_stats",
		Description: "Aggregate statistics for one technique label: usage count, success rate, recent failures, last use.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"technique": strProp("Exact technique label."),
		}, "technique"),
	}, g.handleGetTechniqueStats)
}

func (g *Gateway) handleFindSimilarTechniques(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}
	if err := g.requireEmbedder(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	query := c.requiredStr("query")
	k := c.integer("k", 10)
	minSimilarity := c.float("min_similarity", 0.5)
	missionID := c.str("mission_id", "")
	if minSimilarity < 0 || minSimilarity > 1 {
		c.addError("min_similarity", "number in [0,1]", args["min_similarity"])
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, "", internalError(err)
	}

	var mission *string
	if missionID != "" {
		mission = &missionID
	}
	scored, err := g.store.Actions.FindSimilar(ctx, vec, mission, k, minSimilarity)
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"matches": scored, "count": len(scored)}, "", nil
}

func (g *Gateway) handleSearchTechniques(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	filters := models.ActionFilters{
		SuccessOnly:         c.boolean("success_only", false),
		MissionGoalContains: c.str("mission_type", ""),
		MinSuccessRate:      c.float("min_success_rate", 0),
		TechniqueContains:   c.str("technique_substring", ""),
		Limit:               c.integer("limit", 50),
	}
	if filters.MinSuccessRate < 0 || filters.MinSuccessRate > 1 {
		c.addError("min_success_rate", "number in [0,1]", args["min_success_rate"])
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	actions, err := g.store.Actions.Search(ctx, filters)
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"actions": actions, "count": len(actions)}, "", nil
}

func (g *Gateway) handleGetTechniqueStats(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	technique := c.requiredStr("technique")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	stats, err := g.store.Actions.Stats(ctx, technique)
	if err != nil {
		return nil, "", mapError(err)
	}
	return stats, "", nil
}

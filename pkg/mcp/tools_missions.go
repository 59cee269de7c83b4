package mcp

import (
	"context"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/session"
)

func (g *Gateway) registerMissionTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name:        "create_mission",
		Description: "Create a testing mission with a goal, optional hypothesis and host scope.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"name":       strProp("Short mission name."),
			"goal":       strProp("What the mission tries to establish. Embedded for similarity search."),
			"hypothesis": strProp("Optional working hypothesis. Embedded for similarity search."),
			"scope":      mapProp(`Host scope: {"in": ["*.example.com"], "out": ["prod.example.com"]}.`),
		}, "name", "goal"),
	}, g.handleCreateMission)

	g.register(server, &mcpsdk.Tool{
		Name: "update_mission",
		Description: "Update a mission's fields or move it through its lifecycle. " +
			"completed and failed are terminal; paused missions can resume.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"mission_id": strProp("Mission id."),
			"name":       strProp("New name."),
			"goal":       strProp("New goal (re-embedded)."),
			"hypothesis": strProp("New hypothesis (re-embedded)."),
			"scope":      mapProp("New host scope."),
			"status":     strProp("active, paused, completed or failed."),
		}, "mission_id"),
	}, g.handleUpdateMission)

	g.register(server, &mcpsdk.Tool{
		Name:        "list_missions",
		Description: "List missions, newest first, optionally filtered by status.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"status": strProp("active, paused, completed or failed."),
			"limit":  intProp("Maximum results. Default 50."),
		}),
	}, g.handleListMissions)

	g.register(server, &mcpsdk.Tool{
		Name: "set_mission_context",
		Description: "Activate a mission (and optionally a cookie profile) for this connection. " +
			"Subsequent HTTP requests are attributed to the mission's latest action until cleared.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"mission_id":     strProp("Mission to activate."),
			"cookie_profile": strProp("Cookie profile applied to subsequent requests."),
		}, "mission_id"),
	}, g.handleSetMissionContext)

	g.register(server, &mcpsdk.Tool{
		Name:        "clear_mission_context",
		Description: "Deactivate the connection's mission and cookie profile.",
		InputSchema: obj(map[string]*jsonschema.Schema{}),
	}, g.handleClearMissionContext)

	g.register(server, &mcpsdk.Tool{
		Name:        "get_mission_context",
		Description: "Show the active mission with its recent actions; with focus text, also similar past actions.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"focus": strProp("Optional text; returns past actions similar to it."),
		}),
	}, g.handleGetMissionContext)

	g.register(server, &mcpsdk.Tool{
		Name: "record_action",
		Description: "Record one technique attempt against the active (or given) mission. " +
			"Recent requests for the mission are linked to the new action, and later " +
			"requests attach to it automatically until the next action is recorded.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"technique":            strProp("Short label for the approach tried."),
			"result":               strProp("What happened."),
			"success":              boolProp(`Whether it worked; also accepts "unknown".`),
			"hypothesis":           strProp("What the attempt was meant to establish."),
			"learning":             strProp("Durable takeaway, if any."),
			"mission_id":           strProp("Override the active mission."),
			"link_recent_requests": intProp("How many recent mission requests to link to this action. Default 3."),
		}, "technique", "result", "success"),
	}, g.handleRecordAction)
}

func (g *Gateway) handleCreateMission(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	name := c.requiredStr("name")
	goal := c.requiredStr("goal")
	hypothesis := c.str("hypothesis", "")
	scopeIn, scopeOut := c.scope("scope")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	req := models.CreateMissionRequest{
		Name:          name,
		Goal:          goal,
		Scope:         models.Scope{In: scopeIn, Out: scopeOut},
		GoalEmbedding: g.embedOrNil(ctx, goal),
	}
	if hypothesis != "" {
		req.Hypothesis = &hypothesis
		req.HypothesisEmbedding = g.embedOrNil(ctx, hypothesis)
	}

	mission, err := g.store.Missions.Create(ctx, req)
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"mission_id": mission.ID, "mission": mission}, "", nil
}

func (g *Gateway) handleUpdateMission(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	missionID := c.requiredStr("mission_id")
	status := config.MissionStatus(c.str("status", ""))
	if status != "" && !status.IsValid() {
		c.addError("status", "active, paused, completed or failed", args["status"])
	}

	req := models.UpdateMissionRequest{}
	if _, ok := args["name"]; ok {
		name := c.requiredStr("name")
		req.Name = &name
	}
	if _, ok := args["goal"]; ok {
		goal := c.requiredStr("goal")
		req.Goal = &goal
		req.GoalEmbedding = g.embedOrNil(ctx, goal)
	}
	if _, ok := args["hypothesis"]; ok {
		hypothesis := c.str("hypothesis", "")
		req.Hypothesis = &hypothesis
		req.HypothesisEmbedding = g.embedOrNil(ctx, hypothesis)
	}
	if _, ok := args["scope"]; ok {
		in, out := c.scope("scope")
		req.Scope = &models.Scope{In: in, Out: out}
	}
	if status != "" {
		req.Status = &status
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	mission, err := g.store.Missions.Update(ctx, missionID, req)
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"mission": mission}, "", nil
}

func (g *Gateway) handleListMissions(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	status := config.MissionStatus(c.str("status", ""))
	if status != "" && !status.IsValid() {
		c.addError("status", "active, paused, completed or failed", args["status"])
	}
	limit := c.integer("limit", 50)
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	missions, err := g.store.Missions.List(ctx, models.MissionFilters{Status: status, Limit: limit})
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"missions": missions, "count": len(missions)}, "", nil
}

func (g *Gateway) handleSetMissionContext(ctx context.Context, mgr *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	missionID := c.requiredStr("mission_id")
	cookieProfile := c.str("cookie_profile", "")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	name, err := mgr.Set(ctx, missionID, cookieProfile)
	if err != nil {
		return nil, "", mapError(err)
	}

	snap, _, _ := mgr.Get(ctx)
	return map[string]any{
		"active_mission_id":     snap.MissionID,
		"active_mission_name":   name,
		"active_cookie_profile": snap.CookieProfile,
	}, g.missionNote(ctx, missionID), nil
}

func (g *Gateway) handleClearMissionContext(_ context.Context, mgr *session.ContextManager, _ map[string]any) (any, string, *ToolError) {
	mgr.Clear()
	return map[string]any{"cleared": true}, "", nil
}

func (g *Gateway) handleGetMissionContext(ctx context.Context, mgr *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	c := newCoercer(args)
	focus := c.str("focus", "")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	snap, name, err := mgr.Get(ctx)
	if err != nil {
		return nil, "", mapError(err)
	}

	result := map[string]any{
		"active_mission_id":     snap.MissionID,
		"active_mission_name":   name,
		"active_cookie_profile": snap.CookieProfile,
	}
	if snap.MissionID == "" || g.store == nil {
		return result, "", nil
	}

	mission, err := g.store.Missions.Get(ctx, snap.MissionID)
	if err != nil {
		return nil, "", mapError(err)
	}
	result["mission"] = mission

	recent, err := g.store.Actions.ListRecent(ctx, snap.MissionID, 10)
	if err != nil {
		return nil, "", mapError(err)
	}
	result["recent_actions"] = recent

	if focus != "" {
		if err := g.requireEmbedder(); err != nil {
			return nil, "", err
		}
		vec, embErr := g.embedder.Embed(ctx, focus)
		if embErr != nil {
			return nil, "", internalError(embErr)
		}
		similar, simErr := g.store.Actions.FindSimilar(ctx, vec, &snap.MissionID, 5, 0.3)
		if simErr != nil {
			return nil, "", mapError(simErr)
		}
		result["similar_actions"] = similar
	}

	return result, g.missionNote(ctx, snap.MissionID), nil
}

func (g *Gateway) handleRecordAction(ctx context.Context, mgr *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	technique := c.requiredStr("technique")
	result := c.requiredStr("result")
	success := c.outcome("success", config.ActionOutcomeUnknown)
	hypothesis := c.str("hypothesis", "")
	learning := c.str("learning", "")
	missionID := c.str("mission_id", "")
	linkRecent := c.integer("link_recent_requests", 3)
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	missionID = mgr.ResolveMission(missionID)
	if missionID == "" {
		return nil, "", validationError([]FieldError{{
			Field:    "mission_id",
			Expected: "a mission id, or an active mission set via set_mission_context",
		}})
	}
	if _, err := g.store.Missions.Get(ctx, missionID); err != nil {
		return nil, "", mapError(err)
	}

	req := models.RecordActionRequest{
		MissionID:       missionID,
		Technique:       technique,
		Result:          result,
		Success:         success,
		ActionEmbedding: g.embedOrNil(ctx, technique),
		ResultEmbedding: g.embedOrNil(ctx, result),
	}
	if hypothesis != "" {
		req.Hypothesis = &hypothesis
	}
	if learning != "" {
		req.Learning = &learning
	}

	action, err := g.store.Actions.Append(ctx, req)
	if err != nil {
		return nil, "", mapError(err)
	}

	// Best-effort backward sweep: attach the mission's most recent requests
	// to the new action, whatever earlier action they were linked to.
	linked := 0
	if linkRecent > 0 {
		candidates, sweepErr := g.store.Requests.RecentCandidatesForMission(ctx, missionID, linkRecent)
		if sweepErr != nil {
			slog.Warn("Recent-request sweep failed", "mission_id", missionID, "error", sweepErr)
		}
		for _, candidate := range candidates {
			if linkErr := g.store.Requests.LinkToAction(ctx, candidate.ID, action.ID); linkErr != nil {
				slog.Warn("Request link failed", "request_id", candidate.ID, "error", linkErr)
				continue
			}
			linked++
		}
	}

	return map[string]any{
		"action_id":       action.ID,
		"action":          action,
		"linked_requests": linked,
	}, g.missionNote(ctx, missionID), nil
}

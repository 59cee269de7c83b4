package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/embeddings"
	"github.com/kwkeefer/hiro/pkg/httpexec"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/prompts"
	"github.com/kwkeefer/hiro/pkg/reqlog"
	"github.com/kwkeefer/hiro/pkg/repository"
	"github.com/kwkeefer/hiro/pkg/session"
	"github.com/kwkeefer/hiro/test/util"
)

// newTestGateway wires a gateway over a fresh test schema with the hash
// embedder, plus a connection-scoped context manager.
func newTestGateway(t *testing.T) (*Gateway, *session.ContextManager) {
	t.Helper()
	store, _ := util.NewTestStore(t)
	return newGatewayWith(t, store, embeddings.NewHashEmbedder(384))
}

func newGatewayWith(t *testing.T, store *repository.Store, embedder embeddings.Embedder) (*Gateway, *session.ContextManager) {
	t.Helper()
	cfg := config.Defaults()
	pipeline := reqlog.NewPipeline(store, cfg.HTTP)
	executor := httpexec.NewExecutor(cfg.HTTP, nil, pipeline)
	g := NewGateway(&cfg, store, embedder, nil, executor, prompts.NewLibrary(""))
	return g, g.newContextManager()
}

func requireOK(t *testing.T, result any, toolErr *ToolError) map[string]any {
	t.Helper()
	require.Nil(t, toolErr, "unexpected tool error: %+v", toolErr)
	m, ok := result.(map[string]any)
	require.True(t, ok, "result must be a map, got %T", result)
	return m
}

func TestStoreUnavailableMode(t *testing.T) {
	cfg := config.Defaults()
	executor := httpexec.NewExecutor(cfg.HTTP, nil, reqlog.NewPipeline(nil, cfg.HTTP))
	g := NewGateway(&cfg, nil, nil, nil, executor, prompts.NewLibrary(""))
	mgr := g.newContextManager()
	ctx := context.Background()

	for name, fn := range map[string]toolFunc{
		"create_target":    g.handleCreateTarget,
		"search_targets":   g.handleSearchTargets,
		"create_mission":   g.handleCreateMission,
		"record_action":    g.handleRecordAction,
		"add_to_library":   g.handleAddToLibrary,
		"get_library_stats": g.handleGetLibraryStats,
	} {
		_, _, toolErr := fn(ctx, mgr, map[string]any{})
		require.NotNil(t, toolErr, "tool %s", name)
		assert.Equal(t, KindStoreUnavailable, toolErr.Kind, "tool %s", name)
	}

	t.Run("http_request still works", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		result, note, toolErr := g.handleHTTPRequest(ctx, mgr, map[string]any{"url": server.URL})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, 200, m["status"])
		assert.Empty(t, note)
	})
}

func TestHandleCreateTarget(t *testing.T) {
	g, mgr := newTestGateway(t)
	ctx := context.Background()

	t.Run("creates with lenient port string", func(t *testing.T) {
		result, _, toolErr := g.handleCreateTarget(ctx, mgr, map[string]any{
			"host":       "Example.COM",
			"port":       "8443",
			"protocol":   "https",
			"risk_level": "high",
			"notes":      "staging box",
		})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, true, m["created"])
	})

	t.Run("second create returns existing", func(t *testing.T) {
		result, _, toolErr := g.handleCreateTarget(ctx, mgr, map[string]any{
			"host": "example.com", "port": 8443,
		})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, false, m["created"])
	})

	t.Run("validation collects every bad field", func(t *testing.T) {
		_, _, toolErr := g.handleCreateTarget(ctx, mgr, map[string]any{
			"host":       "",
			"port":       "eighty",
			"protocol":   "gopher",
			"status":     "dormant",
			"risk_level": "spicy",
		})
		require.NotNil(t, toolErr)
		assert.Equal(t, KindValidationFailed, toolErr.Kind)
		assert.Len(t, toolErr.Fields, 5)
	})
}

func TestHandleUpdateTargetContext(t *testing.T) {
	g, mgr := newTestGateway(t)
	ctx := context.Background()

	created, _, toolErr := g.handleCreateTarget(ctx, mgr, map[string]any{"host": "ctx.test"})
	m := requireOK(t, created, toolErr)
	targetID := m["target"].(*models.Target).ID

	t.Run("first update creates version 1", func(t *testing.T) {
		result, _, toolErr := g.handleUpdateTargetContext(ctx, mgr, map[string]any{
			"target_id":      targetID,
			"agent_context":  "nginx 1.25 behind cloudflare",
			"change_summary": "initial fingerprint",
		})
		m := requireOK(t, result, toolErr)
		tc := m["context"].(*models.TargetContext)
		assert.Equal(t, 1, tc.Version)
		assert.Nil(t, tc.ParentVersionID)
	})

	t.Run("append mode concatenates", func(t *testing.T) {
		result, _, toolErr := g.handleUpdateTargetContext(ctx, mgr, map[string]any{
			"target_id":      targetID,
			"agent_context":  "rate limit kicks in at 30 rps",
			"change_summary": "rate limit notes",
		})
		m := requireOK(t, result, toolErr)
		tc := m["context"].(*models.TargetContext)
		assert.Equal(t, 2, tc.Version)
		assert.Contains(t, tc.AgentContext, "nginx 1.25 behind cloudflare")
		assert.Contains(t, tc.AgentContext, "rate limit kicks in at 30 rps")

		current, err := g.store.Contexts.Current(ctx, targetID)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(current.AgentContext, "rate limit kicks in at 30 rps"))
	})

	t.Run("replace mode keeps absent fields from the previous version", func(t *testing.T) {
		result, _, toolErr := g.handleUpdateTargetContext(ctx, mgr, map[string]any{
			"target_id":      targetID,
			"user_context":   "scope cleared with client",
			"change_summary": "operator note",
			"append_mode":    "false",
		})
		m := requireOK(t, result, toolErr)
		tc := m["context"].(*models.TargetContext)
		assert.Equal(t, 3, tc.Version)
		assert.Equal(t, "scope cleared with client", tc.UserContext)
		assert.Contains(t, tc.AgentContext, "nginx 1.25", "absent field replicates previous version")
	})

	t.Run("requires some content", func(t *testing.T) {
		_, _, toolErr := g.handleUpdateTargetContext(ctx, mgr, map[string]any{
			"target_id":      targetID,
			"change_summary": "nothing",
		})
		require.NotNil(t, toolErr)
		assert.Equal(t, KindValidationFailed, toolErr.Kind)
	})

	t.Run("get returns current and history", func(t *testing.T) {
		result, _, toolErr := g.handleGetTargetContext(ctx, mgr, map[string]any{
			"target_id":       targetID,
			"include_history": "yes",
		})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, 3, m["current"].(*models.TargetContext).Version)
		assert.Len(t, m["history"].([]*models.TargetContext), 3)
	})
}

func TestMissionToolsAndLinkage(t *testing.T) {
	g, mgr := newTestGateway(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	// create_mission → set_mission_context → record_action → two requests:
	// both requests must land on the action via the logging pipeline.
	created, _, toolErr := g.handleCreateMission(ctx, mgr, map[string]any{
		"name": "M", "goal": "probe auth",
		"scope": `{"in":["*.test"]}`,
	})
	m := requireOK(t, created, toolErr)
	missionID := m["mission_id"].(string)

	confirm, note, toolErr := g.handleSetMissionContext(ctx, mgr, map[string]any{"mission_id": missionID})
	m = requireOK(t, confirm, toolErr)
	assert.Equal(t, "M", m["active_mission_name"])
	assert.Contains(t, note, missionID)

	recorded, note, toolErr := g.handleRecordAction(ctx, mgr, map[string]any{
		"technique": "baseline GET",
		"result":    "200 OK",
		"success":   "true",
	})
	m = requireOK(t, recorded, toolErr)
	actionID := m["action_id"].(string)
	assert.Contains(t, note, "Logged to mission")

	for i := 0; i < 2; i++ {
		result, note, toolErr := g.handleHTTPRequest(ctx, mgr, map[string]any{"url": server.URL + "/probe"})
		rm := requireOK(t, result, toolErr)
		assert.Equal(t, 200, rm["status"])
		assert.Contains(t, note, "Logged to mission")
	}

	recent, err := g.store.Requests.RecentForMission(ctx, missionID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	latest, err := g.store.Actions.Latest(ctx, missionID)
	require.NoError(t, err)
	assert.Equal(t, actionID, latest.ID)

	t.Run("mission context view", func(t *testing.T) {
		result, _, toolErr := g.handleGetMissionContext(ctx, mgr, map[string]any{})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, missionID, m["active_mission_id"])
		assert.Len(t, m["recent_actions"].([]*models.MissionAction), 1)
	})

	t.Run("record_action without an active mission", func(t *testing.T) {
		fresh := g.newContextManager()
		_, _, toolErr := g.handleRecordAction(ctx, fresh, map[string]any{
			"technique": "t", "result": "r", "success": true,
		})
		require.NotNil(t, toolErr)
		assert.Equal(t, KindValidationFailed, toolErr.Kind)
	})

	t.Run("clear_mission_context", func(t *testing.T) {
		_, _, toolErr := g.handleClearMissionContext(ctx, mgr, map[string]any{})
		require.Nil(t, toolErr)
		result, _, toolErr := g.handleGetMissionContext(ctx, mgr, map[string]any{})
		m := requireOK(t, result, toolErr)
		assert.Equal(t, "", m["active_mission_id"])
	})
}

func TestLibraryTools(t *testing.T) {
	g, mgr := newTestGateway(t)
	ctx := context.Background()

	content := "Unicode SQLi via %u2019: smart quotes survive naive escaping and close string literals"

	added, _, toolErr := g.handleAddToLibrary(ctx, mgr, map[string]any{
		"title":    "Unicode SQLi",
		"content":  content,
		"category": "sqli",
		"tags":     "unicode, sqli",
	})
	m := requireOK(t, added, toolErr)
	entryID := m["entry_id"].(string)

	t.Run("search round-trips with near-perfect score", func(t *testing.T) {
		result, _, toolErr := g.handleSearchLibrary(ctx, mgr, map[string]any{"query": content})
		m := requireOK(t, result, toolErr)
		matches := m["matches"].([]*models.ScoredEntry)
		require.NotEmpty(t, matches)
		assert.Equal(t, entryID, matches[0].Entry.ID)
		assert.GreaterOrEqual(t, matches[0].Score, 0.99)
	})

	t.Run("near-duplicate content is rejected with the conflicting id", func(t *testing.T) {
		result, _, toolErr := g.handleAddToLibrary(ctx, mgr, map[string]any{
			"title":    "Unicode SQLi again",
			"content":  content + " (same)",
			"category": "sqli",
		})
		require.NotNil(t, toolErr)
		assert.Equal(t, KindDuplicate, toolErr.Kind)
		assert.Contains(t, toolErr.Message, entryID)
		m := result.(map[string]any)
		assert.Equal(t, entryID, m["existing_entry"].(*models.LibraryEntry).ID)

		stats, _, statErr := g.handleGetLibraryStats(ctx, mgr, map[string]any{})
		require.Nil(t, statErr)
		assert.Equal(t, 1, stats.(*models.LibraryStats).EntryCount)
	})

	t.Run("distinct content is accepted", func(t *testing.T) {
		result, _, toolErr := g.handleAddToLibrary(ctx, mgr, map[string]any{
			"title":    "DNS rebinding",
			"content":  "DNS rebinding against internal dashboards with short TTL records",
			"category": "ssrf",
		})
		requireOK(t, result, toolErr)
	})
}

func TestSimilaritySearchDegradation(t *testing.T) {
	store, _ := util.NewTestStore(t)
	g, mgr := newGatewayWith(t, store, nil)
	ctx := context.Background()

	for name, fn := range map[string]toolFunc{
		"find_similar_techniques": g.handleFindSimilarTechniques,
		"search_library":          g.handleSearchLibrary,
	} {
		_, _, toolErr := fn(ctx, mgr, map[string]any{"query": "anything"})
		require.NotNil(t, toolErr, "tool %s", name)
		assert.Equal(t, KindValidationFailed, toolErr.Kind, "tool %s", name)
		assert.Contains(t, toolErr.Message, "embeddings_unavailable", "tool %s", name)
	}
}

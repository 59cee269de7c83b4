package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/embeddings"
	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/repository"
	"github.com/kwkeefer/hiro/test/util"
)

func intPtr(v int) *int { return &v }

func TestTargetRepo_Upsert(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()

	t.Run("creates then returns existing row unchanged", func(t *testing.T) {
		first, created, err := store.Targets.Upsert(ctx, "API.Example.com", nil, config.ProtocolHTTPS,
			models.TargetDefaults{Title: "API"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "api.example.com", first.Host)
		assert.Equal(t, config.TargetStatusActive, first.Status)
		assert.Equal(t, config.RiskLevelMedium, first.RiskLevel)

		second, created, err := store.Targets.Upsert(ctx, "api.example.com", nil, config.ProtocolHTTPS,
			models.TargetDefaults{Title: "different title ignored", RiskLevel: config.RiskLevelCritical})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "API", second.Title)
		assert.Equal(t, config.RiskLevelMedium, second.RiskLevel)
	})

	t.Run("scheme-default port normalises to absent", func(t *testing.T) {
		withPort, created, err := store.Targets.Upsert(ctx, "a.test", intPtr(443), config.ProtocolHTTPS, models.TargetDefaults{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, withPort.Port)

		without, created, err := store.Targets.Upsert(ctx, "a.test", nil, config.ProtocolHTTPS, models.TargetDefaults{})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, withPort.ID, without.ID)
	})

	t.Run("explicit port is a distinct triple", func(t *testing.T) {
		base, _, err := store.Targets.Upsert(ctx, "b.test", nil, config.ProtocolHTTPS, models.TargetDefaults{})
		require.NoError(t, err)
		alt, created, err := store.Targets.Upsert(ctx, "b.test", intPtr(8443), config.ProtocolHTTPS, models.TargetDefaults{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, base.ID, alt.ID)
		require.NotNil(t, alt.Port)
		assert.Equal(t, 8443, *alt.Port)
		assert.Equal(t, "https://b.test:8443", alt.BaseURL())
	})
}

func TestTargetRepo_UpdateAndSearch(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()

	target, _, err := store.Targets.Upsert(ctx, "shop.example.com", nil, config.ProtocolHTTPS,
		models.TargetDefaults{Title: "Webshop"})
	require.NoError(t, err)

	t.Run("updates fields and merges metadata", func(t *testing.T) {
		blocked := config.TargetStatusBlocked
		updated, err := store.Targets.UpdateFields(ctx, target.ID, models.TargetUpdate{
			Status:   &blocked,
			Metadata: map[string]string{"notes": "WAF in front"},
		})
		require.NoError(t, err)
		assert.Equal(t, config.TargetStatusBlocked, updated.Status)
		assert.Equal(t, "WAF in front", updated.Metadata["notes"])

		again, err := store.Targets.UpdateFields(ctx, target.ID, models.TargetUpdate{
			Metadata: map[string]string{"stack": "nginx"},
		})
		require.NoError(t, err)
		assert.Equal(t, "WAF in front", again.Metadata["notes"], "metadata merges, not replaces")
		assert.Equal(t, "nginx", again.Metadata["stack"])
	})

	t.Run("search matches host and title substrings", func(t *testing.T) {
		byHost, err := store.Targets.Search(ctx, models.TargetSearchFilters{Query: "SHOP"})
		require.NoError(t, err)
		require.Len(t, byHost, 1)

		byTitle, err := store.Targets.Search(ctx, models.TargetSearchFilters{Query: "webs"})
		require.NoError(t, err)
		require.Len(t, byTitle, 1)

		none, err := store.Targets.Search(ctx, models.TargetSearchFilters{Query: "zzz"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("unknown target yields ErrNotFound", func(t *testing.T) {
		_, err := store.Targets.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestContextRepo_AppendChain(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()

	target, _, err := store.Targets.Upsert(ctx, "chain.test", nil, config.ProtocolHTTPS, models.TargetDefaults{})
	require.NoError(t, err)

	appendVersion := func(expected int, text string) (*models.TargetContext, error) {
		return store.Contexts.Append(ctx, models.AppendContextRequest{
			TargetID:     target.ID,
			AgentContext: text,
			CreatedBy:    config.ContextAuthorAgent,
		}, expected)
	}

	t.Run("versions are assigned without gaps", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			tc, err := appendVersion(i-1, "note")
			require.NoError(t, err)
			assert.Equal(t, i, tc.Version)
		}

		// Walk the chain from the head: versions 3,2,1 exactly once.
		current, err := store.Contexts.Current(ctx, target.ID)
		require.NoError(t, err)
		seen := []int{}
		for node := current; node != nil; {
			seen = append(seen, node.Version)
			if node.ParentVersionID == nil {
				break
			}
			node, err = store.Contexts.Get(ctx, *node.ParentVersionID)
			require.NoError(t, err)
		}
		assert.Equal(t, []int{3, 2, 1}, seen)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		_, err := appendVersion(1, "stale")
		assert.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("concurrent appends: exactly one winner", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = appendVersion(3, "racing")
			}(i)
		}
		wg.Wait()

		winners, conflicts := 0, 0
		for _, err := range results {
			switch {
			case err == nil:
				winners++
			case errors.Is(err, repository.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, 1, conflicts)

		current, err := store.Contexts.Current(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, current.Version)
	})

	t.Run("history is newest first", func(t *testing.T) {
		history, err := store.Contexts.History(ctx, target.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, 4, history[0].Version)
		assert.Equal(t, 1, history[3].Version)
	})

	t.Run("requires some content", func(t *testing.T) {
		_, err := store.Contexts.Append(ctx, models.AppendContextRequest{TargetID: target.ID}, 4)
		assert.Error(t, err)
	})

	t.Run("diff is line oriented", func(t *testing.T) {
		v1, err := store.Contexts.GetVersion(ctx, target.ID, 1)
		require.NoError(t, err)
		v4, err := store.Contexts.GetVersion(ctx, target.ID, 4)
		require.NoError(t, err)

		diff, err := store.Contexts.Diff(ctx, v1.ID, v4.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"note"}, diff.AgentContext.Removed)
		assert.Equal(t, []string{"racing"}, diff.AgentContext.Added)
	})
}

func TestMissionRepo(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()
	embedder := embeddings.NewHashEmbedder(384)

	goalVec, err := embedder.Embed(ctx, "probe auth")
	require.NoError(t, err)

	mission, err := store.Missions.Create(ctx, models.CreateMissionRequest{
		Name:          "auth probe",
		Goal:          "probe auth",
		Scope:         models.Scope{In: []string{"*.example.com"}},
		GoalEmbedding: goalVec,
	})
	require.NoError(t, err)
	assert.Equal(t, config.MissionStatusActive, mission.Status)
	assert.Equal(t, []string{"*.example.com"}, mission.Scope.In)

	t.Run("pause and resume", func(t *testing.T) {
		paused := config.MissionStatusPaused
		m, err := store.Missions.Update(ctx, mission.ID, models.UpdateMissionRequest{Status: &paused})
		require.NoError(t, err)
		assert.Equal(t, config.MissionStatusPaused, m.Status)
		assert.Nil(t, m.CompletedAt)

		active := config.MissionStatusActive
		m, err = store.Missions.Update(ctx, mission.ID, models.UpdateMissionRequest{Status: &active})
		require.NoError(t, err)
		assert.Equal(t, config.MissionStatusActive, m.Status)
	})

	t.Run("terminal states stamp completed_at and lock", func(t *testing.T) {
		completed := config.MissionStatusCompleted
		m, err := store.Missions.Update(ctx, mission.ID, models.UpdateMissionRequest{Status: &completed})
		require.NoError(t, err)
		require.NotNil(t, m.CompletedAt)

		active := config.MissionStatusActive
		_, err = store.Missions.Update(ctx, mission.ID, models.UpdateMissionRequest{Status: &active})
		assert.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("list filters by status", func(t *testing.T) {
		_, err := store.Missions.Create(ctx, models.CreateMissionRequest{Name: "second", Goal: "recon"})
		require.NoError(t, err)

		active, err := store.Missions.List(ctx, models.MissionFilters{Status: config.MissionStatusActive})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "second", active[0].Name)

		all, err := store.Missions.List(ctx, models.MissionFilters{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("target association is idempotent", func(t *testing.T) {
		target, _, err := store.Targets.Upsert(ctx, "m.test", nil, config.ProtocolHTTPS, models.TargetDefaults{})
		require.NoError(t, err)

		require.NoError(t, store.Missions.AssociateTarget(ctx, mission.ID, target.ID))
		require.NoError(t, store.Missions.AssociateTarget(ctx, mission.ID, target.ID))

		ids, err := store.Missions.TargetIDs(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{target.ID}, ids)

		require.NoError(t, store.Missions.DissociateTarget(ctx, mission.ID, target.ID))
		ids, err = store.Missions.TargetIDs(ctx, mission.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestActionRepo(t *testing.T) {
	store, client := util.NewTestStore(t)
	ctx := context.Background()
	embedder := embeddings.NewHashEmbedder(384)

	mission, err := store.Missions.Create(ctx, models.CreateMissionRequest{Name: "m", Goal: "g"})
	require.NoError(t, err)

	embed := func(text string) []float32 {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		return vec
	}

	t.Run("append and latest", func(t *testing.T) {
		first, err := store.Actions.Append(ctx, models.RecordActionRequest{
			MissionID:       mission.ID,
			Technique:       "baseline GET",
			Result:          "200 OK",
			Success:         config.ActionOutcomeSuccess,
			ActionEmbedding: embed("baseline GET"),
			ResultEmbedding: embed("200 OK"),
		})
		require.NoError(t, err)

		latest, err := store.Actions.Latest(ctx, mission.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, first.ID, latest.ID)
	})

	t.Run("latest breaks created_at ties by id", func(t *testing.T) {
		ts := time.Now().UTC().Add(time.Hour)
		lowID := "00000000-0000-0000-0000-00000000000a"
		highID := "ffffffff-ffff-ffff-ffff-fffffffffffe"
		for _, id := range []string{highID, lowID} {
			_, err := client.Pool().Exec(ctx, `
				INSERT INTO mission_actions (id, mission_id, technique, result, success, created_at)
				VALUES ($1, $2, 'tie', 'tie', 'unknown', $3)`, id, mission.ID, ts)
			require.NoError(t, err)
		}

		latest, err := store.Actions.Latest(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, highID, latest.ID)
	})

	t.Run("embeddings are D-dimensional or absent", func(t *testing.T) {
		withVec, err := store.Actions.Append(ctx, models.RecordActionRequest{
			MissionID:       mission.ID,
			Technique:       "vec check",
			Result:          "stored",
			ActionEmbedding: embed("vec check"),
		})
		require.NoError(t, err)
		action, result, err := store.Actions.Embeddings(ctx, withVec.ID)
		require.NoError(t, err)
		assert.Len(t, action, 384)
		assert.Nil(t, result)

		withoutVec, err := store.Actions.Append(ctx, models.RecordActionRequest{
			MissionID: mission.ID,
			Technique: "no vec",
			Result:    "stored",
		})
		require.NoError(t, err)
		action, result, err = store.Actions.Embeddings(ctx, withoutVec.ID)
		require.NoError(t, err)
		assert.Nil(t, action)
		assert.Nil(t, result)
	})

	t.Run("similarity search finds matching technique", func(t *testing.T) {
		scored, err := store.Actions.FindSimilar(ctx, embed("baseline GET"), nil, 5, 0.9)
		require.NoError(t, err)
		require.NotEmpty(t, scored)
		assert.Equal(t, "baseline GET", scored[0].Action.Technique)
		assert.GreaterOrEqual(t, scored[0].Score, 0.99)
	})

	t.Run("search filters by outcome and substring", func(t *testing.T) {
		succeeded, err := store.Actions.Search(ctx, models.ActionFilters{SuccessOnly: true})
		require.NoError(t, err)
		require.Len(t, succeeded, 1)
		assert.Equal(t, "baseline GET", succeeded[0].Technique)

		byName, err := store.Actions.Search(ctx, models.ActionFilters{TechniqueContains: "BASELINE"})
		require.NoError(t, err)
		assert.Len(t, byName, 1)
	})

	t.Run("stats aggregate one technique", func(t *testing.T) {
		stats, err := store.Actions.Stats(ctx, "baseline GET")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.UsageCount)
		assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
		require.NotNil(t, stats.LastUsed)

		_, err = store.Actions.Stats(ctx, "never used")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestRequestRepo(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()

	target, _, err := store.Targets.Upsert(ctx, "req.test", nil, config.ProtocolHTTPS, models.TargetDefaults{})
	require.NoError(t, err)
	mission, err := store.Missions.Create(ctx, models.CreateMissionRequest{Name: "m", Goal: "g"})
	require.NoError(t, err)
	action, err := store.Actions.Append(ctx, models.RecordActionRequest{
		MissionID: mission.ID, Technique: "t", Result: "r",
	})
	require.NoError(t, err)

	status := 200
	insert := func() *models.HTTPRequest {
		rec, err := store.Requests.Insert(ctx, &models.HTTPRequest{
			TargetID:        &target.ID,
			Method:          "GET",
			URL:             "https://req.test/",
			Host:            "req.test",
			StatusCode:      &status,
			RequestHeaders:  map[string][]string{"Accept": {"*/*"}},
			RequestCookies:  map[string]string{"sid": "abc"},
			ResponseHeaders: map[string][]string{"Server": {"nginx"}},
		})
		require.NoError(t, err)
		return rec
	}

	t.Run("insert round-trips structured fields", func(t *testing.T) {
		rec := insert()
		got, err := store.Requests.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"Accept": {"*/*"}}, got.RequestHeaders)
		assert.Equal(t, map[string]string{"sid": "abc"}, got.RequestCookies)
		require.NotNil(t, got.StatusCode)
		assert.Equal(t, 200, *got.StatusCode)
	})

	t.Run("link is idempotent", func(t *testing.T) {
		rec := insert()
		require.NoError(t, store.Requests.LinkToAction(ctx, rec.ID, action.ID))
		require.NoError(t, store.Requests.LinkToAction(ctx, rec.ID, action.ID))

		recent, err := store.Requests.RecentForMission(ctx, mission.ID, 10)
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	})

	t.Run("recent_for_mission returns linked requests newest first", func(t *testing.T) {
		second := insert()
		require.NoError(t, store.Requests.LinkToAction(ctx, second.ID, action.ID))

		recent, err := store.Requests.RecentForMission(ctx, mission.ID, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, second.ID, recent[0].ID)

		one, err := store.Requests.RecentForMission(ctx, mission.ID, 1)
		require.NoError(t, err)
		assert.Len(t, one, 1)
	})

	t.Run("count for target", func(t *testing.T) {
		count, err := store.Requests.CountForTarget(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("deleting the target keeps requests with a null reference", func(t *testing.T) {
		rec := insert()
		require.NoError(t, store.Targets.Delete(ctx, target.ID))

		got, err := store.Requests.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, got.TargetID)
	})
}

func TestLibraryRepo(t *testing.T) {
	store, _ := util.NewTestStore(t)
	ctx := context.Background()
	embedder := embeddings.NewHashEmbedder(384)

	embed := func(text string) []float32 {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		return vec
	}

	content := "Unicode SQLi via %u2019 smart quote normalization"
	entry, err := store.Library.Add(ctx, models.AddLibraryEntryRequest{
		Title:            "Unicode SQLi",
		Content:          content,
		Category:         "sqli",
		Tags:             []string{"unicode", "sqli"},
		ContentEmbedding: embed(content),
	})
	require.NoError(t, err)

	t.Run("search round-trips the content with a near-perfect score", func(t *testing.T) {
		scored, err := store.Library.FindSimilar(ctx, embed(content), 5, 0.5, "")
		require.NoError(t, err)
		require.Len(t, scored, 1)
		assert.Equal(t, entry.ID, scored[0].Entry.ID)
		assert.GreaterOrEqual(t, scored[0].Score, 0.99)
	})

	t.Run("category filter", func(t *testing.T) {
		scored, err := store.Library.FindSimilar(ctx, embed(content), 5, 0.5, "xss")
		require.NoError(t, err)
		assert.Empty(t, scored)
	})

	t.Run("usage statistics bump on retrieval", func(t *testing.T) {
		require.NoError(t, store.Library.BumpUsage(ctx, []string{entry.ID}))
		got, err := store.Library.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsageCount)
		assert.NotNil(t, got.LastUsedAt)
	})

	t.Run("stats", func(t *testing.T) {
		other := "CSP bypass through JSONP endpoints on trusted hosts"
		_, err := store.Library.Add(ctx, models.AddLibraryEntryRequest{
			Title: "CSP bypass", Content: other, Category: "xss",
			Tags:             []string{"csp", "unicode"},
			ContentEmbedding: embed(other),
		})
		require.NoError(t, err)

		stats, err := store.Library.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.EntryCount)
		assert.Equal(t, 1, stats.ByCategory["sqli"])
		assert.Equal(t, 1, stats.ByCategory["xss"])
		require.NotEmpty(t, stats.TopTags)
		assert.Equal(t, "unicode", stats.TopTags[0].Tag)
		assert.Equal(t, 2, stats.TopTags[0].Count)
	})
}

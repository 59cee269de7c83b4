package mcp

import (
	"context"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/models"
	"github.com/kwkeefer/hiro/pkg/session"
)

// duplicateThreshold is the similarity score at or above which add_to_library
// rejects new content as a duplicate of an existing entry.
const duplicateThreshold = 0.9

func (g *Gateway) registerLibraryTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name: "add_to_library",
		Description: "Save a technique worth remembering. Content is embedded for semantic " +
			"search; near-duplicates of existing entries are rejected with the conflicting id.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"title":    strProp("Entry title."),
			"content":  strProp("The technique itself: payloads, conditions, caveats."),
			"category": strProp("Grouping label, e.g. sqli, auth, recon."),
			"tags":     listProp("Tags for filtering."),
			"metadata": mapProp("Free-form key/value metadata."),
		}, "title", "content", "category"),
	}, g.handleAddToLibrary)

	g.register(server, &mcpsdk.Tool{
		Name:        "search_library",
		Description: "Search the technique library by semantic similarity to the query. Retrieval updates usage statistics.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"query":          strProp("What you are looking for."),
			"k":              intProp("Maximum results. Default 10."),
			"min_similarity": numProp("Score floor in [0,1]. Default 0.5."),
			"category":       strProp("Restrict to one category."),
		}, "query"),
	}, g.handleSearchLibrary)

	g.register(server, &mcpsdk.Tool{
		Name:        "get_library_stats",
		Description: "Summarise the technique library: entry count, categories, most frequent tags.",
		InputSchema: obj(map[string]*jsonschema.Schema{}),
	}, g.handleGetLibraryStats)
}

func (g *Gateway) handleAddToLibrary(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	c := newCoercer(args)
	title := c.requiredStr("title")
	content := c.requiredStr("content")
	category := c.requiredStr("category")
	tags := c.stringList("tags")
	metadata := c.stringMap("metadata")
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	var embedding []float32
	if g.embedder != nil {
		vec, err := g.embedder.Embed(ctx, content)
		if err != nil {
			return nil, "", internalError(err)
		}
		embedding = vec

		// Duplicate guard: refuse content that is nearly identical to an
		// existing entry, pointing at the conflict instead of inserting.
		similar, err := g.store.Library.FindSimilar(ctx, vec, 1, duplicateThreshold, "")
		if err != nil {
			return nil, "", mapError(err)
		}
		if len(similar) > 0 {
			return map[string]any{"existing_entry": similar[0].Entry},
				"", duplicateError(similar[0].Entry.ID, similar[0].Score)
		}
	}

	entry, err := g.store.Library.Add(ctx, models.AddLibraryEntryRequest{
		Title:            title,
		Content:          content,
		Category:         category,
		Tags:             tags,
		Metadata:         metadata,
		ContentEmbedding: embedding,
	})
	if err != nil {
		return nil, "", mapError(err)
	}
	return map[string]any{"entry_id": entry.ID, "entry": entry}, "", nil
}

func (g *Gateway) handleSearchLibrary(ctx context.Context, _ *session.ContextManager, args map[string]any) (any, string, *ToolError) {
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
	category := c.str("category", "")
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

	scored, err := g.store.Library.FindSimilar(ctx, vec, k, minSimilarity, category)
	if err != nil {
		return nil, "", mapError(err)
	}

	// Usage statistics are maintained on retrieval, best-effort.
	if len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.Entry.ID
		}
		if err := g.store.Library.BumpUsage(ctx, ids); err != nil {
			slog.Warn("Library usage bump failed", "error", err)
		}
	}

	return map[string]any{"matches": scored, "count": len(scored)}, "", nil
}

func (g *Gateway) handleGetLibraryStats(ctx context.Context, _ *session.ContextManager, _ map[string]any) (any, string, *ToolError) {
	if err := g.requireStore(); err != nil {
		return nil, "", err
	}

	stats, err := g.store.Library.Stats(ctx)
	if err != nil {
		return nil, "", mapError(err)
	}
	return stats, "", nil
}

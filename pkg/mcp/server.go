// Package mcp exposes the gateway to agents over the Model Context
// Protocol: tools for HTTP execution, targets, contexts, missions, search
// and the technique library, plus read-only cookie-profile and prompt-guide
// resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/cookies"
	"github.com/kwkeefer/hiro/pkg/embeddings"
	"github.com/kwkeefer/hiro/pkg/httpexec"
	"github.com/kwkeefer/hiro/pkg/prompts"
	"github.com/kwkeefer/hiro/pkg/repository"
	"github.com/kwkeefer/hiro/pkg/session"
	"github.com/kwkeefer/hiro/pkg/version"
)

// Gateway wires the gateway subsystems to the MCP tool and resource
// surface. Store and embedder may be nil; dependent tools then degrade to
// store_unavailable / embeddings_unavailable instead of disappearing.
type Gateway struct {
	cfg      *config.Config
	store    *repository.Store
	embedder embeddings.Embedder
	cookies  *cookies.Cache
	executor *httpexec.Executor
	prompts  *prompts.Library

	// Per-connection mission context. Tool calls on one connection are
	// sequential, so a plain map behind a mutex is enough here; the
	// manager itself handles the concurrent reads from background logging.
	mu       sync.Mutex
	sessions map[*mcpsdk.ServerSession]*session.ContextManager
}

// NewGateway creates the gateway. store and embedder may be nil.
func NewGateway(
	cfg *config.Config,
	store *repository.Store,
	embedder embeddings.Embedder,
	cookieCache *cookies.Cache,
	executor *httpexec.Executor,
	promptLib *prompts.Library,
) *Gateway {
	return &Gateway{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		cookies:  cookieCache,
		executor: executor,
		prompts:  promptLib,
		sessions: make(map[*mcpsdk.ServerSession]*session.ContextManager),
	}
}

// NewServer builds the MCP server with every tool and resource registered.
func (g *Gateway) NewServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "hiro",
		Title:   "hiro HTTP gateway",
		Version: version.GitCommit,
	}, nil)

	g.registerHTTPTools(server)
	g.registerTargetTools(server)
	g.registerContextTools(server)
	g.registerMissionTools(server)
	g.registerSearchTools(server)
	g.registerLibraryTools(server)
	g.registerResources(server)

	return server
}

// Run serves MCP over stdio until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	server := g.NewServer()
	slog.Info("MCP server starting", "transport", "stdio",
		"store_enabled", g.store != nil, "embedder_enabled", g.embedder != nil)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

// sessionManager returns the connection-scoped mission context, creating it
// on first use. Instances never outlive the gateway and never cross
// connections.
func (g *Gateway) sessionManager(ss *mcpsdk.ServerSession) *session.ContextManager {
	g.mu.Lock()
	defer g.mu.Unlock()
	if mgr, ok := g.sessions[ss]; ok {
		return mgr
	}
	mgr := g.newContextManager()
	g.sessions[ss] = mgr
	return mgr
}

func (g *Gateway) newContextManager() *session.ContextManager {
	var resolver session.MissionResolver
	if g.store != nil {
		resolver = &session.RepoResolver{Missions: g.store.Missions}
	}
	return session.NewContextManager(resolver)
}

// toolFunc is the shape of every tool implementation: it returns the result
// payload, an optional mission-context note, and a structured error.
type toolFunc func(ctx context.Context, mgr *session.ContextManager, args map[string]any) (any, string, *ToolError)

// register wraps a toolFunc with argument decoding, session resolution and
// envelope construction. Tool implementations never leak raw errors.
func (g *Gateway) register(server *mcpsdk.Server, tool *mcpsdk.Tool, fn toolFunc) {
	server.AddTool(tool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return envelopeResult(&Envelope{
				OK: false,
				Error: &ToolError{
					Kind:    KindValidationFailed,
					Message: err.Error(),
				},
			}), nil
		}

		mgr := g.sessionManager(req.Session)
		result, note, toolErr := fn(ctx, mgr, args)

		env := &Envelope{OK: toolErr == nil, Result: result, Error: toolErr, MissionContextNote: note}
		return envelopeResult(env), nil
	})
}

// envelopeResult renders the envelope as both structured content and
// pretty-printed text.
func envelopeResult(env *Envelope) *mcpsdk.CallToolResult {
	text, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		text = []byte(fmt.Sprintf(`{"ok":false,"error":{"kind":%q,"message":"failed to encode response"}}`, KindInternal))
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		StructuredContent: env,
		IsError:           !env.OK,
	}
}

// missionNote builds the envelope's reminder line for mission-scoped
// operations. Best-effort: a lookup failure just drops the note.
func (g *Gateway) missionNote(ctx context.Context, missionID string) string {
	if missionID == "" || g.store == nil {
		return ""
	}
	mission, err := g.store.Missions.Get(ctx, missionID)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Logged to mission %s (%s)", mission.ID, mission.Name)
}

// requireStore guards store-backed tools.
func (g *Gateway) requireStore() *ToolError {
	if g.store == nil {
		return storeUnavailableError()
	}
	return nil
}

// requireEmbedder guards vector search tools.
func (g *Gateway) requireEmbedder() *ToolError {
	if g.embedder == nil {
		return embeddingsUnavailableError()
	}
	return nil
}

// embedOrNil embeds text, degrading to a nil vector (absent embedding)
// when no embedder is configured or the model call fails. Rows written
// without embeddings simply never match similarity queries.
func (g *Gateway) embedOrNil(ctx context.Context, text string) []float32 {
	if g.embedder == nil || text == "" {
		return nil
	}
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Embedding failed; storing without vector", "error", err)
		return nil
	}
	return vec
}

// hiro gateway server - serves MCP tools over stdio and an optional HTTP
// health/status API, recording every outbound request into the store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/kwkeefer/hiro/pkg/api"
	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/cookies"
	"github.com/kwkeefer/hiro/pkg/database"
	"github.com/kwkeefer/hiro/pkg/embeddings"
	"github.com/kwkeefer/hiro/pkg/httpexec"
	"github.com/kwkeefer/hiro/pkg/mcp"
	"github.com/kwkeefer/hiro/pkg/prompts"
	"github.com/kwkeefer/hiro/pkg/reqlog"
	"github.com/kwkeefer/hiro/pkg/repository"
	"github.com/kwkeefer/hiro/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	apiAddr := flag.String("api-addr",
		getEnv("HIRO_API_ADDR", ""),
		"Address for the HTTP health/status API (empty disables it)")
	flag.Parse()

	// Logs go to stderr; stdout belongs to the MCP transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Load .env from the config directory; it usually carries DATABASE_URL.
	envPath := filepath.Join(cfg.ConfigDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file loaded", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
		// Values loaded from .env were not visible to the first pass.
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		}
	}

	slog.Info("Starting hiro", "version", version.Full(), "config_dir", cfg.ConfigDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: absent DATABASE_URL degrades to store-less mode rather than
	// failing; HTTP execution and resources keep working.
	var dbClient *database.Client
	var store *repository.Store
	if dbCfg, ok := database.LoadConfigFromEnv(); ok {
		if err := dbCfg.Validate(); err != nil {
			log.Fatalf("Invalid database configuration: %v", err)
		}
		dbClient, err = database.NewClient(ctx, dbCfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		store = repository.NewStore(dbClient.Pool())
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Warn("DATABASE_URL not set; store-backed tools disabled")
	}

	// Embedder: optional; similarity tools degrade without it.
	var embedder embeddings.Embedder
	if cfg.Embedding.Endpoint != "" {
		embedder = embeddings.NewOllamaEmbedder(
			cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		slog.Info("Embedding driver configured",
			"model", cfg.Embedding.Model, "dimensions", cfg.Embedding.Dimensions)
	} else {
		slog.Warn("No embedding endpoint configured; similarity search disabled")
	}

	cookieCache := cookies.NewCache(cfg.CookieSessionsPath(), cfg.DataDir)
	promptLib := prompts.NewLibrary(cfg.PromptsDir)
	pipeline := reqlog.NewPipeline(store, cfg.HTTP)
	executor := httpexec.NewExecutor(cfg.HTTP, cookieCache, pipeline)

	gateway := mcp.NewGateway(cfg, store, embedder, cookieCache, executor, promptLib)

	// Optional HTTP API for operators; MCP stays on stdio.
	if *apiAddr != "" {
		gin.SetMode(getEnv("GIN_MODE", gin.ReleaseMode))
		apiServer := api.NewServer(dbClient, embedder)
		go func() {
			slog.Info("HTTP API listening", "addr", *apiAddr)
			if err := apiServer.Run(*apiAddr); err != nil {
				slog.Error("HTTP API server stopped", "error", err)
			}
		}()
	}

	if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("MCP server failed: %v", err)
	}
}

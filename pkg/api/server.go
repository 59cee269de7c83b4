// Package api provides the optional HTTP health/status server that runs
// alongside the MCP transport for operators and monitoring.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kwkeefer/hiro/pkg/database"
	"github.com/kwkeefer/hiro/pkg/embeddings"
	"github.com/kwkeefer/hiro/pkg/version"
)

// Server serves /health and /api/v1/status over gin.
type Server struct {
	db       *database.Client    // nil when the store is disabled
	embedder embeddings.Embedder // nil when embeddings are disabled
	router   *gin.Engine
}

// NewServer builds the API server and its routes.
func NewServer(db *database.Client, embedder embeddings.Embedder) *Server {
	s := &Server{db: db, embedder: embedder}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.handleHealth)
	router.GET("/api/v1/status", s.handleStatus)
	s.router = router

	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db.DB())
		payload["database"] = dbHealth
		if err != nil {
			payload["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	} else {
		payload["database"] = gin.H{"status": "disabled"}
	}

	if s.embedder != nil {
		if err := s.embedder.HealthCheck(ctx); err != nil {
			payload["embedder"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			payload["embedder"] = gin.H{
				"status":     "healthy",
				"kind":       s.embedder.Kind(),
				"dimensions": s.embedder.Dimensions(),
			}
		}
	} else {
		payload["embedder"] = gin.H{"status": "disabled"}
	}

	c.JSON(status, payload)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"store": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	counts := gin.H{}
	for _, table := range []string{"targets", "missions", "mission_actions", "http_requests", "technique_library"} {
		var count int64
		if err := s.db.DB().QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&count); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unreachable"})
			return
		}
		counts[table] = count
	}

	c.JSON(http.StatusOK, gin.H{"store": "enabled", "counts": counts})
}

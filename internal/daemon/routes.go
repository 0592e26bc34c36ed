package daemon

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestID stamps every request with a correlation id, echoed back in the
// response header and available to handlers/log lines via the Gin context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := os.Getenv("DAEMON_ALLOWED_ORIGINS")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowedOrigins == "" || allowedOrigins == "*":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		default:
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Handler exposes the operator HTTP API around a running receiver
// process's sessions (spec §6's `resume` subcommand, generalized per
// SPEC_FULL to N concurrent sessions).
type Handler struct {
	mgr *Manager
	hub *Hub
}

// SetupRouter builds the Gin engine for the operator API: health, session
// listing and status, and a live websocket event feed. It has no endpoint
// for resuming a session.
func SetupRouter(mgr *Manager, hub *Hub) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(), requestID())

	h := &Handler{mgr: mgr, hub: hub}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", hub.Subscribe)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	{
		auth.GET("/sessions", NewRateLimiter(60, 10, byClientIP).Middleware(), h.handleListSessions)
		// A single session's status is polled at the protocol's own cadence
		// (spec §5's 5s long-poll interval), so its per-subdirectory bucket
		// is both tighter and independent of every other session's quota.
		auth.GET("/sessions/:subdir", NewRateLimiter(12, 4, bySubdirectory).Middleware(), h.handleGetSession)
	}

	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(h.mgr.List())})
}

func (h *Handler) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.mgr.List()})
}

func (h *Handler) handleGetSession(c *gin.Context) {
	subdir := c.Param("subdir")
	st, ok := h.mgr.Get(subdir)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, st)
}

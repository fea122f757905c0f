package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const userKey = "user_id"

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(h *Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), identity())

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	api := r.Group("/api/v1")
	{
		api.GET("/tasks/available", h.ListAvailable)
		api.GET("/tasks/pending", h.ListPending)
		api.GET("/tasks/by-code/:code", h.GetTaskByCode)
		api.GET("/tasks/:id", h.GetTask)
		api.GET("/tasks/:id/chain", h.GetChain)
		api.GET("/tasks/:id/events", h.GetEvents)
		api.POST("/tasks/:id/generate-next", h.GenerateNext)
		api.POST("/requests/:requestId/completed", h.RequestCompleted)
		api.POST("/admin/reconcile", h.Reconcile)
	}

	user := api.Group("", RequireUser())
	{
		user.GET("/tasks/mine", h.ListMine)
		user.POST("/tasks", h.CreateTask)
		user.PATCH("/tasks/:id", h.UpdateTask)
		user.POST("/tasks/:id/cancel", h.CancelTask)
		user.POST("/tasks/:id/accept", h.AcceptTask)
		user.POST("/tasks/:id/requests", h.CreateRequest)
	}

	return r
}

// identity copies the caller id from the request header into the context.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(UserHeader)); id != "" {
			c.Set(userKey, id)
		}
		c.Next()
	}
}

// RequireUser rejects requests without a caller identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(userKey) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(started)).
			Str("user_id", c.GetString(userKey)).
			Msg("http request")
	}
}

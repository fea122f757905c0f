// Package api serves the scheduling engine over HTTP. Authentication is
// handled upstream; the caller's identity arrives in the X-User-ID header.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nhle/pmsched/internal/engine"
	"github.com/nhle/pmsched/internal/model"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc *engine.Service
	db  Pinger
	log zerolog.Logger
}

// NewHandler returns handlers backed by svc.
func NewHandler(svc *engine.Service, db Pinger, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, db: db, log: log}
}

// GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "db ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}

// GET /api/v1/tasks/mine
func (h *Handler) ListMine(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	views, err := h.svc.ListMine(c.Request.Context(), userID(c), page)
	h.respondList(c, views, err)
}

// GET /api/v1/tasks/available
func (h *Handler) ListAvailable(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	views, err := h.svc.ListAvailable(c.Request.Context(), page)
	h.respondList(c, views, err)
}

// GET /api/v1/tasks/pending
func (h *Handler) ListPending(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	views, err := h.svc.ListPending(c.Request.Context(), page)
	h.respondList(c, views, err)
}

// GET /api/v1/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	v, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, v, err)
}

// GET /api/v1/tasks/by-code/:code
func (h *Handler) GetTaskByCode(c *gin.Context) {
	v, err := h.svc.GetByCode(c.Request.Context(), c.Param("code"))
	h.respond(c, http.StatusOK, v, err)
}

// GET /api/v1/tasks/:id/chain
func (h *Handler) GetChain(c *gin.Context) {
	views, err := h.svc.ListChain(c.Request.Context(), c.Param("id"))
	h.respondList(c, views, err)
}

// GET /api/v1/tasks/:id/events
func (h *Handler) GetEvents(c *gin.Context) {
	evs, err := h.svc.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if evs == nil {
		evs = []model.TaskEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "count": len(evs)})
}

// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req engine.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.svc.Create(c.Request.Context(), req, userID(c))
	h.respond(c, http.StatusCreated, v, err)
}

// PATCH /api/v1/tasks/:id
func (h *Handler) UpdateTask(c *gin.Context) {
	var patch engine.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.svc.Update(c.Request.Context(), c.Param("id"), patch, userID(c))
	h.respond(c, http.StatusOK, v, err)
}

// POST /api/v1/tasks/:id/cancel
func (h *Handler) CancelTask(c *gin.Context) {
	v, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), userID(c))
	h.respond(c, http.StatusOK, v, err)
}

// POST /api/v1/tasks/:id/accept
func (h *Handler) AcceptTask(c *gin.Context) {
	v, err := h.svc.Accept(c.Request.Context(), c.Param("id"), userID(c))
	h.respond(c, http.StatusOK, v, err)
}

// POST /api/v1/tasks/:id/requests
func (h *Handler) CreateRequest(c *gin.Context) {
	draft, err := h.svc.CreateRequestFromTask(c.Request.Context(), c.Param("id"), userID(c))
	h.respond(c, http.StatusCreated, draft, err)
}

// POST /api/v1/tasks/:id/generate-next
func (h *Handler) GenerateNext(c *gin.Context) {
	next, err := h.svc.GenerateNext(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"successor": next})
}

type requestCompletedBody struct {
	ScheduledTaskID string `json:"scheduled_task_id" binding:"required"`
}

// POST /api/v1/requests/:requestId/completed
func (h *Handler) RequestCompleted(c *gin.Context) {
	var body requestCompletedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.OnRequestCompleted(c.Request.Context(), c.Param("requestId"), body.ScheduledTaskID)
	h.respond(c, http.StatusOK, res, err)
}

// POST /api/v1/admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	n, err := h.svc.ReconcileOverdue(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_overdue": n})
}

func (h *Handler) respond(c *gin.Context, status int, body any, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, body)
}

func (h *Handler) respondList(c *gin.Context, views []model.TaskView, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views, "count": len(views)})
}

// page parses limit and offset, writing a 400 on bad input.
func (h *Handler) page(c *gin.Context) (engine.Page, bool) {
	p := engine.Page{Limit: defaultLimit}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": "limit must be a positive integer"})
			return p, false
		}
		p.Limit = min(n, maxLimit)
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": "offset must be a non-negative integer"})
			return p, false
		}
		p.Offset = n
	}
	return p, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sujalbistaa/trustdesk/internal/engine"
	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/moderation"
	"github.com/sujalbistaa/trustdesk/internal/ws"
)

// --- Structs for request binding ---

// EvaluateInput is a post to score. Force skips the stored-result check.
type EvaluateInput struct {
	models.Post
	Force bool `json:"force"`
}

type FlagInput struct {
	ReporterID  string `json:"reporterId" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

type ModeratorInput struct {
	ModeratorID string `json:"moderatorId" binding:"required"`
}

type ResolveInput struct {
	Outcome     string `json:"outcome" binding:"required"`
	ModeratorID string `json:"moderatorId" binding:"required"`
}

// --- Handlers ---

type Env struct {
	Engine      *engine.Engine
	DB          *gorm.DB
	Hub         *ws.Hub
	FlagLimiter *KeyedRateLimiter
	Log         logging.Logger
}

// respondError maps engine error kinds onto HTTP statuses. Anything
// unclassified is logged and hidden behind a 500.
func (e *Env) respondError(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.KindInvalidState:
		c.JSON(http.StatusConflict, gin.H{"error": "Already handled", "detail": err.Error()})
	case errs.KindDependencyUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		e.Log.WithError(err).WithFields(logging.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString("request_id"),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badInput(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
}

func (e *Env) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := e.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		e.Log.WithError(err).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "feedClients": e.Hub.ClientCount()})
}

func (e *Env) EvaluatePost(c *gin.Context) {
	var input EvaluateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badInput(c, err)
		return
	}
	ev, err := e.Engine.EvaluatePost(c.Request.Context(), input.Post, input.Force)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (e *Env) GetPostCredibility(c *gin.Context) {
	pc, err := e.Engine.GetPostCredibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pc)
}

func (e *Env) GetSpamVerdict(c *gin.Context) {
	v, err := e.Engine.GetSpamVerdict(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// SubmitFlag is rate limited per reporter, not per IP.
func (e *Env) SubmitFlag(c *gin.Context) {
	var input FlagInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badInput(c, err)
		return
	}
	if e.FlagLimiter != nil && !e.FlagLimiter.Allow(input.ReporterID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many flags. Please wait."})
		return
	}

	flag, created, err := e.Engine.SubmitFlag(c.Request.Context(), moderation.FlagInput{
		PostID:      c.Param("id"),
		ReporterID:  input.ReporterID,
		Reason:      input.Reason,
		Description: input.Description,
	})
	if err != nil {
		e.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"flag": flag, "created": created})
}

func (e *Env) ListFlags(c *gin.Context) {
	flags, err := e.Engine.ListFlags(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

func (e *Env) ListQueue(c *gin.Context) {
	filter := engine.QueueFilter{
		Status:     c.Query("status"),
		Priority:   c.Query("priority"),
		Reason:     c.Query("reason"),
		AssignedTo: c.Query("assignedTo"),
		Sort:       c.Query("sort"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		filter.Limit = limit
	}
	items, err := e.Engine.ListQueue(c.Request.Context(), filter)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (e *Env) QueueStats(c *gin.Context) {
	stats, err := e.Engine.QueueStats(c.Request.Context())
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (e *Env) GetQueueItem(c *gin.Context) {
	item, err := e.Engine.GetQueueItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (e *Env) QueueActions(c *gin.Context) {
	actions, err := e.Engine.QueueActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (e *Env) ClaimQueueItem(c *gin.Context) {
	var input ModeratorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badInput(c, err)
		return
	}
	item, err := e.Engine.ClaimQueueItem(c.Request.Context(), c.Param("id"), input.ModeratorID)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (e *Env) ReleaseQueueItem(c *gin.Context) {
	var input ModeratorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badInput(c, err)
		return
	}
	item, err := e.Engine.ReleaseQueueItem(c.Request.Context(), c.Param("id"), input.ModeratorID)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (e *Env) ResolveQueueItem(c *gin.Context) {
	var input ResolveInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badInput(c, err)
		return
	}
	item, err := e.Engine.ResolveQueueItem(c.Request.Context(), c.Param("id"), input.Outcome, input.ModeratorID)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (e *Env) GetUserTrust(c *gin.Context) {
	p, err := e.Engine.GetUserTrust(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Env) BadgeHistory(c *gin.Context) {
	history, err := e.Engine.BadgeHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (e *Env) RecomputeUserTrust(c *gin.Context) {
	p, err := e.Engine.RecomputeUserTrust(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Env) ServeFeed(c *gin.Context) {
	ws.ServeWs(e.Hub, c.Writer, c.Request)
}

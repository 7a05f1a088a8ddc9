// Package httpapi is the coordinator's operator control surface, built
// around a gin router with recovery and request-logging middleware.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"episode_pipeline/internal/diskmonitor"
	"episode_pipeline/internal/model"
	"episode_pipeline/internal/store"
)

// Handlers holds the HTTP layer's dependencies.
type Handlers struct {
	store *store.Store
	disk  *diskmonitor.Monitor
	log   *logrus.Logger
}

func NewHandlers(st *store.Store, disk *diskmonitor.Monitor, log *logrus.Logger) *Handlers {
	return &Handlers{store: st, disk: disk, log: log}
}

// NewRouter builds the gin engine with every operator endpoint wired:
// gin.Recovery() plus a custom request-logging middleware.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stats", h.Stats)
		v1.GET("/jobs/:id", h.GetJob)
		v1.POST("/jobs", h.EnqueueJob)
		v1.POST("/retry", h.RetryFailed)
		v1.GET("/selection/:mal_id", h.GetSelection)
		v1.POST("/selection/:mal_id", h.PutSelection)
	}

	return r
}

// requestLogger assigns every inbound request a correlation id for tracing
// a unit of work across log lines, echoes it back as X-Request-Id, and
// logs the outcome.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"latency":    time.Since(start).String(),
			"client":     c.ClientIP(),
		}).Info("request")
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health pings the store and reports status. GET /health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	if err := h.store.DB().PingContext(ctx); err != nil {
		status = "degraded"
		h.log.WithError(err).Warn("database health check failed")
	}

	c.JSON(http.StatusOK, healthResponse{Status: status})
}

type statsResponse struct {
	JobsByStage map[model.Stage]int `json:"jobs_by_stage"`
	DiskUsage   diskmonitor.Usage   `json:"disk_usage"`
	Paused      bool                `json:"paused"`
	Workers     []model.Worker      `json:"workers"`
}

// Stats reports per-stage job counts, disk usage, and live workers.
// GET /api/v1/stats
func (h *Handlers) Stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stages, err := h.store.JobStats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	workers, err := h.store.ListWorkers(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		JobsByStage: stages,
		DiskUsage:   h.disk.Usage(),
		Paused:      h.disk.ShouldPause(),
		Workers:     workers,
	})
}

// GetJob returns a single job by id. GET /api/v1/jobs/:id
func (h *Handlers) GetJob(c *gin.Context) {
	id, err := parseInt64Param(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

type enqueueRequest struct {
	AnimeID   int64  `json:"anime_id" binding:"required"`
	MALID     int64  `json:"mal_id" binding:"required"`
	Episode   int    `json:"episode" binding:"required"`
	Priority  int    `json:"priority"`
	DependsOn *int64 `json:"depends_on"`
}

// EnqueueJob manually enqueues a job, the operator-facing escape hatch for
// "manual override by direct mutation is supported and expected".
// POST /api/v1/jobs
func (h *Handlers) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.store.EnqueueJob(ctx, req.AnimeID, req.MALID, req.Episode, req.Priority, req.DependsOn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id})
}

// RetryFailed resets every eligible failed job back to a claimable stage,
// skipping terminal and retry-exhausted failures. POST /api/v1/retry
func (h *Handlers) RetryFailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	n, err := h.store.RetryFailed(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset_count": n})
}

// GetSelection returns the cached title-selection decision for a mal_id.
// GET /api/v1/selection/:mal_id
func (h *Handlers) GetSelection(c *gin.Context) {
	malID, err := parseInt64Param(c, "mal_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	sel, err := h.store.GetSelection(ctx, malID)
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "no selection cached"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sel)
}

// PutSelection lets an operator manually override the title-selection
// cache for a mal_id, a deliberate escape hatch for corrections a resolver
// got wrong. POST /api/v1/selection/:mal_id
func (h *Handlers) PutSelection(c *gin.Context) {
	malID, err := parseInt64Param(c, "mal_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var sel model.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	sel.MALID = malID

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.UpsertSelection(ctx, sel); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseInt64Param(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

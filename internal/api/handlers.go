// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/progress"
	"github.com/Corphon/StoryReel/internal/script"
	"github.com/Corphon/StoryReel/internal/utils"
)

// Pipeline is what the API drives; *pipeline.Runner implements it.
type Pipeline interface {
	PrepareScript(ctx context.Context, index int) (*models.VideoScript, error)
	RegenerateScript(ctx context.Context, index int, feedback string) (*models.VideoScript, error)
	Start(index int) error
	Cancel(index int) bool
	Running(index int) bool
	EstimateCost(index int) (float64, error)
	Artifact(index int) (*models.FinalArtifact, error)
	Jobs(ctx context.Context, index int) ([]models.GenerationJob, error)
	Events() *progress.Broadcaster
}

// Handler serves the review gate and run control API.
type Handler struct {
	Pipeline Pipeline
	Scripts  *script.Store
	Tracker  *progress.Tracker
	Metrics  *utils.PipelineMetrics
	Response *ResponseHelper

	// ScriptTimeout bounds synchronous script generation requests.
	ScriptTimeout time.Duration
	logger        *utils.Logger
	startedAt     time.Time
}

func NewHandler(p Pipeline, scripts *script.Store, tracker *progress.Tracker, metrics *utils.PipelineMetrics) *Handler {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil)
	}
	return &Handler{
		Pipeline:      p,
		Scripts:       scripts,
		Tracker:       tracker,
		Metrics:       metrics,
		Response:      NewResponseHelper(),
		ScriptTimeout: 3 * time.Minute,
		logger:        utils.GetLogger().With(map[string]interface{}{"component": "api"}),
		startedAt:     time.Now(),
	}
}

// ReviewRequest carries the note of an approval or the reason of a rejection.
type ReviewRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// RegenerateRequest asks for a new draft guided by feedback.
type RegenerateRequest struct {
	Feedback string `json:"feedback"`
}

// RunResponse answers a run request.
type RunResponse struct {
	ChapterIndex  int     `json:"chapter_index"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// ChapterStatus combines a chapter's checkpoint with its live state.
type ChapterStatus struct {
	ChapterIndex int                    `json:"chapter_index"`
	Progress     models.ChapterProgress `json:"progress"`
	Running      bool                   `json:"running"`
	ScriptStatus models.ScriptStatus    `json:"script_status,omitempty"`
	LastEvent    *models.ProgressEvent  `json:"last_event,omitempty"`
}

func (h *Handler) chapterIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		h.Response.BadRequest(c, "chapter index must be a positive integer")
		return 0, false
	}
	return index, true
}

func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *Handler) GetProgress(c *gin.Context) {
	h.Response.Success(c, h.Tracker.Snapshot())
}

func (h *Handler) GetChapter(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	status := ChapterStatus{
		ChapterIndex: index,
		Progress:     h.Tracker.Chapter(index),
		Running:      h.Pipeline.Running(index),
	}
	if sc, err := h.Scripts.Get(index); err == nil {
		status.ScriptStatus = sc.Status
	}
	if ev, ok := h.Pipeline.Events().Last(index); ok {
		status.LastEvent = &ev
	}
	h.Response.Success(c, status)
}

func (h *Handler) GetScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	sc, err := h.Scripts.Get(index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, sc)
}

// GenerateScript returns the current draft, generating one if needed.
func (h *Handler) GenerateScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.ScriptTimeout)
	defer cancel()

	sc, err := h.Pipeline.PrepareScript(ctx, index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, sc)
}

func (h *Handler) RegenerateScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	var req RegenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.ScriptTimeout)
	defer cancel()

	sc, err := h.Pipeline.RegenerateScript(ctx, index, req.Feedback)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, sc, "draft regenerated")
}

func (h *Handler) UpdateScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	var edited models.VideoScript
	if err := c.ShouldBindJSON(&edited); err != nil {
		h.Response.BadRequest(c, "invalid script", err.Error())
		return
	}
	sc, err := h.Scripts.Edit(index, &edited)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, sc, "draft updated")
}

func (h *Handler) ApproveScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	var req ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}
	sc, err := h.Scripts.Approve(index, req.Note)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.logger.Info("script approved", map[string]interface{}{"chapter": index})
	h.Response.Success(c, sc, "script approved")
}

func (h *Handler) RejectScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		h.Response.BadRequest(c, "a rejection needs a reason")
		return
	}
	sc, err := h.Scripts.Reject(index, req.Reason)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.logger.Info("script rejected", map[string]interface{}{"chapter": index, "reason": req.Reason})
	h.Response.Success(c, sc, "script rejected")
}

func (h *Handler) PreviewScript(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	sc, err := h.Scripts.Get(index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	page, err := renderPreview(sc)
	if err != nil {
		h.Response.InternalError(c, "render preview", err.Error())
		return
	}
	h.Response.HTML(c, page)
}

// RunChapter starts generation of an approved chapter in the background.
func (h *Handler) RunChapter(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	cost, err := h.Pipeline.EstimateCost(index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	if err := h.Pipeline.Start(index); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Accepted(c, RunResponse{ChapterIndex: index, EstimatedCost: cost}, "generation started")
}

func (h *Handler) CancelChapter(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	if !h.Pipeline.Cancel(index) {
		h.Response.Conflict(c, ErrorChapterNotRunning, "chapter is not running")
		return
	}
	h.Response.Success(c, gin.H{"chapter_index": index}, "cancellation requested")
}

func (h *Handler) GetJobs(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	jobs, err := h.Pipeline.Jobs(c.Request.Context(), index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	if jobs == nil {
		jobs = []models.GenerationJob{}
	}
	h.Response.Success(c, jobs)
}

func (h *Handler) GetArtifact(c *gin.Context) {
	index, ok := h.chapterIndex(c)
	if !ok {
		return
	}
	art, err := h.Pipeline.Artifact(index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, art)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := h.Metrics.Collector().GetMetrics()
	metrics["generation_cost_dollars"] = utils.MicrosToDollars(h.Metrics.Collector().GetCounterValue("generation_cost_micros"))
	c.JSON(http.StatusOK, metrics)
}

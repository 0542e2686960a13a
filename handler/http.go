package handler

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"net/http"
	"worker-transcribe/dto"
	"worker-transcribe/service"
)

type HTTPHandler struct {
	orchestrator service.Orchestrator
	progress     service.ProgressTracker
	assets       service.AssetService
}

func NewHTTPHandler(orchestrator service.Orchestrator, progress service.ProgressTracker, assets service.AssetService) *HTTPHandler {
	return &HTTPHandler{
		orchestrator: orchestrator,
		progress:     progress,
		assets:       assets,
	}
}

func (h *HTTPHandler) Register(r gin.IRouter) {
	api := r.Group("/api/v1")
	api.POST("/assets", h.registerAsset)
	api.POST("/jobs", h.createJob)
	api.GET("/jobs/:id/status", h.jobStatus)
	api.GET("/jobs/:id/transcript", h.transcript)
	api.POST("/jobs/:id/cancel", h.cancelJob)
}

// WithLogger puts the logger carried by base on every request context.
func WithLogger(base context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(base)
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

func (h *HTTPHandler) registerAsset(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	asset, err := h.assets.RegisterAsset(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.RegisterAssetResponse{AssetId: asset.ID, DurationSeconds: asset.DurationSeconds})
}

func (h *HTTPHandler) createJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	jobId, err := h.orchestrator.CreateJob(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreateJobResponse{JobId: jobId})
}

func (h *HTTPHandler) jobStatus(c *gin.Context) {
	jobId, ok := jobIdParam(c)
	if !ok {
		return
	}
	progress, err := h.progress.GetProgress(c.Request.Context(), jobId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *HTTPHandler) transcript(c *gin.Context) {
	jobId, ok := jobIdParam(c)
	if !ok {
		return
	}
	transcript, err := h.progress.GetTranscript(c.Request.Context(), jobId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, transcript)
}

func (h *HTTPHandler) cancelJob(c *gin.Context) {
	jobId, ok := jobIdParam(c)
	if !ok {
		return
	}
	if err := h.orchestrator.CancelJob(c.Request.Context(), jobId); err != nil {
		writeError(c, err)
		return
	}
	progress, err := h.progress.GetProgress(c.Request.Context(), jobId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, progress)
}

func jobIdParam(c *gin.Context) (uuid.UUID, bool) {
	jobId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid job id"})
		return uuid.Nil, false
	}
	return jobId, true
}

func writeError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validationErr.Error()})
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrTranscriptNotReady):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Job      *JobHandler
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(
	jobService job.JobProcessor,
	health Pinger,
	logger logger.Logger,
) *Handlers {
	logger = logger.Named("api")
	return &Handlers{
		Job:      NewJobHandler(jobService, logger),
		Document: NewDocumentHandler(jobService, logger),
		Health:   &HealthHandler{backend: health},
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var validation *models.ValidationError
	var external *models.ExternalServiceError
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrNotCompleted):
		return http.StatusConflict
	case errors.As(err, &external):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := http.StatusBadRequest
	if err != nil {
		status = statusFor(err)
	}
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log = logger.FromContext(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}

type HealthHandler struct {
	backend Pinger
}

// Check 健康检查
func (h *HealthHandler) Check(c *gin.Context) {
	if h.backend != nil {
		if err := h.backend.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

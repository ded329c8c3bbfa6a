package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/pkg/logger"
)

type JobHandler struct {
	service job.JobProcessor
	logger  logger.Logger
}

// JobResponse is returned when a job is accepted
type JobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func NewJobHandler(service job.JobProcessor, logger logger.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

// ProcessDocument 为已上传的文档创建处理任务
func (h *JobHandler) ProcessDocument(c *gin.Context) {
	jobID, err := h.service.Enqueue(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		handleError(c, h.logger, "Failed to enqueue document", err)
		return
	}
	c.JSON(http.StatusAccepted, JobResponse{JobID: jobID, Status: "PENDING"})
}

// ReanalyzeCase reruns synthesis and analysis over every fact of a case
func (h *JobHandler) ReanalyzeCase(c *gin.Context) {
	jobID, err := h.service.Reanalyze(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		handleError(c, h.logger, "Failed to enqueue reanalysis", err)
		return
	}
	c.JSON(http.StatusAccepted, JobResponse{JobID: jobID, Status: "PENDING"})
}

// GetStatus 获取处理状态
func (h *JobHandler) GetStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetResult 获取处理结果
func (h *JobHandler) GetResult(c *gin.Context) {
	result, err := h.service.GetResult(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get result", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListActive 列出正在执行的任务
func (h *JobHandler) ListActive(c *gin.Context) {
	jobs, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, "Failed to list active jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Cancel 取消处理任务
func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.service.Cancel(c.Request.Context(), jobID); err != nil {
		handleError(c, h.logger, "Failed to cancel job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cancellation requested",
		"job_id":  jobID,
	})
}

package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/pkg/logger"
)

type DocumentHandler struct {
	service job.JobProcessor
	logger  logger.Logger
}

// UploadResponse 定义上传响应结构
type UploadResponse struct {
	Document *models.Document `json:"document"`
	JobID    string           `json:"job_id,omitempty"`
}

func NewDocumentHandler(service job.JobProcessor, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger,
	}
}

// Upload 上传单个文档; process=true also enqueues it
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		handleError(c, h.logger, "Invalid file upload", &models.ValidationError{Field: "file", Message: err.Error()})
		return
	}
	defer file.Close()

	doc, err := h.service.Upload(c.Request.Context(), c.PostForm("case_id"), header.Filename, file, header.Size)
	if err != nil {
		handleError(c, h.logger, "Failed to upload document", err)
		return
	}

	resp := UploadResponse{Document: doc}
	if process, _ := strconv.ParseBool(c.DefaultPostForm("process", "false")); process {
		resp.JobID, err = h.service.Enqueue(c.Request.Context(), doc.ID)
		if err != nil {
			handleError(c, h.logger, "Document stored but not enqueued", err)
			return
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// UploadBatch 批量上传文档
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		handleError(c, h.logger, "Invalid form data", &models.ValidationError{Field: "form", Message: err.Error()})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		handleError(c, h.logger, "No files provided", nil)
		return
	}

	docs, err := h.service.UploadBatch(c.Request.Context(), c.PostForm("case_id"), files)
	if err != nil {
		handleError(c, h.logger, "Failed to upload files", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   fmt.Sprintf("Stored %d documents", len(docs)),
		"documents": docs,
	})
}

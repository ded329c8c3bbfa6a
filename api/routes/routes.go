package routes

import (
    "github.com/gin-gonic/gin"

    "github.com/feichai0017/casefolio/api/handlers"
    "github.com/feichai0017/casefolio/api/middleware"
    "github.com/feichai0017/casefolio/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
    // 全局中间件
    r.Use(middleware.CORS())
    r.Use(middleware.RequestLogger(log))

    // 健康检查
    r.GET("/health", h.Health.Check)

    // API 版本组
    v1 := r.Group("/api/v1")

    docs := v1.Group("/documents")
    {
        docs.POST("/upload", h.Document.Upload)
        docs.POST("/batch", h.Document.UploadBatch)
        docs.POST("/:documentId/process", h.Job.ProcessDocument)
    }

    jobs := v1.Group("/jobs")
    {
        jobs.GET("/active", h.Job.ListActive)
        jobs.GET("/:jobId", h.Job.GetStatus)
        jobs.GET("/:jobId/result", h.Job.GetResult)
        jobs.DELETE("/:jobId", h.Job.Cancel)
    }

    v1.POST("/cases/:caseId/reanalyze", h.Job.ReanalyzeCase)
}

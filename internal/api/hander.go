package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"economy_index/internal/models"
	"economy_index/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobRunner 可手动触发的任务
type JobRunner interface {
	Run(ctx context.Context, trigger string) (*models.JobRun, error)
	Running() bool
}

// Schedule 调度器的下一次执行时间
type Schedule interface {
	Entries() []time.Time
}

// Handler API 处理器
type Handler struct {
	job      JobRunner
	runs     service.RunStore
	schedule Schedule
	capturer service.Capturer
	logger   *zap.Logger
}

// NewHandler 创建处理器；capturer 为 nil 时截图接口返回 503
func NewHandler(job JobRunner, runs service.RunStore, schedule Schedule, capturer service.Capturer, logger *zap.Logger) *Handler {
	return &Handler{
		job:      job,
		runs:     runs,
		schedule: schedule,
		capturer: capturer,
		logger:   logger,
	}
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// 健康检查
		api.GET("/health", h.HealthCheck)

		jobs := api.Group("/jobs")
		{
			jobs.POST("/run", h.RunJob)
			jobs.GET("/runs", h.ListRuns)
		}

		api.POST("/screenshot", h.Screenshot)
	}
}

// HealthCheck 健康检查，附带任务状态和下次执行时间
func (h *Handler) HealthCheck(c *gin.Context) {
	state := "idle"
	if h.job.Running() {
		state = "running"
	}

	var nextRuns []time.Time
	if h.schedule != nil {
		nextRuns = h.schedule.Entries()
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "OK",
		Data: gin.H{
			"status":    "healthy",
			"job_state": state,
			"next_runs": nextRuns,
		},
	})
}

// RunJob 手动执行一次，同步返回执行记录
func (h *Handler) RunJob(c *gin.Context) {
	h.logger.Info("收到手动执行请求")

	run, err := h.job.Run(c.Request.Context(), models.TriggerManual)
	if errors.Is(err, service.ErrJobRunning) {
		c.JSON(http.StatusConflict, Response{
			Code:    409,
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: err.Error(),
			Data:    run,
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "执行成功",
		Data:    run,
	})
}

// ListRuns 最近的执行记录
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "参数错误: limit 必须为正整数",
		})
		return
	}

	runs, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("查询执行记录失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data: gin.H{
			"list":  runs,
			"total": len(runs),
		},
	})
}

// Screenshot 截取一次走势图
func (h *Handler) Screenshot(c *gin.Context) {
	if h.capturer == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:    503,
			Message: "截图功能未启用",
		})
		return
	}

	path, err := h.capturer.Capture(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "截图成功",
		Data:    gin.H{"path": path},
	})
}

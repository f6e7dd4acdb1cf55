package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/service"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, model.Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func fail(c *gin.Context, status int, message string, err error) {
	resp := model.ErrorResponse{
		Success: false,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
		_ = c.Error(err)
	}
	if status >= http.StatusInternalServerError && err != nil {
		report(c, err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// report 上报到 Sentry（未配置 DSN 时不做任何事）
func report(c *gin.Context, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(c.Request)
	if id := c.Param("id"); id != "" {
		hub.Scope().SetTag("session_id", id)
	}
	hub.CaptureException(err)
}

// failService 将 service 层错误映射为 HTTP 状态
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "会话不存在", err)
	case errors.Is(err, service.ErrSessionClosed):
		fail(c, http.StatusGone, "会话已结束", err)
	case errors.Is(err, service.ErrTooManySessions):
		fail(c, http.StatusServiceUnavailable, "会话数量已达上限，请稍后重试", err)
	case errors.Is(err, service.ErrInvalidKind), errors.Is(err, service.ErrInvalidDirection):
		fail(c, http.StatusBadRequest, "背景参数无效", err)
	case errors.Is(err, service.ErrAssetDecode):
		fail(c, http.StatusUnprocessableEntity, "背景图片无法解析", err)
	case errors.Is(err, service.ErrNoForeground), errors.Is(err, service.ErrNoFrame):
		fail(c, http.StatusConflict, "尚未生成合成结果", err)
	case errors.Is(err, service.ErrRemoval):
		fail(c, http.StatusBadGateway, "背景去除失败", err)
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "处理超时", err)
	default:
		utils.Logger.Error("unexpected service error", zap.Error(err))
		fail(c, http.StatusInternalServerError, "内部错误", err)
	}
}

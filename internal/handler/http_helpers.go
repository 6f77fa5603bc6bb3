package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/service"
	"github.com/sirupsen/logrus"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondMessage(c *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// writeServiceError 把服务层错误翻译为 HTTP 响应。诊断细节只写日志，
// 500 响应体固定为通用提示。
func (a *API) writeServiceError(c *gin.Context, err error, fields logrus.Fields) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "请求参数无效",
			"details": verr.Fields,
		})
	case errors.Is(err, service.ErrAuthenticationRequired):
		respondError(c, http.StatusUnauthorized, "请先登录")
	case errors.Is(err, service.ErrPermissionDenied):
		respondError(c, http.StatusForbidden, "没有权限执行该操作")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "内容不存在")
	case errors.Is(err, service.ErrConflict):
		respondError(c, http.StatusConflict, "标识冲突，请稍后重试")
	default:
		entry := a.logger.WithError(err).WithFields(fields).
			WithField("path", c.FullPath()).
			WithField("method", c.Request.Method)
		if errors.Is(err, service.ErrTransientStorage) {
			entry.Warn("transient storage failure")
		} else {
			entry.Error("request failed")
		}
		respondError(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// parseListQuery 同时支持 ?tags=a,b 与 ?tags=a&tags=b。
func parseListQuery(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

package utils

import (
	"net/http"

	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// 上下文中存放会话ID的 key
const OwnerIDKey = "ownerID"

// GetOwnerIDFromContext 从 Gin 上下文中获取并验证会话ID
// 如果获取失败或类型不正确，会中止请求并返回错误
func GetOwnerIDFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(OwnerIDKey)
	if !exists {
		xerr.AbortWithError(c, http.StatusUnauthorized, xerr.SessionInvalidCode, "Session not found in context")
		return "", false
	}
	ownerID, ok := v.(string)
	if !ok || ownerID == "" {
		xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "Invalid session type in context")
		return "", false
	}
	return ownerID, true
}

// ClientIP 限流使用的客户端标识
// 只有连接来自受信代理时 gin 才会采信 X-Forwarded-For / X-Real-IP
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

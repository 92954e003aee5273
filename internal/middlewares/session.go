package middlewares

import (
	"net/http"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionMiddleware 为每个浏览器维持一个匿名会话
// 会话ID写在签名的 Cookie 中，作为上传文件的 ownerId；缺失或无效时签发新会话
func SessionMiddleware(cfg config.SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 尝试从 Cookie 解析已有会话
		if token, err := c.Cookie(cfg.CookieName); err == nil && token != "" {
			sid, err := utils.ParseSessionToken(token, cfg.SecretKey, cfg.Issuer)
			if err == nil {
				c.Set(utils.OwnerIDKey, sid)
				c.Next()
				return
			}
			logger.Debug("会话 Cookie 无效，重新签发", zap.Error(err))
		}

		// 2. 签发新会话
		sid, err := utils.NewSessionID()
		if err != nil {
			logger.Error("生成会话ID失败", zap.Error(err))
			xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, xerr.ErrInternalServer.Error())
			return
		}
		token, err := utils.GenerateSessionToken(sid, cfg.SecretKey, cfg.Issuer, cfg.ExpiresIn, time.Now())
		if err != nil {
			logger.Error("签发会话 Token 失败", zap.Error(err))
			xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, xerr.ErrInternalServer.Error())
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cfg.CookieName, token, int(cfg.ExpiresIn/time.Second), "/", "", cfg.Secure, true)
		c.Set(utils.OwnerIDKey, sid)
		c.Next()
	}
}

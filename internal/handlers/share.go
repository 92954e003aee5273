package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PasswordHeader 下载受保护文件时也可以通过请求头传递密码
const PasswordHeader = "X-File-Password"

type ShareHandler struct {
	shareService share.ShareService
}

func NewShareHandler(shareService share.ShareService) *ShareHandler {
	return &ShareHandler{shareService: shareService}
}

// Download 通过分享链接下载文件
// @Summary 下载分享文件
// @Tags 分享
// @Produce octet-stream
// @Param id path string true "文件ID"
// @Param password query string false "访问密码"
// @Router /share/{id} [get]
func (h *ShareHandler) Download(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	password := c.GetHeader(PasswordHeader)
	if password == "" {
		password = c.Query("password")
	}

	rec, obj, err := h.shareService.Download(c.Request.Context(), id, password)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	defer obj.Reader.Close()

	c.Header("Content-Disposition", utils.ContentDisposition("attachment", rec.OriginalName))
	c.Header("Content-Type", obj.MimeType)
	c.Header("Cache-Control", "no-store")
	if obj.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, obj.Reader); err != nil {
		// 响应头已发送，只能记录
		logger.Warn("Download: 传输文件内容中断", zap.String("id", id), zap.Error(err))
	}
}

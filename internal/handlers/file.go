package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipart 表单除文件外的额外开销
const multipartOverhead = 1 << 20

type FileHandler struct {
	shareService share.ShareService
	upload       config.UploadConfig
}

func NewFileHandler(shareService share.ShareService, upload config.UploadConfig) *FileHandler {
	return &FileHandler{
		shareService: shareService,
		upload:       upload,
	}
}

type UpdateFileRequest struct {
	OriginalName *string    `json:"originalName"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type ExtendRequest struct {
	Minutes int `json:"minutes" binding:"required"`
}

type VerifyPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// fileID 读取并校验路径中的文件ID，格式不合法的ID按不存在处理
func fileID(c *gin.Context) (string, bool) {
	id := strings.ToLower(c.Param("id"))
	if !utils.IsValidFileID(id) {
		xerr.Respond(c, xerr.ErrNotFound)
		return "", false
	}
	return id, true
}

// redact 非所有者看不到受密码保护文件的直链
func redact(view *models.FileView, ownerID string) *models.FileView {
	if view == nil || !view.PasswordProtected || view.OwnerID == ownerID {
		return view
	}
	rec := *view.FileRecord
	rec.URL = ""
	out := *view
	out.FileRecord = &rec
	return &out
}

// Upload handles multipart file upload.
// @Summary 上传文件
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文件"
// @Param password formData string false "访问密码"
// @Param ttl formData int false "有效期 (分钟)"
// @Param encrypted formData bool false "客户端已加密"
// @Success 201 {object} xerr.Response
// @Router /api/v1/files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	ownerID, ok := utils.GetOwnerIDFromContext(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxFileSize+multipartOverhead)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			xerr.Respond(c, xerr.ErrFileTooLarge)
			return
		}
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "未提供文件: "+err.Error())
		return
	}

	ttl := 0
	if raw := c.PostForm("ttl"); raw != "" {
		ttl, err = strconv.Atoi(raw)
		if err != nil {
			xerr.Respond(c, xerr.ErrInvalidTTL)
			return
		}
	}
	encrypted, _ := strconv.ParseBool(c.PostForm("encrypted"))

	src, err := fileHeader.Open()
	if err != nil {
		logger.Error("Upload: 打开上传文件失败", zap.Error(err))
		xerr.Respond(c, err)
		return
	}
	defer src.Close()

	view, err := h.shareService.Upload(c.Request.Context(), share.UploadInput{
		OwnerID:      ownerID,
		Filename:     fileHeader.Filename,
		Size:         fileHeader.Size,
		DeclaredType: fileHeader.Header.Get("Content-Type"),
		Content:      src,
		Password:     c.PostForm("password"),
		TTLMinutes:   ttl,
		Encrypted:    encrypted,
	})
	if err != nil {
		xerr.Respond(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	xerr.Success(c, http.StatusCreated, "上传成功", view)
}

// List 列出当前会话上传的文件
// @Router /api/v1/files [get]
func (h *FileHandler) List(c *gin.Context) {
	ownerID, ok := utils.GetOwnerIDFromContext(c)
	if !ok {
		return
	}
	views, err := h.shareService.List(c.Request.Context(), ownerID)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取文件列表成功", views)
}

// Get 按ID获取文件信息，任何持有链接的人都可以访问
// @Router /api/v1/files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	view, err := h.shareService.Get(c.Request.Context(), id)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	ownerID, _ := c.Get(utils.OwnerIDKey)
	sid, _ := ownerID.(string)
	xerr.Success(c, http.StatusOK, "获取文件信息成功", redact(view, sid))
}

// Update 修改显示名称或过期时间
// @Router /api/v1/files/{id} [patch]
func (h *FileHandler) Update(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	ownerID, ok := utils.GetOwnerIDFromContext(c)
	if !ok {
		return
	}
	var req UpdateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	view, err := h.shareService.Update(c.Request.Context(), id, models.FilePatch{
		OriginalName: req.OriginalName,
		ExpiresAt:    req.ExpiresAt,
	}, ownerID)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	xerr.Success(c, http.StatusOK, "更新成功", view)
}

// Extend 延长过期时间
// @Router /api/v1/files/{id}/extend [post]
func (h *FileHandler) Extend(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	ownerID, ok := utils.GetOwnerIDFromContext(c)
	if !ok {
		return
	}
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	view, err := h.shareService.Extend(c.Request.Context(), id, req.Minutes, ownerID)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	xerr.Success(c, http.StatusOK, "续期成功", view)
}

// Delete 删除文件
// 服务层对 "不存在" 与 "非所有者" 都返回 false，这里再查一次以便客户端区分
// @Router /api/v1/files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	ownerID, ok := utils.GetOwnerIDFromContext(c)
	if !ok {
		return
	}

	deleted, err := h.shareService.Delete(c.Request.Context(), id, ownerID)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	if !deleted {
		if _, err := h.shareService.Get(c.Request.Context(), id); err == nil {
			xerr.Respond(c, xerr.ErrUnauthorized)
		} else {
			xerr.Respond(c, err)
		}
		return
	}
	xerr.Success(c, http.StatusOK, "删除成功", gin.H{"deleted": true})
}

// VerifyPassword 校验文件密码
// @Router /api/v1/files/{id}/verify-password [post]
func (h *FileHandler) VerifyPassword(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	var req VerifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Respond(c, xerr.ErrEmptyInput)
		return
	}

	valid, err := h.shareService.VerifyPassword(c.Request.Context(), id, req.Password)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	if !valid {
		xerr.Respond(c, xerr.ErrPasswordIncorrect)
		return
	}
	xerr.Success(c, http.StatusOK, "密码正确", gin.H{"valid": true})
}

// RecordDownload 下载次数加一，不校验所有者
// @Router /api/v1/files/{id}/downloads [post]
func (h *FileHandler) RecordDownload(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	count, err := h.shareService.RecordDownload(c.Request.Context(), id)
	if err != nil {
		xerr.Respond(c, err)
		return
	}
	xerr.Success(c, http.StatusOK, "ok", gin.H{"downloadCount": count})
}

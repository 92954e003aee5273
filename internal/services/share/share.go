package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/services/lifecycle"
	"go.uber.org/zap"
)

// 生成ID时的最大碰撞重试次数
const maxIDAttempts = 5

// ShareService 定义了文件分享服务需要实现的接口
type ShareService interface {
	// Upload 保存文件内容与元数据并返回分享视图
	Upload(ctx context.Context, in UploadInput) (*models.FileView, error)
	// Get 按ID获取文件信息，不校验所有者
	Get(ctx context.Context, id string) (*models.FileView, error)
	// List 列出会话上传的全部未过期文件
	List(ctx context.Context, ownerID string) ([]*models.FileView, error)
	// Update 修改显示名称或过期时间，仅所有者可操作
	Update(ctx context.Context, id string, patch models.FilePatch, ownerID string) (*models.FileView, error)
	// Extend 延长过期时间，仅所有者可操作
	Extend(ctx context.Context, id string, extraMinutes int, ownerID string) (*models.FileView, error)
	// Delete 删除文件，记录不存在或所有者不匹配时返回 false
	Delete(ctx context.Context, id, ownerID string) (bool, error)
	// VerifyPassword 校验文件密码
	VerifyPassword(ctx context.Context, id, password string) (bool, error)
	// RecordDownload 下载次数加一并返回新的次数
	RecordDownload(ctx context.Context, id string) (int64, error)
	// Download 校验密码后打开文件内容，调用方负责关闭 Reader
	Download(ctx context.Context, id, password string) (*models.FileRecord, storage.GetObjectResult, error)
}

// MetadataStore 分享服务依赖的元数据操作，由 metadata.Store 实现
type MetadataStore interface {
	Put(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error)
	Update(ctx context.Context, id string, patch models.FilePatch, ownerID string) (*models.FileRecord, error)
	IncrementDownloadCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id, ownerID string) (bool, error)
	VerifyPassword(ctx context.Context, id, password string) (bool, error)
}

// Blobs 文件内容存储，由 storage.BlobStore 实现
type Blobs interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, url string) (storage.GetObjectResult, error)
	Delete(ctx context.Context, url string) error
}

// UploadInput 一次上传请求
type UploadInput struct {
	OwnerID      string
	Filename     string
	Size         int64
	DeclaredType string
	Content      io.Reader
	Password     string
	TTLMinutes   int
	Encrypted    bool
}

type shareService struct {
	store     MetadataStore
	blobs     Blobs
	lifecycle *lifecycle.Coordinator
	upload    config.UploadConfig
	baseURL   string
	now       func() time.Time
	newID     func() (string, error)
}

// NewShareService 创建一个新的 ShareService 实例
func NewShareService(store MetadataStore, blobs Blobs, lc *lifecycle.Coordinator, upload config.UploadConfig, publicBaseURL string) ShareService {
	return &shareService{
		store:     store,
		blobs:     blobs,
		lifecycle: lc,
		upload:    upload,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		now:       time.Now,
		newID:     utils.NewFileID,
	}
}

// ShareURL 返回文件的分享链接
func ShareURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/" + id
}

func (s *shareService) view(rec *models.FileRecord) *models.FileView {
	return s.lifecycle.View(rec, ShareURL(s.baseURL, rec.ID))
}

// validate 检查上传参数，返回最终使用的 MIME 类型
func (s *shareService) validate(in UploadInput) (string, error) {
	if in.OwnerID == "" {
		return "", xerr.ErrSessionInvalid
	}
	if in.Content == nil {
		return "", xerr.Validation("no file provided")
	}
	name := strings.TrimSpace(in.Filename)
	if name == "" || len(name) > 255 {
		return "", xerr.NewCodeError(xerr.FileNameInvalidCode, xerr.Validation("invalid file name"))
	}
	if in.Size < 0 {
		return "", xerr.Validation("size must not be negative")
	}
	if in.Size > s.upload.MaxFileSize {
		return "", fmt.Errorf("%d bytes exceeds %d: %w", in.Size, s.upload.MaxFileSize, xerr.ErrFileTooLarge)
	}
	if utils.ExtensionBlocked(name, s.upload.BlockedExtensions) {
		return "", fmt.Errorf("extension %s: %w", utils.FileExt(name), xerr.ErrFileTypeNotAllowed)
	}
	mimeType := utils.ResolveMimeType(in.DeclaredType, name)
	if !utils.MimeAllowed(mimeType, s.upload.AllowedMimePrefixes) {
		return "", fmt.Errorf("mime type %s: %w", mimeType, xerr.ErrFileTypeNotAllowed)
	}
	if in.Password != "" && len([]rune(in.Password)) < s.upload.MinPasswordLength {
		return "", xerr.Validation("password must be at least %d characters", s.upload.MinPasswordLength)
	}
	if in.TTLMinutes < 0 {
		return "", fmt.Errorf("ttl %d: %w", in.TTLMinutes, xerr.ErrInvalidTTL)
	}
	return mimeType, nil
}

// allocateID 生成一个在两个后端中都未被占用的ID
func (s *shareService) allocateID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", err
		}
		exists, err := s.store.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		logger.Warn("文件ID碰撞，重新生成", zap.String("id", id), zap.Int("attempt", attempt))
	}
	return "", xerr.ErrIDExhausted
}

func (s *shareService) Upload(ctx context.Context, in UploadInput) (*models.FileView, error) {
	mimeType, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	id, err := s.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	// 1. 先上传文件内容
	filename := id + utils.FileExt(in.Filename)
	url, err := s.blobs.Upload(ctx, storage.ObjectKey(filename), in.Content, in.Size, mimeType)
	if err != nil {
		logger.Error("Upload: 上传文件内容失败", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("upload blob %s: %v: %w", filename, err, xerr.ErrStorage)
	}

	// 2. 再写入元数据
	now := s.now()
	expiresAt := s.lifecycle.ComputeExpiry(now, in.TTLMinutes)
	rec := &models.FileRecord{
		ID:           id,
		Filename:     filename,
		OriginalName: strings.TrimSpace(in.Filename),
		Size:         in.Size,
		MimeType:     mimeType,
		URL:          url,
		UploadedAt:   now,
		OwnerID:      in.OwnerID,
		ExpiresAt:    &expiresAt,
		Encrypted:    in.Encrypted,
		Password:     in.Password,
	}
	if in.Password != "" {
		rec.PasswordProtected = true
	}

	stored, err := s.store.Put(ctx, rec)
	if err != nil {
		// 元数据写入失败时删除已上传的内容，避免留下孤儿对象
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), url); derr != nil {
			logger.Error("Upload: 回滚文件内容失败，对象成为孤儿", zap.String("url", url), zap.Error(derr))
		}
		return nil, err
	}

	logger.Info("Upload: 文件上传成功",
		zap.String("id", stored.ID),
		zap.String("owner", stored.OwnerID),
		zap.Int64("size", stored.Size),
		zap.Bool("passwordProtected", stored.PasswordProtected))
	return s.view(stored), nil
}

func (s *shareService) Get(ctx context.Context, id string) (*models.FileView, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(rec), nil
}

func (s *shareService) List(ctx context.Context, ownerID string) ([]*models.FileView, error) {
	recs, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]*models.FileView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.view(rec))
	}
	return views, nil
}

func (s *shareService) Update(ctx context.Context, id string, patch models.FilePatch, ownerID string) (*models.FileView, error) {
	rec, err := s.store.Update(ctx, id, patch, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(rec), nil
}

func (s *shareService) Extend(ctx context.Context, id string, extraMinutes int, ownerID string) (*models.FileView, error) {
	rec, err := s.lifecycle.Extend(ctx, id, extraMinutes, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(rec), nil
}

func (s *shareService) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	return s.store.Delete(ctx, id, ownerID)
}

func (s *shareService) VerifyPassword(ctx context.Context, id, password string) (bool, error) {
	return s.store.VerifyPassword(ctx, id, password)
}

func (s *shareService) RecordDownload(ctx context.Context, id string) (int64, error) {
	return s.store.IncrementDownloadCount(ctx, id)
}

func (s *shareService) Download(ctx context.Context, id, password string) (*models.FileRecord, storage.GetObjectResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storage.GetObjectResult{}, err
	}

	if rec.PasswordProtected {
		if password == "" {
			return nil, storage.GetObjectResult{}, xerr.ErrPasswordRequired
		}
		ok, err := s.store.VerifyPassword(ctx, id, password)
		if err != nil {
			return nil, storage.GetObjectResult{}, err
		}
		if !ok {
			return nil, storage.GetObjectResult{}, xerr.ErrPasswordIncorrect
		}
	}

	obj, err := s.blobs.Open(ctx, rec.URL)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			logger.Error("Download: 元数据存在但文件内容缺失", zap.String("id", id), zap.String("url", rec.URL))
			return nil, storage.GetObjectResult{}, fmt.Errorf("blob for %s missing: %w", id, xerr.ErrStorageInconsistency)
		}
		return nil, storage.GetObjectResult{}, fmt.Errorf("open blob %s: %v: %w", id, err, xerr.ErrStorage)
	}

	// 计数失败不影响下载
	if _, err := s.RecordDownload(ctx, id); err != nil {
		logger.Warn("Download: 更新下载次数失败", zap.String("id", id), zap.Error(err))
	}
	if obj.MimeType == "" {
		obj.MimeType = rec.MimeType
	}
	return rec, obj, nil
}

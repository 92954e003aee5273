package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/models"
)

// ErrRecordNotFound 后端中不存在该记录
var ErrRecordNotFound = errors.New("record not found")

// Backend 是元数据存储后端的统一接口
// 主后端 (redis / mysql / elasticsearch) 与本地回退后端 (bbolt) 都实现它
type Backend interface {
	// Name 用于日志与指标
	Name() string
	// Put 写入完整记录，已存在时覆盖
	Put(ctx context.Context, rec *models.FileRecord) error
	// Get 按ID读取，不存在返回 ErrRecordNotFound
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	// Update 局部更新，不存在返回 ErrRecordNotFound
	Update(ctx context.Context, id string, patch Patch) error
	// IncrementDownloads 原子地将下载次数加一，不存在返回 ErrRecordNotFound
	IncrementDownloads(ctx context.Context, id string) error
	// Delete 存在则删除，返回是否删除了记录
	Delete(ctx context.Context, id string) (bool, error)
	// Query 按条件查询，OwnerID 为空时返回全部记录
	Query(ctx context.Context, filter Filter) ([]*models.FileRecord, error)
	// Ping 健康检查
	Ping(ctx context.Context) error
}

// Patch 后端层面的局部更新，包含业务层不对外开放的密码字段
type Patch struct {
	OriginalName   *string
	ExpiresAt      *time.Time
	PasswordHash   *string
	PasswordScheme *string
}

func (p Patch) IsEmpty() bool {
	return p.OriginalName == nil && p.ExpiresAt == nil && p.PasswordHash == nil && p.PasswordScheme == nil
}

// Apply 将补丁应用到内存中的记录
func (p Patch) Apply(rec *models.FileRecord) {
	if p.OriginalName != nil {
		rec.OriginalName = *p.OriginalName
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		rec.ExpiresAt = &t
	}
	if p.PasswordHash != nil {
		rec.PasswordHash = *p.PasswordHash
	}
	if p.PasswordScheme != nil {
		rec.PasswordScheme = *p.PasswordScheme
	}
}

// PatchFromFile 将对外开放的 FilePatch 转换为后端补丁
func PatchFromFile(fp models.FilePatch) Patch {
	return Patch{OriginalName: fp.OriginalName, ExpiresAt: fp.ExpiresAt}
}

// SecretPatch 用于密码升级后的写回
func SecretPatch(s models.PasswordSecret) Patch {
	hash, scheme := s.Value(), s.Scheme()
	return Patch{PasswordHash: &hash, PasswordScheme: &scheme}
}

type Filter struct {
	OwnerID string
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 仅在记录存在时写入字段，避免 HSET 凭空创建半条记录
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

var incrIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'download_count', 1)
`)

// RedisBackend 每条记录存为一个 hash，另用两个 set 维护所有者索引与全量索引
type RedisBackend struct {
	cache  cache.Cache
	prefix string
}

func NewRedisBackend(c cache.Cache, prefix string) *RedisBackend {
	return &RedisBackend{cache: c, prefix: prefix}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Put(ctx context.Context, rec *models.FileRecord) error {
	key := cache.FileKey(r.prefix, rec.ID)
	pipe := r.cache.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, toHash(rec))
	pipe.SAdd(ctx, cache.OwnerFilesKey(r.prefix, rec.OwnerID), rec.ID)
	pipe.SAdd(ctx, cache.AllFilesKey(r.prefix), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 文件记录失败: %w", err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	fields, err := r.cache.HGetAll(ctx, cache.FileKey(r.prefix, id))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return fromHash(fields)
}

func (r *RedisBackend) Update(ctx context.Context, id string, patch Patch) error {
	args := make([]any, 0, 8)
	if patch.OriginalName != nil {
		args = append(args, "original_name", *patch.OriginalName)
	}
	if patch.ExpiresAt != nil {
		args = append(args, "expires_at", formatTime(*patch.ExpiresAt))
	}
	if patch.PasswordHash != nil {
		args = append(args, "password_hash", *patch.PasswordHash)
	}
	if patch.PasswordScheme != nil {
		args = append(args, "password_scheme", *patch.PasswordScheme)
	}

	val, err := r.cache.RunScript(ctx, updateIfExists, []string{cache.FileKey(r.prefix, id)}, args...)
	if err != nil {
		return err
	}
	if n, _ := val.(int64); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *RedisBackend) IncrementDownloads(ctx context.Context, id string) error {
	val, err := r.cache.RunScript(ctx, incrIfExists, []string{cache.FileKey(r.prefix, id)})
	if err != nil {
		return err
	}
	if n, _ := val.(int64); n < 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, id string) (bool, error) {
	key := cache.FileKey(r.prefix, id)
	owner, err := r.cache.HGet(ctx, key, "owner_id")
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			// 记录已不存在，顺手清理全量索引中的残留
			_ = r.cache.SRem(ctx, cache.AllFilesKey(r.prefix), id)
			return false, nil
		}
		return false, err
	}

	pipe := r.cache.TxPipeline()
	del := pipe.Del(ctx, key)
	pipe.SRem(ctx, cache.OwnerFilesKey(r.prefix, owner), id)
	pipe.SRem(ctx, cache.AllFilesKey(r.prefix), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("删除 Redis 文件记录失败: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisBackend) Query(ctx context.Context, filter Filter) ([]*models.FileRecord, error) {
	indexKey := cache.AllFilesKey(r.prefix)
	if filter.OwnerID != "" {
		indexKey = cache.OwnerFilesKey(r.prefix, filter.OwnerID)
	}
	ids, err := r.cache.SMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.cache.TxPipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, cache.FileKey(r.prefix, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("批量读取 Redis 文件记录失败: %w", err)
	}

	recs := make([]*models.FileRecord, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := fromHash(fields)
		if err != nil {
			logger.Warn("跳过无法解析的 Redis 文件记录", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	if len(stale) > 0 {
		_ = r.cache.SRem(ctx, indexKey, stale...)
	}
	return recs, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.cache.Ping(ctx)
}

func toHash(rec *models.FileRecord) map[string]any {
	expires := ""
	if rec.ExpiresAt != nil {
		expires = formatTime(*rec.ExpiresAt)
	}
	return map[string]any{
		"id":                 rec.ID,
		"filename":           rec.Filename,
		"original_name":      rec.OriginalName,
		"size":               rec.Size,
		"mime_type":          rec.MimeType,
		"url":                rec.URL,
		"uploaded_at":        formatTime(rec.UploadedAt),
		"download_count":     rec.DownloadCount,
		"owner_id":           rec.OwnerID,
		"expires_at":         expires,
		"password_protected": strconv.FormatBool(rec.PasswordProtected),
		"password_hash":      rec.PasswordHash,
		"password_scheme":    rec.PasswordScheme,
		"encrypted":          strconv.FormatBool(rec.Encrypted),
	}
}

func fromHash(h map[string]string) (*models.FileRecord, error) {
	rec := &models.FileRecord{
		ID:             h["id"],
		Filename:       h["filename"],
		OriginalName:   h["original_name"],
		MimeType:       h["mime_type"],
		URL:            h["url"],
		OwnerID:        h["owner_id"],
		PasswordHash:   h["password_hash"],
		PasswordScheme: h["password_scheme"],
	}
	var err error
	if rec.Size, err = parseInt(h["size"]); err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	if rec.DownloadCount, err = parseInt(h["download_count"]); err != nil {
		return nil, fmt.Errorf("download_count: %w", err)
	}
	if rec.UploadedAt, err = time.Parse(time.RFC3339Nano, h["uploaded_at"]); err != nil {
		return nil, fmt.Errorf("uploaded_at: %w", err)
	}
	if v := h["expires_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("expires_at: %w", err)
		}
		rec.ExpiresAt = &t
	}
	rec.PasswordProtected, _ = strconv.ParseBool(h["password_protected"])
	rec.Encrypted, _ = strconv.ParseBool(h["encrypted"])
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

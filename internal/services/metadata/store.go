// Package metadata 管理文件记录的完整生命周期
//
// 记录优先写入主后端，主后端不可用时写入本地回退后端。两个后端之间
// 不做对账：故障期间写入回退后端的记录在恢复后依然只存在于回退后端，
// 读路径会依次查询两者。
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/metrics"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPurgeTimeout = 30 * time.Second
	maxNameLength       = 255
)

// BlobDeleter 删除文件内容，对象不存在时应返回 nil
type BlobDeleter interface {
	Delete(ctx context.Context, url string) error
}

type Options struct {
	DefaultTTL  time.Duration    // ExpiresAt 缺省时的有效期
	MaxLifetime time.Duration    // Update 允许设置的最远过期时间 (相对当前)，0 表示不限制
	Timeout     time.Duration    // 单次后端调用超时，0 表示不限制
	Now         func() time.Time // 时钟，测试中替换
	Guard       *utils.PasswordGuard
}

// Entry 一条记录及其所在的后端
type Entry struct {
	Record  *models.FileRecord
	Backend repositories.Backend
}

// Store 组合主后端与回退后端的元数据存储
type Store struct {
	primary  repositories.Backend
	fallback repositories.Backend
	blobs    BlobDeleter
	guard    *utils.PasswordGuard

	ttl         time.Duration
	maxLifetime time.Duration
	timeout     time.Duration
	now         func() time.Time

	purges singleflight.Group
	wg     sync.WaitGroup
}

func NewStore(primary, fallback repositories.Backend, blobs BlobDeleter, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Guard == nil {
		opts.Guard = utils.NewPasswordGuard(utils.MinBcryptCost)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	return &Store{
		primary:     primary,
		fallback:    fallback,
		blobs:       blobs,
		guard:       opts.Guard,
		ttl:         opts.DefaultTTL,
		maxLifetime: opts.MaxLifetime,
		timeout:     opts.Timeout,
		now:         opts.Now,
	}
}

// Put 写入完整记录，返回最终落盘的记录
// 主后端写入失败时降级写入回退后端，只有两者都失败才返回 ErrBackendUnavailable
func (s *Store) Put(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	if rec == nil || rec.ID == "" {
		return nil, xerr.Validation("record id is required")
	}
	if rec.OwnerID == "" {
		return nil, xerr.Validation("owner id is required")
	}
	if rec.Size < 0 {
		return nil, xerr.Validation("size must not be negative")
	}

	stored := *rec
	stored.Password = ""
	now := s.now()
	if stored.UploadedAt.IsZero() {
		stored.UploadedAt = now
	}
	if stored.ExpiresAt == nil {
		exp := now.Add(s.ttl)
		stored.ExpiresAt = &exp
	}
	if err := s.ingestPassword(&stored, rec.Password); err != nil {
		return nil, err
	}

	perr := s.call(ctx, func(ctx context.Context) error { return s.primary.Put(ctx, &stored) })
	if perr == nil {
		return &stored, nil
	}

	logger.Warn("主元数据后端写入失败，降级写入回退后端",
		zap.String("id", stored.ID),
		zap.String("primary", s.primary.Name()),
		zap.Error(perr))
	metrics.FallbackTotal.WithLabelValues("put").Inc()

	ferr := s.call(ctx, func(ctx context.Context) error { return s.fallback.Put(ctx, &stored) })
	if ferr != nil {
		logger.Error("回退元数据后端写入失败",
			zap.String("id", stored.ID),
			zap.String("fallback", s.fallback.Name()),
			zap.Error(ferr))
		return nil, fmt.Errorf("put %s: primary: %v, fallback: %v: %w", stored.ID, perr, ferr, xerr.ErrBackendUnavailable)
	}
	return &stored, nil
}

// ingestPassword 保证落盘的只有哈希形态，已是 bcrypt 格式的输入原样保留
func (s *Store) ingestPassword(rec *models.FileRecord, raw string) error {
	switch {
	case raw != "":
		secret, err := s.guard.Ingest(raw)
		if err != nil {
			return err
		}
		rec.SetSecret(secret)
	case rec.PasswordHash != "":
		secret, err := s.guard.Ingest(rec.PasswordHash)
		if err != nil {
			return err
		}
		rec.SetSecret(secret)
	case rec.PasswordProtected:
		return xerr.Validation("password protected record requires a password")
	default:
		rec.ClearSecret()
	}
	return nil
}

// Get 按ID读取记录，已过期的记录返回 ErrNotFound 并在后台删除
func (s *Store) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	entry, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.Record, nil
}

// Exists 判断ID是否已被占用，包括已过期但尚未删除的记录
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.locate(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, xerr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ListByOwner 返回所有者的未过期记录，按上传时间倒序
// 两个后端并行查询后合并，单个后端失败只记录日志
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	if ownerID == "" {
		return nil, xerr.Validation("owner id is required")
	}
	entries, err := s.query(ctx, repositories.Filter{OwnerID: ownerID}, "list")
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]*models.FileRecord, 0, len(entries))
	for _, e := range entries {
		if e.Record.IsExpired(now) {
			s.schedulePurge(e)
			continue
		}
		out = append(out, e.Record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// Scan 返回两个后端中的全部记录 (含已过期)，供清理任务使用
func (s *Store) Scan(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, repositories.Filter{}, "scan")
}

// Update 仅允许所有者修改显示名称与过期时间
func (s *Store) Update(ctx context.Context, id string, patch models.FilePatch, ownerID string) (*models.FileRecord, error) {
	if patch.IsEmpty() {
		return nil, xerr.Validation("nothing to update")
	}
	if patch.OriginalName != nil {
		name := strings.TrimSpace(*patch.OriginalName)
		if name == "" || len(name) > maxNameLength {
			return nil, xerr.Validation("name must be 1-%d characters", maxNameLength)
		}
		patch.OriginalName = &name
	}
	now := s.now()
	if patch.ExpiresAt != nil {
		if !patch.ExpiresAt.After(now) {
			return nil, fmt.Errorf("expiresAt must be in the future: %w", xerr.ErrInvalidTTL)
		}
		if s.maxLifetime > 0 && patch.ExpiresAt.After(now.Add(s.maxLifetime)) {
			return nil, fmt.Errorf("expiresAt exceeds maximum lifetime %s: %w", s.maxLifetime, xerr.ErrInvalidTTL)
		}
	}

	entry, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Record.OwnerID != ownerID {
		return nil, fmt.Errorf("update %s: %w", id, xerr.ErrUnauthorized)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return entry.Backend.Update(ctx, id, repositories.PatchFromFile(patch))
	})
	if err != nil {
		return nil, s.backendErr("update", id, entry.Backend, err)
	}

	updated := *entry.Record
	patch.Apply(&updated)
	logger.Info("文件记录已更新", zap.String("id", id), zap.String("backend", entry.Backend.Name()))
	return &updated, nil
}

// IncrementDownloadCount 下载次数加一，不校验所有者
// 这是修改下载次数的唯一入口
func (s *Store) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	entry, err := s.live(ctx, id)
	if err != nil {
		return 0, err
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return entry.Backend.IncrementDownloads(ctx, id)
	})
	if err != nil {
		return 0, s.backendErr("increment", id, entry.Backend, err)
	}
	return entry.Record.DownloadCount + 1, nil
}

// Delete 所有者删除记录及其文件内容
// 记录不存在或所有者不匹配时返回 false 而不是错误
func (s *Store) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	entry, err := s.locate(ctx, id)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if entry.Record.OwnerID != ownerID {
		logger.Warn("拒绝非所有者的删除请求", zap.String("id", id))
		return false, nil
	}
	return s.Purge(ctx, entry)
}

// Purge 删除文件内容与元数据，可重复调用
// 文件内容删除失败不阻塞元数据删除；元数据删除失败时返回 ErrStorageInconsistency
func (s *Store) Purge(ctx context.Context, e Entry) (bool, error) {
	rec := e.Record
	if rec.URL != "" && s.blobs != nil {
		if err := s.call(ctx, func(ctx context.Context) error { return s.blobs.Delete(ctx, rec.URL) }); err != nil {
			logger.Warn("删除文件内容失败，继续删除元数据", zap.String("id", rec.ID), zap.String("url", rec.URL), zap.Error(err))
		}
	}

	var deleted bool
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = e.Backend.Delete(ctx, rec.ID)
		return err
	})
	if err != nil {
		logger.Error("文件内容已删除但元数据删除失败",
			zap.String("id", rec.ID),
			zap.String("backend", e.Backend.Name()),
			zap.Error(err))
		return false, fmt.Errorf("delete %s from %s: %v: %w", rec.ID, e.Backend.Name(), err, xerr.ErrStorageInconsistency)
	}
	if deleted {
		logger.Info("文件记录已删除", zap.String("id", rec.ID), zap.String("backend", e.Backend.Name()))
	}
	return deleted, nil
}

// VerifyPassword 校验文件密码，未设置密码的文件总是通过
// 旧明文密码校验成功后立即写回 bcrypt 哈希
func (s *Store) VerifyPassword(ctx context.Context, id, password string) (bool, error) {
	entry, err := s.live(ctx, id)
	if err != nil {
		return false, err
	}
	secret, protected := entry.Record.Secret()
	if !protected {
		return true, nil
	}
	if secret.IsLegacy() {
		logger.Warn("legacy plaintext password compared, record pending migration", zap.String("id", id))
	}
	if !s.guard.Verify(password, secret) {
		return false, nil
	}
	if s.guard.NeedsRehash(secret) {
		if _, err := s.rehash(ctx, entry, password); err != nil {
			logger.Warn("密码升级写回失败", zap.String("id", id), zap.Error(err))
		}
	}
	return true, nil
}

// MigrateLegacy 将旧明文密码哈希后写回，返回是否发生了迁移
func (s *Store) MigrateLegacy(ctx context.Context, e Entry) (bool, error) {
	secret, protected := e.Record.Secret()
	if !protected || !secret.IsLegacy() {
		return false, nil
	}
	return s.rehash(ctx, e, secret.Value())
}

func (s *Store) rehash(ctx context.Context, e Entry, plain string) (bool, error) {
	hashed, err := s.guard.Hash(plain)
	if err != nil {
		return false, err
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return e.Backend.Update(ctx, e.Record.ID, repositories.SecretPatch(hashed))
	})
	if err != nil {
		return false, s.backendErr("rehash", e.Record.ID, e.Backend, err)
	}
	e.Record.SetSecret(hashed)
	metrics.LegacyRehashTotal.Inc()
	return true, nil
}

// Ping 检查两个后端的连通性
func (s *Store) Ping(ctx context.Context) map[string]error {
	var mu sync.Mutex
	result := make(map[string]error, 2)
	var g errgroup.Group
	for _, b := range []repositories.Backend{s.primary, s.fallback} {
		g.Go(func() error {
			err := s.call(ctx, b.Ping)
			mu.Lock()
			result[b.Name()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// Wait 等待所有后台删除任务结束
func (s *Store) Wait() {
	s.wg.Wait()
}

// live 定位记录并执行惰性过期
func (s *Store) live(ctx context.Context, id string) (Entry, error) {
	entry, err := s.locate(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if entry.Record.IsExpired(s.now()) {
		metrics.LazyExpiryTotal.Inc()
		s.schedulePurge(entry)
		return Entry{}, fmt.Errorf("%s expired: %w", id, xerr.ErrNotFound)
	}
	return entry, nil
}

// locate 先查主后端，主后端出错或未命中时查回退后端
func (s *Store) locate(ctx context.Context, id string) (Entry, error) {
	var rec *models.FileRecord
	perr := s.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.primary.Get(ctx, id)
		return err
	})
	if perr == nil {
		return Entry{Record: rec, Backend: s.primary}, nil
	}
	primaryDown := !errors.Is(perr, repositories.ErrRecordNotFound)
	if primaryDown {
		logger.Warn("主元数据后端读取失败，尝试回退后端", zap.String("id", id), zap.Error(perr))
		metrics.FallbackTotal.WithLabelValues("get").Inc()
	}

	ferr := s.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.fallback.Get(ctx, id)
		return err
	})
	if ferr == nil {
		return Entry{Record: rec, Backend: s.fallback}, nil
	}
	if errors.Is(ferr, repositories.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("%s: %w", id, xerr.ErrNotFound)
	}
	if primaryDown {
		return Entry{}, fmt.Errorf("get %s: primary: %v, fallback: %v: %w", id, perr, ferr, xerr.ErrBackendUnavailable)
	}
	// 主后端明确未命中，回退后端故障时按未找到处理
	logger.Warn("回退元数据后端读取失败", zap.String("id", id), zap.Error(ferr))
	return Entry{}, fmt.Errorf("%s: %w", id, xerr.ErrNotFound)
}

// query 并行查询两个后端并按ID去重，主后端优先
func (s *Store) query(ctx context.Context, filter repositories.Filter, op string) ([]Entry, error) {
	var primaryRecs, fallbackRecs []*models.FileRecord
	var perr, ferr error

	var g errgroup.Group
	g.Go(func() error {
		perr = s.call(ctx, func(ctx context.Context) error {
			var err error
			primaryRecs, err = s.primary.Query(ctx, filter)
			return err
		})
		return nil
	})
	g.Go(func() error {
		ferr = s.call(ctx, func(ctx context.Context) error {
			var err error
			fallbackRecs, err = s.fallback.Query(ctx, filter)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if perr != nil && ferr != nil {
		return nil, fmt.Errorf("%s: primary: %v, fallback: %v: %w", op, perr, ferr, xerr.ErrBackendUnavailable)
	}
	if perr != nil {
		logger.Warn("主元数据后端查询失败，仅返回回退后端结果", zap.String("op", op), zap.Error(perr))
		metrics.FallbackTotal.WithLabelValues(op).Inc()
	}
	if ferr != nil {
		logger.Warn("回退元数据后端查询失败", zap.String("op", op), zap.Error(ferr))
	}

	seen := make(map[string]struct{}, len(primaryRecs)+len(fallbackRecs))
	entries := make([]Entry, 0, len(primaryRecs)+len(fallbackRecs))
	for _, r := range primaryRecs {
		seen[r.ID] = struct{}{}
		entries = append(entries, Entry{Record: r, Backend: s.primary})
	}
	for _, r := range fallbackRecs {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		entries = append(entries, Entry{Record: r, Backend: s.fallback})
	}
	return entries, nil
}

// schedulePurge 在后台删除过期记录，同一ID的并发删除只执行一次
// 使用独立的 context，不受请求取消影响
func (s *Store) schedulePurge(e Entry) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultPurgeTimeout)
		defer cancel()
		_, _, _ = s.purges.Do(e.Record.ID, func() (any, error) {
			_, err := s.Purge(ctx, e)
			if err != nil {
				logger.Error("后台删除过期记录失败", zap.String("id", e.Record.ID), zap.Error(err))
			}
			return nil, err
		})
	}()
}

func (s *Store) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

func (s *Store) backendErr(op, id string, b repositories.Backend, err error) error {
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, xerr.ErrNotFound)
	}
	logger.Error("元数据后端操作失败", zap.String("op", op), zap.String("id", id), zap.String("backend", b.Name()), zap.Error(err))
	return fmt.Errorf("%s %s on %s: %v: %w", op, id, b.Name(), err, xerr.ErrBackendUnavailable)
}

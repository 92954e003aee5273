// Package lifecycle 负责过期时间计算、续期以及后台定时清理
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/metrics"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/services/metadata"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ExpiringSoonThreshold 剩余时间低于该值时视为即将过期
const ExpiringSoonThreshold = 60 * time.Second

// Store 协调器依赖的元数据操作
type Store interface {
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	Update(ctx context.Context, id string, patch models.FilePatch, ownerID string) (*models.FileRecord, error)
	Scan(ctx context.Context) ([]metadata.Entry, error)
	Purge(ctx context.Context, e metadata.Entry) (bool, error)
	MigrateLegacy(ctx context.Context, e metadata.Entry) (bool, error)
}

// Reaper 需要定期清理内部状态的组件，例如限流器
type Reaper interface {
	Reap() int
}

type Options struct {
	DefaultTTL     int // 分钟
	MinTTL         int
	MaxTTL         int
	SweepInterval  time.Duration
	SweepRate      float64 // 清理任务每秒最多删除的记录数，<=0 表示不限制
	ReaperInterval time.Duration
	MigrateLegacy  bool
	Now            func() time.Time
}

// SweepResult 一次清理的结果
type SweepResult struct {
	Scanned  int
	Deleted  int
	Errors   int
	Duration time.Duration
}

// MigrationResult 一次旧密码迁移的结果
type MigrationResult struct {
	Scanned  int
	Migrated int
	Failed   int
}

type Coordinator struct {
	store   Store
	reapers []Reaper
	opts    Options
	now     func() time.Time

	mu      sync.Mutex // 防止清理任务并发执行
	limiter *rate.Limiter
	cron    *cron.Cron
}

func NewCoordinator(store Store, opts Options, reapers ...Reaper) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinTTL < 1 {
		opts.MinTTL = 1
	}
	if opts.MaxTTL < opts.MinTTL {
		opts.MaxTTL = opts.MinTTL
	}
	if opts.DefaultTTL < opts.MinTTL || opts.DefaultTTL > opts.MaxTTL {
		opts.DefaultTTL = opts.MinTTL
	}

	limit := rate.Inf
	burst := 1
	if opts.SweepRate > 0 {
		limit = rate.Limit(opts.SweepRate)
		burst = max(int(opts.SweepRate), 1)
	}
	return &Coordinator{
		store:   store,
		reapers: reapers,
		opts:    opts,
		now:     opts.Now,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ClampTTL 将 TTL 限制在配置范围内，非正数使用默认值
func (c *Coordinator) ClampTTL(ttlMinutes int) int {
	if ttlMinutes <= 0 {
		return c.opts.DefaultTTL
	}
	return min(max(ttlMinutes, c.opts.MinTTL), c.opts.MaxTTL)
}

// ComputeExpiry 返回 createdAt 加上限制后的 TTL
func (c *Coordinator) ComputeExpiry(createdAt time.Time, ttlMinutes int) time.Time {
	return createdAt.Add(time.Duration(c.ClampTTL(ttlMinutes)) * time.Minute)
}

// Extend 在当前过期时间基础上延长 extraMinutes
// 已过期的记录不能续期；延长后距现在不超过 MaxTTL
func (c *Coordinator) Extend(ctx context.Context, id string, extraMinutes int, ownerID string) (*models.FileRecord, error) {
	if extraMinutes <= 0 {
		return nil, fmt.Errorf("extra minutes must be positive: %w", xerr.ErrInvalidTTL)
	}
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, fmt.Errorf("extend %s: %w", id, xerr.ErrUnauthorized)
	}

	now := c.now()
	base := now
	if rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
		base = *rec.ExpiresAt
	}
	next := base.Add(time.Duration(extraMinutes) * time.Minute)
	if limit := now.Add(time.Duration(c.opts.MaxTTL) * time.Minute); next.After(limit) {
		next = limit
	}
	return c.store.Update(ctx, id, models.FilePatch{ExpiresAt: &next}, ownerID)
}

// TimeUntilExpiry 返回 max(0, expiresAt - now)，未设置过期时间时返回 0 与 false
func (c *Coordinator) TimeUntilExpiry(expiresAt *time.Time) (time.Duration, bool) {
	if expiresAt == nil {
		return 0, false
	}
	return max(expiresAt.Sub(c.now()), 0), true
}

// ExpiringSoon 剩余时间不足一分钟
func (c *Coordinator) ExpiringSoon(expiresAt *time.Time) bool {
	left, ok := c.TimeUntilExpiry(expiresAt)
	return ok && left < ExpiringSoonThreshold
}

// View 组装返回给客户端的视图
func (c *Coordinator) View(rec *models.FileRecord, shareURL string) *models.FileView {
	left, _ := c.TimeUntilExpiry(rec.ExpiresAt)
	return &models.FileView{
		FileRecord:    rec,
		ShareURL:      shareURL,
		ExpiresInSecs: int64(left / time.Second),
		ExpiringSoon:  c.ExpiringSoon(rec.ExpiresAt),
	}
}

// SweepOnce 扫描所有可见记录并删除已过期的记录
// 单条记录失败只记录日志，不中断整个扫描
func (c *Coordinator) SweepOnce(ctx context.Context) SweepResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result := SweepResult{}
	defer func() {
		result.Duration = time.Since(start)
		metrics.SweepRunsTotal.Inc()
		metrics.SweepDeletedTotal.Add(float64(result.Deleted))
		metrics.SweepErrorsTotal.Add(float64(result.Errors))
		metrics.SweepDuration.Observe(result.Duration.Seconds())
	}()

	entries, err := c.store.Scan(ctx)
	if err != nil {
		logger.Error("清理任务扫描失败", zap.Error(err))
		result.Errors++
		return result
	}
	result.Scanned = len(entries)

	ttl := time.Duration(c.opts.DefaultTTL) * time.Minute
	now := c.now()
	for _, e := range entries {
		if now.Before(e.Record.ExpiryOrDefault(ttl)) {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			logger.Warn("清理任务被取消", zap.Error(err))
			break
		}
		deleted, err := c.store.Purge(ctx, e)
		if err != nil {
			result.Errors++
			logger.Error("清理过期记录失败", zap.String("id", e.Record.ID), zap.Error(err))
			continue
		}
		if deleted {
			result.Deleted++
		}
	}

	logger.Info("清理任务完成",
		zap.Int("scanned", result.Scanned),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", time.Since(start)))
	return result
}

// MigrateLegacyPasswords 把仍以明文保存的旧密码全部哈希
func (c *Coordinator) MigrateLegacyPasswords(ctx context.Context) (MigrationResult, error) {
	result := MigrationResult{}
	entries, err := c.store.Scan(ctx)
	if err != nil {
		return result, err
	}
	result.Scanned = len(entries)
	for _, e := range entries {
		migrated, err := c.store.MigrateLegacy(ctx, e)
		if err != nil {
			result.Failed++
			logger.Warn("旧密码迁移失败", zap.String("id", e.Record.ID), zap.Error(err))
			continue
		}
		if migrated {
			result.Migrated++
		}
	}
	if result.Migrated > 0 || result.Failed > 0 {
		logger.Info("旧密码迁移完成",
			zap.Int("scanned", result.Scanned),
			zap.Int("migrated", result.Migrated),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// Start 注册定时任务：过期清理与限流条目回收
func (c *Coordinator) Start(ctx context.Context) error {
	c.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	sweepSpec := fmt.Sprintf("@every %s", c.opts.SweepInterval)
	if _, err := c.cron.AddFunc(sweepSpec, func() {
		c.SweepOnce(ctx)
		if c.opts.MigrateLegacy {
			if _, err := c.MigrateLegacyPasswords(ctx); err != nil {
				logger.Warn("旧密码迁移扫描失败", zap.Error(err))
			}
		}
	}); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	if len(c.reapers) > 0 {
		reapSpec := fmt.Sprintf("@every %s", c.opts.ReaperInterval)
		if _, err := c.cron.AddFunc(reapSpec, func() {
			n := 0
			for _, r := range c.reapers {
				n += r.Reap()
			}
			if n > 0 {
				logger.Debug("回收过期限流条目", zap.Int("count", n))
			}
		}); err != nil {
			return fmt.Errorf("register reaper job: %w", err)
		}
	}

	c.cron.Start()
	logger.Info("生命周期任务已启动",
		zap.Duration("sweep_interval", c.opts.SweepInterval),
		zap.Duration("reaper_interval", c.opts.ReaperInterval))
	return nil
}

// Stop 停止定时任务并等待正在执行的任务结束
func (c *Coordinator) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	logger.Info("生命周期任务已停止")
}

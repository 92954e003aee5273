// Package ratelimit 实现按标识的固定窗口限流
//
// 状态只保存在进程内存中，多实例部署时每个实例各自计数，
// 实际限额约为 limit * 实例数。
package ratelimit

import (
	"sync"
	"time"
)

// Result 一次检查的结果
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // 仅在 Allowed 为 false 时有意义
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter 固定窗口计数器
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
	now     func() time.Time
}

// New 创建限流器，grace 为窗口结束后条目继续保留的时长
func New(grace time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		entries: make(map[string]*entry),
		grace:   grace,
		now:     now,
	}
}

// Check 记录一次请求并返回是否放行
func (l *Limiter) Check(id string, limit int, window time.Duration) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(window)}
		l.entries[id] = e
		return Result{Allowed: true, Limit: limit, Remaining: max(limit-1, 0), ResetAt: e.resetAt}
	}

	if e.count >= limit {
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    e.resetAt,
			RetryAfter: e.resetAt.Sub(now),
		}
	}

	e.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - e.count, ResetAt: e.resetAt}
}

// Reap 清理窗口已结束且超过宽限期的条目，返回清理数量
func (l *Limiter) Reap() int {
	cutoff := l.now().Add(-l.grace)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, e := range l.entries {
		if e.resetAt.Before(cutoff) {
			delete(l.entries, id)
			n++
		}
	}
	return n
}

// Len 当前跟踪的标识数量
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package setup

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// 启动阶段探测依赖的最长等待时间
const probeMaxElapsed = 15 * time.Second

// probe 以指数退避重试 fn，直到成功、超时或 ctx 结束
func probe(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.MaxElapsedTime = probeMaxElapsed

	return backoff.RetryNotify(func() error {
		return fn(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("依赖暂不可用，稍后重试",
			zap.String("dependency", name),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

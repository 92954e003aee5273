package setup

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/repositories"
	"go.uber.org/zap"
)

// Closer 进程退出时需要释放的资源
type Closer func() error

// InitPrimaryBackend 按 metadata.primary 构建主元数据后端
func InitPrimaryBackend(ctx context.Context, cfg *config.Config) (repositories.Backend, Closer, error) {
	switch cfg.Metadata.Primary {
	case "redis":
		client := InitRedis(ctx, &cfg.Redis)
		backend := repositories.NewRedisBackend(cache.NewRedisCache(client), cfg.Metadata.KeyPrefix)
		return backend, client.Close, nil
	case "mysql":
		db, err := InitMySQL(ctx, &cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewMySQLBackend(db), func() error { return CloseMySQL(db) }, nil
	case "elasticsearch":
		backend, err := InitElasticsearch(ctx, &cfg.Elasticsearch, cfg.Metadata.Index)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata primary %q", cfg.Metadata.Primary)
	}
}

// InitFallbackBackend 打开本地 bbolt 回退后端
func InitFallbackBackend(cfg *config.MetadataConfig) (*repositories.BoltBackend, error) {
	backend, err := repositories.OpenBoltBackend(cfg.FallbackPath)
	if err != nil {
		return nil, err
	}
	logger.Info("回退元数据后端已打开", zap.String("path", cfg.FallbackPath))
	return backend, nil
}

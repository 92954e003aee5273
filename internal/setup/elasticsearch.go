package setup

import (
	"context"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/repositories"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// InitElasticsearch 创建客户端并确保索引存在
func InitElasticsearch(ctx context.Context, cfg *config.ElasticsearchConfig, index string) (*repositories.ElasticsearchBackend, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	backend := repositories.NewElasticsearchBackend(es, index)
	err = probe(ctx, "elasticsearch", func(ctx context.Context) error {
		if err := backend.Ping(ctx); err != nil {
			return err
		}
		return backend.EnsureIndex(ctx)
	})
	if err != nil {
		logger.Warn("Elasticsearch 暂不可用，元数据将写入回退后端", zap.Error(err))
		return backend, nil
	}
	logger.Info("Elasticsearch client initialized successfully.", zap.String("index", index))
	return backend, nil
}

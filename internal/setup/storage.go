package setup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/storage"
)

// InitStorage 初始化对象存储并确保存储桶存在
func InitStorage(ctx context.Context, cfg *config.Config) (*storage.BlobStore, error) {
	svc, bucket, err := storage.NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储服务失败: %w", err)
	}
	logger.Info("存储服务已选择并初始化", zap.String("type", cfg.Storage.Type))

	err = probe(ctx, "object-storage", func(ctx context.Context) error {
		exists, err := svc.IsBucketExist(ctx, bucket)
		if err != nil {
			return fmt.Errorf("检查存储桶存在性失败: %w", err)
		}
		if exists {
			logger.Info("存储桶已存在", zap.String("bucketName", bucket))
			return nil
		}
		logger.Info("存储桶不存在，尝试创建...", zap.String("bucketName", bucket))
		if err := svc.MakeBucket(ctx, bucket); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("存储桶创建成功", zap.String("bucketName", bucket))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.NewBlobStore(svc, bucket), nil
}

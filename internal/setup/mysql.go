package setup

import (
	"context"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitMySQL 创建 MySQL 连接并迁移表结构
// 连接不上时只记录警告，后续请求会落到回退后端
func InitMySQL(ctx context.Context, cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       cfg.DSN,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池参数
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	err = probe(ctx, "mysql", func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		return db.WithContext(ctx).AutoMigrate(&models.FileRecord{})
	})
	if err != nil {
		logger.Warn("MySQL 暂不可用，元数据将写入回退后端", zap.Error(err))
		return db, nil
	}
	logger.Info("成功连接MySQL数据库!")
	return db, nil
}

// CloseMySQL 关闭数据库连接
func CloseMySQL(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("Error closing MySQL database connection", zap.Error(err))
		return err
	}
	logger.Info("MySQL database connection closed.")
	return nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQLBackend 基于 gorm 的元数据后端
type MySQLBackend struct {
	db *gorm.DB
}

func NewMySQLBackend(db *gorm.DB) *MySQLBackend {
	return &MySQLBackend{db: db}
}

func (r *MySQLBackend) Name() string { return "mysql" }

func (r *MySQLBackend) Put(ctx context.Context, rec *models.FileRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("写入文件记录失败: %w", err)
	}
	return nil
}

func (r *MySQLBackend) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("查询文件记录失败: %w", err)
	}
	return &rec, nil
}

func (r *MySQLBackend) Update(ctx context.Context, id string, patch Patch) error {
	updates := map[string]any{}
	if patch.OriginalName != nil {
		updates["original_name"] = *patch.OriginalName
	}
	if patch.ExpiresAt != nil {
		updates["expires_at"] = *patch.ExpiresAt
	}
	if patch.PasswordHash != nil {
		updates["password_hash"] = *patch.PasswordHash
	}
	if patch.PasswordScheme != nil {
		updates["password_scheme"] = *patch.PasswordScheme
	}

	// MySQL 的 RowsAffected 不统计值未变化的行，所以先确认存在
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.FileRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("查询文件记录失败: %w", err)
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.FileRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新文件记录失败: %w", err)
		}
		return nil
	})
}

func (r *MySQLBackend) IncrementDownloads(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("更新下载次数失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *MySQLBackend) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.FileRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("删除文件记录失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *MySQLBackend) Query(ctx context.Context, filter Filter) ([]*models.FileRecord, error) {
	var recs []*models.FileRecord
	query := r.db.WithContext(ctx).Model(&models.FileRecord{})
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if err := query.Order("uploaded_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("查询文件列表失败: %w", err)
	}
	return recs, nil
}

func (r *MySQLBackend) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

package utils

import (
	"crypto/subtle"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost 低于该成本的配置会被提升
const MinBcryptCost = 10

// PasswordGuard 负责文件密码的哈希与校验
type PasswordGuard struct {
	cost int
}

func NewPasswordGuard(cost int) *PasswordGuard {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordGuard{cost: cost}
}

// Hash 对非空密码做 bcrypt 哈希
func (g *PasswordGuard) Hash(secret string) (models.PasswordSecret, error) {
	if secret == "" {
		return models.PasswordSecret{}, xerr.ErrEmptyInput
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), g.cost)
	if err != nil {
		// 超过 72 字节等输入问题
		logger.Error("Error hashing password", zap.Error(err))
		return models.PasswordSecret{}, xerr.Validation("password: %v", err)
	}
	return models.Hashed(string(bytes)), nil
}

// Verify 校验密码，任何异常输入都返回 false
func (g *PasswordGuard) Verify(secret string, stored models.PasswordSecret) bool {
	if secret == "" || stored.Value() == "" {
		return false
	}
	switch {
	case stored.IsHashed():
		return bcrypt.CompareHashAndPassword([]byte(stored.Value()), []byte(secret)) == nil
	case stored.IsLegacy():
		return subtle.ConstantTimeCompare([]byte(secret), []byte(stored.Value())) == 1
	default:
		return false
	}
}

// Ingest 处理写入路径上的密码：已是 bcrypt 格式的直接保留，其余一律哈希
func (g *PasswordGuard) Ingest(raw string) (models.PasswordSecret, error) {
	if raw == "" {
		return models.PasswordSecret{}, xerr.ErrEmptyInput
	}
	if models.ClassifyScheme(raw) == models.SchemeBcrypt {
		if _, err := bcrypt.Cost([]byte(raw)); err == nil {
			return models.Hashed(raw), nil
		}
	}
	return g.Hash(raw)
}

// NeedsRehash 旧明文或成本过低的哈希需要升级
func (g *PasswordGuard) NeedsRehash(stored models.PasswordSecret) bool {
	if stored.IsLegacy() {
		return true
	}
	cost, err := bcrypt.Cost([]byte(stored.Value()))
	return err == nil && cost < g.cost
}

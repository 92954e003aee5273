package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrCacheMiss error = errors.New("缓存未命中,key不存在")

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		logger.Error("Failed to check key existence in Redis", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("检查 Redis 键存在性失败: %w", err)
	}
	return count > 0, nil
}

func (r *RedisCache) HGet(ctx context.Context, key string, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss // HGet 针对不存在的 field 也会返回 redis.Nil
		}
		logger.Error("Failed to HGet field from Redis", zap.String("key", key), zap.String("field", field), zap.Error(err))
		return "", fmt.Errorf("HGet 操作失败: %w", err)
	}
	return val, nil
}

func (r *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	resultMap, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Error("Failed to HGetAll from Redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("HGetAll 操作失败: %w", err)
	}
	// key 不存在时 HGetAll 返回空 map
	if len(resultMap) == 0 {
		return nil, ErrCacheMiss
	}
	return resultMap, nil
}

func (r *RedisCache) SRem(ctx context.Context, key string, members ...any) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, key, members...).Err(); err != nil {
		logger.Error("Failed to SRem in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("SRem 操作失败: %w", err)
	}
	return nil
}

func (r *RedisCache) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		logger.Error("Failed to SMembers from Redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("SMembers 操作失败: %w", err)
	}
	return members, nil
}

func (r *RedisCache) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	val, err := script.Run(ctx, r.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		logger.Error("Failed to run Lua script in Redis", zap.Strings("keys", keys), zap.Error(err))
		return nil, fmt.Errorf("执行 Lua 脚本失败: %w", err)
	}
	return val, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) TxPipeline() redis.Pipeliner {
	return r.client.TxPipeline()
}

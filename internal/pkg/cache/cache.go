package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// 缓存通用接口，元数据的 redis 后端基于它实现
type Cache interface {
	// 检查key是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 哈希操作函数
	HGet(ctx context.Context, key string, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// 集合操作函数
	SRem(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// RunScript 执行 Lua 脚本，保证多步操作的原子性
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)

	Ping(ctx context.Context) error
	TxPipeline() redis.Pipeliner
}

// 元数据相关的 key
func FileKey(prefix, id string) string {
	return fmt.Sprintf("%s:file:%s", prefix, id)
}

func OwnerFilesKey(prefix, ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:files", prefix, ownerID)
}

func AllFilesKey(prefix string) string {
	return fmt.Sprintf("%s:files", prefix)
}

package repositories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var filesBucket = []byte("files")

// BoltBackend 本地回退后端，记录以 msgpack 编码存放在单个 bbolt 文件中
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBoltBackend 打开 (必要时创建) 回退数据库文件
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建回退存储目录失败: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0666, &bbolt.Options{
		Timeout:    time.Second,
		NoGrowSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("打开回退存储失败: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(filesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化回退存储失败: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Name() string { return "bolt" }

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) Put(_ context.Context, rec *models.FileRecord) error {
	val, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("编码文件记录失败: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(rec.ID), val)
	})
}

func (b *BoltBackend) Get(_ context.Context, id string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(filesBucket).Get([]byte(id))
		if val == nil {
			return ErrRecordNotFound
		}
		var err error
		rec, err = decodeRecord(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *BoltBackend) Update(_ context.Context, id string, patch Patch) error {
	return b.modify(id, patch.Apply)
}

func (b *BoltBackend) IncrementDownloads(_ context.Context, id string) error {
	return b.modify(id, func(rec *models.FileRecord) {
		rec.DownloadCount++
	})
}

// modify 在同一个写事务内完成读-改-写，bbolt 写事务是串行的
func (b *BoltBackend) modify(id string, fn func(rec *models.FileRecord)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(filesBucket)
		val := bucket.Get([]byte(id))
		if val == nil {
			return ErrRecordNotFound
		}
		rec, err := decodeRecord(val)
		if err != nil {
			return err
		}
		fn(rec)
		out, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("编码文件记录失败: %w", err)
		}
		return bucket.Put([]byte(id), out)
	})
}

func (b *BoltBackend) Delete(_ context.Context, id string) (bool, error) {
	existed := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(filesBucket)
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(id))
	})
	return existed, err
}

func (b *BoltBackend) Query(_ context.Context, filter Filter) ([]*models.FileRecord, error) {
	var recs []*models.FileRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				// 单条损坏的记录不影响其余记录被扫描到
				logger.Warn("跳过无法解析的回退文件记录", zap.ByteString("id", k), zap.Error(err))
				return nil
			}
			if filter.OwnerID == "" || rec.OwnerID == filter.OwnerID {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UploadedAt.After(recs[j].UploadedAt)
	})
	return recs, nil
}

func (b *BoltBackend) Ping(_ context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(filesBucket) == nil {
			return fmt.Errorf("bucket %s missing", filesBucket)
		}
		return nil
	})
}

func decodeRecord(val []byte) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("解码文件记录失败: %w", err)
	}
	return &rec, nil
}

package storage

import (
	"context"
	"errors"
	"io"

	"github.com/3Eeeecho/go-dropshare/internal/config"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// StorageService 定义了通用的对象存储操作接口
type StorageService interface {
	// 上传文件到指定存储桶，返回存储对象的信息或错误
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error)
	// 从指定存储桶下载文件，返回一个读取器和对象信息
	GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error)
	// 从指定存储桶删除文件，对象不存在时不报错
	RemoveObject(ctx context.Context, bucketName, objectName string) error
	// 检查存储桶是否存在
	IsBucketExist(ctx context.Context, bucketName string) (bool, error)
	// 创建存储桶
	MakeBucket(ctx context.Context, bucketName string) error
	// 获取对象的公开访问URL
	GetObjectURL(bucketName, objectName string) string
}

type PutObjectResult struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string // 对象哈希值
}

type GetObjectResult struct {
	Reader   io.ReadCloser // 文件内容读取器，需要在使用后关闭
	Size     int64
	MimeType string
}

// NewStorageService 根据配置选择存储实现
func NewStorageService(cfg *config.Config) (StorageService, string, error) {
	switch cfg.Storage.Type {
	case "minio":
		svc, err := NewMinIOStorageService(&cfg.MinIO)
		if err != nil {
			return nil, "", err
		}
		return svc, cfg.MinIO.BucketName, nil
	case "aliyun_oss":
		svc, err := NewAliyunOSSStorageService(&cfg.AliyunOSS)
		if err != nil {
			return nil, "", err
		}
		return svc, cfg.AliyunOSS.BucketName, nil
	default:
		return nil, "", errors.New("invalid storageType")
	}
}

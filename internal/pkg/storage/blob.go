package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ObjectPrefix 所有上传文件的对象前缀
const ObjectPrefix = "files/"

// ObjectKey 返回文件ID对应的对象名，例如 files/ab12.pdf
func ObjectKey(filename string) string {
	return ObjectPrefix + filename
}

// BlobStore 在 StorageService 之上以 URL 为句柄管理文件内容
// 元数据层只保存 URL，删除时从 URL 反推对象名
type BlobStore struct {
	svc    StorageService
	bucket string
}

func NewBlobStore(svc StorageService, bucket string) *BlobStore {
	return &BlobStore{svc: svc, bucket: bucket}
}

// Upload 上传内容并返回可公开访问的 URL
func (b *BlobStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if _, err := b.svc.PutObject(ctx, b.bucket, key, r, size, contentType); err != nil {
		return "", err
	}
	return b.svc.GetObjectURL(b.bucket, key), nil
}

// Delete 删除 URL 对应的对象，对象不存在视为成功
func (b *BlobStore) Delete(ctx context.Context, url string) error {
	key, err := b.KeyFromURL(url)
	if err != nil {
		return err
	}
	if err := b.svc.RemoveObject(ctx, b.bucket, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return nil
}

// Open 打开 URL 对应的对象用于代理下载
func (b *BlobStore) Open(ctx context.Context, url string) (GetObjectResult, error) {
	key, err := b.KeyFromURL(url)
	if err != nil {
		return GetObjectResult{}, err
	}
	return b.svc.GetObject(ctx, b.bucket, key)
}

// KeyFromURL 从对象 URL 中取出 files/ 之后的对象名
func (b *BlobStore) KeyFromURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty blob url")
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	i := strings.LastIndex(url, "/"+ObjectPrefix)
	if i < 0 {
		if strings.HasPrefix(url, ObjectPrefix) {
			return url, nil
		}
		return "", fmt.Errorf("blob url %q has no %s segment", url, ObjectPrefix)
	}
	return url[i+1:], nil
}

package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStorage 内存版 StorageService
type memoryStorage struct {
	objects map[string][]byte
	removed []string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, _ string) (PutObjectResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutObjectResult{}, err
	}
	m.objects[name] = data
	return PutObjectResult{Bucket: bucket, Key: name, Size: int64(len(data))}, nil
}

func (m *memoryStorage) GetObject(_ context.Context, _, name string) (GetObjectResult, error) {
	data, ok := m.objects[name]
	if !ok {
		return GetObjectResult{}, ErrObjectNotFound
	}
	return GetObjectResult{Reader: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (m *memoryStorage) RemoveObject(_ context.Context, _, name string) error {
	m.removed = append(m.removed, name)
	if _, ok := m.objects[name]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, name)
	return nil
}

func (m *memoryStorage) IsBucketExist(context.Context, string) (bool, error) { return true, nil }
func (m *memoryStorage) MakeBucket(context.Context, string) error            { return nil }

func (m *memoryStorage) GetObjectURL(bucket, name string) string {
	return "http://minio.local:9000/" + bucket + "/" + name
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "files/ab12.pdf", ObjectKey("ab12.pdf"))
}

func TestKeyFromURL(t *testing.T) {
	b := NewBlobStore(newMemoryStorage(), "dropshare")

	cases := map[string]string{
		"http://minio.local:9000/dropshare/files/ab12.pdf":             "files/ab12.pdf",
		"https://bucket.oss-cn-hangzhou.aliyuncs.com/files/ab12":       "files/ab12",
		"https://storage.example.com/b/files/ab12.png?X-Amz-Expires=1": "files/ab12.png",
		"files/zz99.txt": "files/zz99.txt",
	}
	for url, want := range cases {
		got, err := b.KeyFromURL(url)
		require.NoError(t, err, url)
		assert.Equal(t, want, got, url)
	}

	_, err := b.KeyFromURL("")
	assert.Error(t, err)
	_, err = b.KeyFromURL("https://example.com/other/ab12.pdf")
	assert.Error(t, err)
}

func TestBlobStore_UploadOpenDelete(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryStorage()
	b := NewBlobStore(mem, "dropshare")

	url, err := b.Upload(ctx, ObjectKey("ab12.txt"), strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local:9000/dropshare/files/ab12.txt", url)

	obj, err := b.Open(ctx, url)
	require.NoError(t, err)
	data, _ := io.ReadAll(obj.Reader)
	obj.Reader.Close()
	assert.Equal(t, "hello", string(data))

	require.NoError(t, b.Delete(ctx, url))
	// 重复删除视为成功
	require.NoError(t, b.Delete(ctx, url))
	assert.Equal(t, []string{"files/ab12.txt", "files/ab12.txt"}, mem.removed)

	_, err = b.Open(ctx, url)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

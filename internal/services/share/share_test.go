package share

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-dropshare/internal/repositories"
	"github.com/3Eeeecho/go-dropshare/internal/services/lifecycle"
	"github.com/3Eeeecho/go-dropshare/internal/services/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if b.failPut {
		return "", errors.New("bucket unreachable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	url := "http://minio.local/dropshare/" + key
	b.mu.Lock()
	b.objects[url] = data
	b.mu.Unlock()
	return url, nil
}

func (b *memBlobs) Open(_ context.Context, url string) (storage.GetObjectResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[url]
	if !ok {
		return storage.GetObjectResult{}, storage.ErrObjectNotFound
	}
	return storage.GetObjectResult{Reader: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (b *memBlobs) Delete(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, url)
	delete(b.objects, url)
	return nil
}

// downBackend 写入总是失败
type downBackend struct {
	repositories.Backend
}

func (downBackend) Put(context.Context, *models.FileRecord) error {
	return errors.New("connection refused")
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxFileSize:         1 << 20,
		AllowedMimePrefixes: []string{"image/", "text/", "application/pdf"},
		BlockedExtensions:   []string{".exe", ".bat", ".cmd", ".scr"},
		MinPasswordLength:   4,
	}
}

type harness struct {
	svc     *shareService
	store   *metadata.Store
	blobs   *memBlobs
	primary repositories.Backend
}

func newHarness(t *testing.T, wrap func(repositories.Backend) repositories.Backend) *harness {
	t.Helper()
	dir := t.TempDir()
	p, err := repositories.OpenBoltBackend(filepath.Join(dir, "primary.db"))
	require.NoError(t, err)
	f, err := repositories.OpenBoltBackend(filepath.Join(dir, "fallback.db"))
	require.NoError(t, err)

	var primary, fallback repositories.Backend = p, f
	if wrap != nil {
		primary, fallback = wrap(p), wrap(f)
	}
	clock := func() time.Time { return epoch }
	blobs := newMemBlobs()
	store := metadata.NewStore(primary, fallback, blobs, metadata.Options{
		DefaultTTL:  5 * time.Minute,
		MaxLifetime: 120 * time.Minute,
		Now:         clock,
	})
	lc := lifecycle.NewCoordinator(store, lifecycle.Options{DefaultTTL: 5, MinTTL: 1, MaxTTL: 120, Now: clock})

	svc := NewShareService(store, blobs, lc, testUploadConfig(), "https://share.dyhs.kr/").(*shareService)
	svc.now = clock
	t.Cleanup(func() {
		store.Wait()
		p.Close()
		f.Close()
	})
	return &harness{svc: svc, store: store, blobs: blobs, primary: primary}
}

func pdfUpload(content string) UploadInput {
	return UploadInput{
		OwnerID:      "s1",
		Filename:     "report.pdf",
		Size:         int64(len(content)),
		DeclaredType: "application/pdf",
		Content:      strings.NewReader(content),
	}
}

func fixedIDs(ids ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		id := ids[min(i, len(ids)-1)]
		i++
		return id, nil
	}
}

func TestShareURL(t *testing.T) {
	assert.Equal(t, "https://share.dyhs.kr/ab12", ShareURL("https://share.dyhs.kr/", "ab12"))
	assert.Equal(t, "http://localhost:8080/ab12", ShareURL("http://localhost:8080", "ab12"))
}

func TestUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.newID = fixedIDs("ab12")

	view, err := h.svc.Upload(context.Background(), pdfUpload("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, "ab12", view.ID)
	assert.Equal(t, "https://share.dyhs.kr/ab12", view.ShareURL)
	assert.Equal(t, "ab12.pdf", view.Filename)
	assert.Equal(t, "report.pdf", view.OriginalName)
	assert.Equal(t, "application/pdf", view.MimeType)
	assert.Equal(t, "http://minio.local/dropshare/files/ab12.pdf", view.URL)
	assert.True(t, epoch.Add(5*time.Minute).Equal(*view.ExpiresAt))
	assert.EqualValues(t, 300, view.ExpiresInSecs)
	assert.False(t, view.PasswordProtected)

	got, err := h.svc.Get(context.Background(), "ab12")
	require.NoError(t, err)
	assert.Equal(t, view.URL, got.URL)
}

func TestUpload_TTLIsClamped(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.newID = fixedIDs("ab12")

	in := pdfUpload("x")
	in.TTLMinutes = 500
	view, err := h.svc.Upload(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, epoch.Add(120*time.Minute).Equal(*view.ExpiresAt))
}

func TestUpload_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(in *UploadInput)
		target error
	}{
		{"no session", func(in *UploadInput) { in.OwnerID = "" }, xerr.ErrSessionInvalid},
		{"no content", func(in *UploadInput) { in.Content = nil }, xerr.ErrValidation},
		{"blank name", func(in *UploadInput) { in.Filename = "  " }, xerr.ErrValidation},
		{"too large", func(in *UploadInput) { in.Size = 2 << 20 }, xerr.ErrFileTooLarge},
		{"blocked extension", func(in *UploadInput) { in.Filename = "setup.EXE"; in.DeclaredType = "" }, xerr.ErrFileTypeNotAllowed},
		{"mime not allowed", func(in *UploadInput) { in.Filename = "data.bin"; in.DeclaredType = "application/x-msdownload" }, xerr.ErrFileTypeNotAllowed},
		{"short password", func(in *UploadInput) { in.Password = "abc" }, xerr.ErrValidation},
		{"negative ttl", func(in *UploadInput) { in.TTLMinutes = -1 }, xerr.ErrInvalidTTL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := pdfUpload("x")
			tc.mutate(&in)
			_, err := h.svc.Upload(ctx, in)
			assert.ErrorIs(t, err, tc.target)
		})
	}
	assert.Empty(t, h.blobs.objects, "rejected uploads never reach storage")
}

func TestUpload_RetriesOnIDCollision(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.newID = fixedIDs("aaaa")
	_, err := h.svc.Upload(ctx, pdfUpload("first"))
	require.NoError(t, err)

	h.svc.newID = fixedIDs("aaaa", "aaaa", "bbbb")
	view, err := h.svc.Upload(ctx, pdfUpload("second"))
	require.NoError(t, err)
	assert.Equal(t, "bbbb", view.ID)

	h.svc.newID = fixedIDs("aaaa")
	_, err = h.svc.Upload(ctx, pdfUpload("third"))
	assert.ErrorIs(t, err, xerr.ErrIDExhausted)
}

func TestUpload_StorageFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.newID = fixedIDs("ab12")
	h.blobs.failPut = true

	_, err := h.svc.Upload(context.Background(), pdfUpload("x"))
	assert.ErrorIs(t, err, xerr.ErrStorage)

	exists, err := h.store.Exists(context.Background(), "ab12")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpload_RemovesBlobWhenMetadataFails(t *testing.T) {
	h := newHarness(t, func(b repositories.Backend) repositories.Backend { return downBackend{b} })
	h.svc.newID = fixedIDs("ab12")

	_, err := h.svc.Upload(context.Background(), pdfUpload("x"))
	assert.ErrorIs(t, err, xerr.ErrBackendUnavailable)
	assert.Equal(t, []string{"http://minio.local/dropshare/files/ab12.pdf"}, h.blobs.deleted)
	assert.Empty(t, h.blobs.objects)
}

func TestDownload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.svc.newID = fixedIDs("ab12")

	in := pdfUpload("secret body")
	in.Password = "abcd"
	view, err := h.svc.Upload(ctx, in)
	require.NoError(t, err)
	assert.True(t, view.PasswordProtected)

	_, _, err = h.svc.Download(ctx, "ab12", "")
	assert.ErrorIs(t, err, xerr.ErrPasswordRequired)

	_, _, err = h.svc.Download(ctx, "ab12", "abce")
	assert.ErrorIs(t, err, xerr.ErrPasswordIncorrect)

	rec, obj, err := h.svc.Download(ctx, "ab12", "abcd")
	require.NoError(t, err)
	defer obj.Reader.Close()
	body, err := io.ReadAll(obj.Reader)
	require.NoError(t, err)
	assert.Equal(t, "secret body", string(body))
	assert.Equal(t, "application/pdf", obj.MimeType)
	assert.Equal(t, "report.pdf", rec.OriginalName)

	got, err := h.svc.Get(ctx, "ab12")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.DownloadCount)

	_, _, err = h.svc.Download(ctx, "zz99", "")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}

func TestDownload_MissingBlob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.svc.newID = fixedIDs("ab12")

	view, err := h.svc.Upload(ctx, pdfUpload("x"))
	require.NoError(t, err)
	require.NoError(t, h.blobs.Delete(ctx, view.URL))

	_, _, err = h.svc.Download(ctx, "ab12", "")
	assert.ErrorIs(t, err, xerr.ErrStorageInconsistency)
}

func TestListUpdateExtendDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.newID = fixedIDs("aaaa")
	_, err := h.svc.Upload(ctx, pdfUpload("a"))
	require.NoError(t, err)
	h.svc.newID = fixedIDs("bbbb")
	other := pdfUpload("b")
	other.OwnerID = "s2"
	_, err = h.svc.Upload(ctx, other)
	require.NoError(t, err)

	list, err := h.svc.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "aaaa", list[0].ID)
	assert.Equal(t, "https://share.dyhs.kr/aaaa", list[0].ShareURL)

	name := "renamed.pdf"
	updated, err := h.svc.Update(ctx, "aaaa", models.FilePatch{OriginalName: &name}, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", updated.OriginalName)

	extended, err := h.svc.Extend(ctx, "aaaa", 10, "s1")
	require.NoError(t, err)
	assert.True(t, epoch.Add(15*time.Minute).Equal(*extended.ExpiresAt))

	n, err := h.svc.RecordDownload(ctx, "aaaa")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err := h.svc.Delete(ctx, "aaaa", "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.svc.Delete(ctx, "aaaa", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.Get(ctx, "aaaa")
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/ratelimit"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-dropshare/internal/repositories"
	"github.com/3Eeeecho/go-dropshare/internal/services/lifecycle"
	"github.com/3Eeeecho/go-dropshare/internal/services/metadata"
	"github.com/3Eeeecho/go-dropshare/internal/services/share"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStorage 内存版对象存储
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStorage) PutObject(_ context.Context, bucket, name string, r io.Reader, _ int64, _ string) (storage.PutObjectResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.PutObjectResult{}, err
	}
	m.mu.Lock()
	m.objects[name] = data
	m.mu.Unlock()
	return storage.PutObjectResult{Bucket: bucket, Key: name, Size: int64(len(data))}, nil
}

func (m *memoryStorage) GetObject(_ context.Context, _, name string) (storage.GetObjectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return storage.GetObjectResult{}, storage.ErrObjectNotFound
	}
	return storage.GetObjectResult{Reader: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (m *memoryStorage) RemoveObject(_ context.Context, _, name string) error {
	m.mu.Lock()
	delete(m.objects, name)
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) IsBucketExist(context.Context, string) (bool, error) { return true, nil }
func (m *memoryStorage) MakeBucket(context.Context, string) error            { return nil }
func (m *memoryStorage) GetObjectURL(bucket, name string) string {
	return "http://minio.local:9000/" + bucket + "/" + name
}

type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fileBody struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	ShareURL          string `json:"shareUrl"`
	OriginalName      string `json:"originalName"`
	PasswordProtected bool   `json:"passwordProtected"`
	DownloadCount     int64  `json:"downloadCount"`
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Mode:          gin.TestMode,
			PublicBaseURL: "https://share.dyhs.kr",
			// httptest 请求的连接地址
			TrustedProxies: []string{"192.0.2.1"},
		},
		Session: config.SessionConfig{
			SecretKey:  "test-secret",
			CookieName: "ds_session",
			ExpiresIn:  24 * time.Hour,
			Issuer:     "dropshare",
		},
		Metadata: config.MetadataConfig{Timeout: 2 * time.Second},
		Upload: config.UploadConfig{
			MaxFileSize:         1 << 20,
			AllowedMimePrefixes: []string{"text/", "image/", "application/pdf"},
			BlockedExtensions:   []string{".exe", ".bat", ".cmd", ".scr"},
			MinPasswordLength:   4,
		},
		RateLimit: config.RateLimitConfig{
			UploadLimit:  20,
			UploadWindow: time.Minute,
			APILimit:     100,
			APIWindow:    time.Minute,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	dir := t.TempDir()
	p, err := repositories.OpenBoltBackend(filepath.Join(dir, "primary.db"))
	require.NoError(t, err)
	f, err := repositories.OpenBoltBackend(filepath.Join(dir, "fallback.db"))
	require.NoError(t, err)

	blobs := storage.NewBlobStore(&memoryStorage{objects: make(map[string][]byte)}, "dropshare")
	store := metadata.NewStore(p, f, blobs, metadata.Options{MaxLifetime: 120 * time.Minute})
	lc := lifecycle.NewCoordinator(store, lifecycle.Options{DefaultTTL: 5, MinTTL: 1, MaxTTL: 120})
	svc := share.NewShareService(store, blobs, lc, cfg.Upload, cfg.Server.PublicBaseURL)
	t.Cleanup(func() {
		store.Wait()
		p.Close()
		f.Close()
	})

	return InitRouter(&RouterConfig{
		Cfg:          cfg,
		ShareService: svc,
		Limiter:      ratelimit.New(time.Minute, nil),
		Pinger:       store,
	})
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func uploadRequest(t *testing.T, name, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "ds_session" {
			assert.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatal("session cookie not issued")
	return nil
}

func TestPing(t *testing.T) {
	r := newTestRouter(t, testConfig())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func TestFileLifecycle(t *testing.T) {
	r := newTestRouter(t, testConfig())

	// 上传，返回会话 Cookie
	w := serve(r, uploadRequest(t, "notes.txt", "hello world", map[string]string{"password": "abcd", "ttl": "30"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	owner := sessionCookie(t, w)

	var uploaded fileBody
	decode(t, w, &uploaded)
	require.Len(t, uploaded.ID, 4)
	assert.Equal(t, "https://share.dyhs.kr/"+uploaded.ID, uploaded.ShareURL)
	assert.True(t, uploaded.PasswordProtected)
	assert.NotEmpty(t, uploaded.URL)
	assert.NotContains(t, w.Body.String(), "$2a$")

	// 列表只包含自己的文件
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.AddCookie(owner)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	var list []fileBody
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, uploaded.ID, list[0].ID)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list = nil
	decode(t, w, &list)
	assert.Empty(t, list)

	// 其他会话看不到受保护文件的直链
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+uploaded.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stranger fileBody
	decode(t, w, &stranger)
	assert.Empty(t, stranger.URL)
	assert.Equal(t, "notes.txt", stranger.OriginalName)

	// 分享链接下载需要密码
	w = serve(r, httptest.NewRequest(http.MethodGet, "/share/"+uploaded.ID, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/share/"+uploaded.ID, nil)
	req.Header.Set("X-File-Password", "wrong")
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/share/"+strings.ToUpper(uploaded.ID)+"?password=abcd", nil)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "hello world", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="notes.txt"`)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	// 校验密码
	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/"+uploaded.ID+"/verify-password", strings.NewReader(`{"password":"abce"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/"+uploaded.ID+"/verify-password", strings.NewReader(`{"password":"abcd"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// 下载计数
	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/files/"+uploaded.ID+"/downloads", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var counted struct {
		DownloadCount int64 `json:"downloadCount"`
	}
	decode(t, w, &counted)
	assert.EqualValues(t, 2, counted.DownloadCount)

	// 修改名称与续期只允许所有者
	req = httptest.NewRequest(http.MethodPatch, "/api/v1/files/"+uploaded.ID, strings.NewReader(`{"originalName":"final.txt"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/files/"+uploaded.ID, strings.NewReader(`{"originalName":"final.txt"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(owner)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var patched fileBody
	decode(t, w, &patched)
	assert.Equal(t, "final.txt", patched.OriginalName)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/"+uploaded.ID+"/extend", strings.NewReader(`{"minutes":10}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(owner)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 删除：非所有者 403，所有者成功后 404
	w = serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+uploaded.ID, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+uploaded.ID, nil)
	req.AddCookie(owner)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+uploaded.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+uploaded.ID, nil)
	req.AddCookie(owner)
	w = serve(r, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpload_Rejections(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := serve(r, uploadRequest(t, "setup.exe", "MZ", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = serve(r, uploadRequest(t, "big.txt", strings.Repeat("x", 1<<20+1), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, uploadRequest(t, "notes.txt", "x", map[string]string{"ttl": "soon"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, uploadRequest(t, "notes.txt", "x", map[string]string{"password": "abc"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidIDIsNotFound(t *testing.T) {
	r := newTestRouter(t, testConfig())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/not-an-id", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.APILimit = 2
	r := newTestRouter(t, cfg)

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// 不同客户端各自计数
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_IgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = nil
	cfg.RateLimit.APILimit = 1
	r := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	// 伪造的转发头不会换来新的计数窗口
	for _, ip := range []string{"198.51.100.8", "203.0.113.9"} {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
		req.Header.Set("X-Forwarded-For", ip)
		req.Header.Set("X-Real-IP", ip)
		w = serve(r, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code, ip)
	}
}

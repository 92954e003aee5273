package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// 单次查询返回的最大文档数
const esMaxResults = 10000

const esMapping = `{
  "mappings": {
    "properties": {
      "id":                 {"type": "keyword"},
      "filename":           {"type": "keyword"},
      "original_name":      {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "size":               {"type": "long"},
      "mime_type":          {"type": "keyword"},
      "url":                {"type": "keyword", "index": false},
      "uploaded_at":        {"type": "date"},
      "download_count":     {"type": "long"},
      "owner_id":           {"type": "keyword"},
      "expires_at":         {"type": "date"},
      "password_protected": {"type": "boolean"},
      "password_hash":      {"type": "keyword", "index": false},
      "password_scheme":    {"type": "keyword"},
      "encrypted":          {"type": "boolean"}
    }
  }
}`

// esDocument 是记录在 Elasticsearch 中的形态，包含不对外序列化的密码字段
type esDocument struct {
	ID                string     `json:"id"`
	Filename          string     `json:"filename"`
	OriginalName      string     `json:"original_name"`
	Size              int64      `json:"size"`
	MimeType          string     `json:"mime_type"`
	URL               string     `json:"url"`
	UploadedAt        time.Time  `json:"uploaded_at"`
	DownloadCount     int64      `json:"download_count"`
	OwnerID           string     `json:"owner_id"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PasswordProtected bool       `json:"password_protected"`
	PasswordHash      string     `json:"password_hash,omitempty"`
	PasswordScheme    string     `json:"password_scheme,omitempty"`
	Encrypted         bool       `json:"encrypted"`
}

func toESDocument(rec *models.FileRecord) esDocument {
	return esDocument{
		ID:                rec.ID,
		Filename:          rec.Filename,
		OriginalName:      rec.OriginalName,
		Size:              rec.Size,
		MimeType:          rec.MimeType,
		URL:               rec.URL,
		UploadedAt:        rec.UploadedAt,
		DownloadCount:     rec.DownloadCount,
		OwnerID:           rec.OwnerID,
		ExpiresAt:         rec.ExpiresAt,
		PasswordProtected: rec.PasswordProtected,
		PasswordHash:      rec.PasswordHash,
		PasswordScheme:    rec.PasswordScheme,
		Encrypted:         rec.Encrypted,
	}
}

func (d esDocument) toRecord() *models.FileRecord {
	return &models.FileRecord{
		ID:                d.ID,
		Filename:          d.Filename,
		OriginalName:      d.OriginalName,
		Size:              d.Size,
		MimeType:          d.MimeType,
		URL:               d.URL,
		UploadedAt:        d.UploadedAt,
		DownloadCount:     d.DownloadCount,
		OwnerID:           d.OwnerID,
		ExpiresAt:         d.ExpiresAt,
		PasswordProtected: d.PasswordProtected,
		PasswordHash:      d.PasswordHash,
		PasswordScheme:    d.PasswordScheme,
		Encrypted:         d.Encrypted,
	}
}

// ElasticsearchBackend 以文档形式存储记录，写入使用 refresh=true 保证写后即读
type ElasticsearchBackend struct {
	es    *elasticsearch.Client
	index string
}

func NewElasticsearchBackend(es *elasticsearch.Client, index string) *ElasticsearchBackend {
	return &ElasticsearchBackend{es: es, index: index}
}

func (r *ElasticsearchBackend) Name() string { return "elasticsearch" }

// EnsureIndex 索引不存在时按映射创建
func (r *ElasticsearchBackend) EnsureIndex(ctx context.Context) error {
	res, err := r.es.Indices.Exists([]string{r.index}, r.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查 Elasticsearch 索引失败: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = r.es.Indices.Create(r.index,
		r.es.Indices.Create.WithBody(bytes.NewReader([]byte(esMapping))),
		r.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建 Elasticsearch 索引失败: %w", err)
	}
	defer res.Body.Close()
	// 并发启动时另一实例可能已创建
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return responseError("create index", res)
	}
	return nil
}

func (r *ElasticsearchBackend) Put(ctx context.Context, rec *models.FileRecord) error {
	body, err := json.Marshal(toESDocument(rec))
	if err != nil {
		return err
	}
	res, err := r.es.Index(r.index, bytes.NewReader(body),
		r.es.Index.WithDocumentID(rec.ID),
		r.es.Index.WithRefresh("true"),
		r.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("写入 Elasticsearch 文档失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index", res)
	}
	return nil
}

func (r *ElasticsearchBackend) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	res, err := r.es.Get(r.index, id, r.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("读取 Elasticsearch 文档失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if res.IsError() {
		return nil, responseError("get", res)
	}

	var out struct {
		Found  bool       `json:"found"`
		Source esDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 文档失败: %w", err)
	}
	if !out.Found {
		return nil, ErrRecordNotFound
	}
	return out.Source.toRecord(), nil
}

func (r *ElasticsearchBackend) Update(ctx context.Context, id string, patch Patch) error {
	doc := map[string]any{}
	if patch.OriginalName != nil {
		doc["original_name"] = *patch.OriginalName
	}
	if patch.ExpiresAt != nil {
		doc["expires_at"] = patch.ExpiresAt.UTC()
	}
	if patch.PasswordHash != nil {
		doc["password_hash"] = *patch.PasswordHash
	}
	if patch.PasswordScheme != nil {
		doc["password_scheme"] = *patch.PasswordScheme
	}
	return r.update(ctx, id, map[string]any{"doc": doc})
}

// IncrementDownloads 使用 painless 脚本在服务端自增
func (r *ElasticsearchBackend) IncrementDownloads(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		"script": map[string]any{
			"source": "ctx._source.download_count += params.n",
			"lang":   "painless",
			"params": map[string]any{"n": 1},
		},
	})
}

func (r *ElasticsearchBackend) update(ctx context.Context, id string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := r.es.Update(r.index, id, bytes.NewReader(body),
		r.es.Update.WithRefresh("true"),
		r.es.Update.WithRetryOnConflict(3),
		r.es.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("更新 Elasticsearch 文档失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return ErrRecordNotFound
	}
	if res.IsError() {
		return responseError("update", res)
	}
	return nil
}

func (r *ElasticsearchBackend) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.es.Delete(r.index, id,
		r.es.Delete.WithRefresh("true"),
		r.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("删除 Elasticsearch 文档失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, responseError("delete", res)
	}
	return true, nil
}

func (r *ElasticsearchBackend) Query(ctx context.Context, filter Filter) ([]*models.FileRecord, error) {
	query := map[string]any{"match_all": map[string]any{}}
	if filter.OwnerID != "" {
		query = map[string]any{"term": map[string]any{"owner_id": filter.OwnerID}}
	}
	body, err := json.Marshal(map[string]any{
		"query": query,
		"size":  esMaxResults,
		"sort":  []any{map[string]any{"uploaded_at": map[string]any{"order": "desc"}}},
	})
	if err != nil {
		return nil, err
	}

	res, err := r.es.Search(
		r.es.Search.WithIndex(r.index),
		r.es.Search.WithBody(bytes.NewReader(body)),
		r.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("查询 Elasticsearch 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Source esDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 查询结果失败: %w", err)
	}
	recs := make([]*models.FileRecord, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		recs = append(recs, h.Source.toRecord())
	}
	return recs, nil
}

func (r *ElasticsearchBackend) Ping(ctx context.Context) error {
	res, err := r.es.Ping(r.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	return fmt.Errorf("elasticsearch %s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}

package models

import (
	"strings"
	"time"
)

// 密码存储方案，持久化为显式标签而不是依赖前缀嗅探
const (
	SchemeNone      = ""
	SchemeBcrypt    = "bcrypt"
	SchemePlaintext = "plaintext" // 旧数据遗留的明文密码，等待迁移
)

// FileRecord 一次上传对应的元数据记录
type FileRecord struct {
	ID                string     `gorm:"primaryKey;type:varchar(16)" json:"id" msgpack:"id"`
	Filename          string     `gorm:"type:varchar(255);not null" json:"filename" msgpack:"filename"`
	OriginalName      string     `gorm:"type:varchar(512);not null" json:"originalName" msgpack:"original_name"`
	Size              int64      `gorm:"not null" json:"size" msgpack:"size"`
	MimeType          string     `gorm:"type:varchar(255)" json:"mimeType" msgpack:"mime_type"`
	URL               string     `gorm:"type:varchar(1024)" json:"url" msgpack:"url"`
	UploadedAt        time.Time  `gorm:"not null;index" json:"uploadedAt" msgpack:"uploaded_at"`
	DownloadCount     int64      `gorm:"not null;default:0" json:"downloadCount" msgpack:"download_count"`
	OwnerID           string     `gorm:"type:varchar(64);not null;index" json:"ownerId" msgpack:"owner_id"`
	ExpiresAt         *time.Time `gorm:"index" json:"expiresAt,omitempty" msgpack:"expires_at"`
	PasswordProtected bool       `gorm:"not null;default:false" json:"passwordProtected" msgpack:"password_protected"`
	PasswordHash      string     `gorm:"type:varchar(255)" json:"-" msgpack:"password_hash"`
	PasswordScheme    string     `gorm:"type:varchar(16)" json:"-" msgpack:"password_scheme"`
	Encrypted         bool       `gorm:"not null;default:false" json:"encrypted" msgpack:"encrypted"`

	// Password 仅在写入时携带原始密码，落盘前会被哈希
	Password string `gorm:"-" json:"-" msgpack:"-"`
}

func (FileRecord) TableName() string {
	return "file_records"
}

// IsExpired 判断记录在 now 时刻是否已过期，ExpiresAt 为空的记录不会惰性过期
func (f *FileRecord) IsExpired(now time.Time) bool {
	return f.ExpiresAt != nil && !now.Before(*f.ExpiresAt)
}

// ExpiryOrDefault 返回清理任务使用的过期时间
func (f *FileRecord) ExpiryOrDefault(ttl time.Duration) time.Time {
	if f.ExpiresAt != nil {
		return *f.ExpiresAt
	}
	return f.UploadedAt.Add(ttl)
}

// Secret 返回记录的密码变体，未设置密码时 ok 为 false
func (f *FileRecord) Secret() (PasswordSecret, bool) {
	if !f.PasswordProtected || f.PasswordHash == "" {
		return PasswordSecret{}, false
	}
	scheme := f.PasswordScheme
	if scheme == SchemeNone {
		// 缺少标签的旧行按前缀判断一次
		scheme = ClassifyScheme(f.PasswordHash)
	}
	if scheme == SchemeBcrypt {
		return Hashed(f.PasswordHash), true
	}
	return LegacyPlaintext(f.PasswordHash), true
}

// SetSecret 写入密码变体
func (f *FileRecord) SetSecret(s PasswordSecret) {
	f.PasswordProtected = true
	f.PasswordHash = s.value
	f.PasswordScheme = s.scheme
}

// ClearSecret 移除密码保护
func (f *FileRecord) ClearSecret() {
	f.PasswordProtected = false
	f.PasswordHash = ""
	f.PasswordScheme = SchemeNone
}

// PasswordSecret 是 Hashed | LegacyPlaintext 两种形态的标签联合
type PasswordSecret struct {
	scheme string
	value  string
}

func Hashed(hash string) PasswordSecret {
	return PasswordSecret{scheme: SchemeBcrypt, value: hash}
}

func LegacyPlaintext(plain string) PasswordSecret {
	return PasswordSecret{scheme: SchemePlaintext, value: plain}
}

func (s PasswordSecret) IsHashed() bool { return s.scheme == SchemeBcrypt }
func (s PasswordSecret) IsLegacy() bool { return s.scheme == SchemePlaintext }
func (s PasswordSecret) Value() string  { return s.value }
func (s PasswordSecret) Scheme() string { return s.scheme }

// ClassifyScheme bcrypt 输出固定以 "$2" 开头
func ClassifyScheme(stored string) string {
	if strings.HasPrefix(stored, "$2") {
		return SchemeBcrypt
	}
	return SchemePlaintext
}

// FilePatch 允许所有者修改的字段
type FilePatch struct {
	OriginalName *string    `json:"originalName,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

func (p FilePatch) IsEmpty() bool {
	return p.OriginalName == nil && p.ExpiresAt == nil
}

// Apply 将补丁应用到记录上
func (p FilePatch) Apply(f *FileRecord) {
	if p.OriginalName != nil {
		f.OriginalName = *p.OriginalName
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		f.ExpiresAt = &t
	}
}

// FileView 返回给客户端的视图
type FileView struct {
	*FileRecord
	ShareURL      string `json:"shareUrl"`
	ExpiresInSecs int64  `json:"expiresInSeconds"`
	ExpiringSoon  bool   `json:"expiringSoon"`
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&FileRecord{ExpiresAt: &past}).IsExpired(now))
	assert.True(t, (&FileRecord{ExpiresAt: &now}).IsExpired(now))
	assert.False(t, (&FileRecord{ExpiresAt: &future}).IsExpired(now))
	assert.False(t, (&FileRecord{}).IsExpired(now))
}

func TestExpiryOrDefault(t *testing.T) {
	up := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := up.Add(time.Hour)

	assert.Equal(t, up.Add(5*time.Minute), (&FileRecord{UploadedAt: up}).ExpiryOrDefault(5*time.Minute))
	assert.Equal(t, exp, (&FileRecord{UploadedAt: up, ExpiresAt: &exp}).ExpiryOrDefault(5*time.Minute))
}

func TestSecret(t *testing.T) {
	rec := &FileRecord{}
	_, ok := rec.Secret()
	assert.False(t, ok)

	rec.SetSecret(Hashed("$2a$10$hash"))
	s, ok := rec.Secret()
	assert.True(t, ok)
	assert.True(t, s.IsHashed())
	assert.True(t, rec.PasswordProtected)

	// 没有方案标签的旧行按前缀归类
	legacy := &FileRecord{PasswordProtected: true, PasswordHash: "abcd"}
	s, ok = legacy.Secret()
	assert.True(t, ok)
	assert.True(t, s.IsLegacy())
	assert.Equal(t, "abcd", s.Value())

	untagged := &FileRecord{PasswordProtected: true, PasswordHash: "$2b$10$hash"}
	s, _ = untagged.Secret()
	assert.True(t, s.IsHashed())

	rec.ClearSecret()
	assert.False(t, rec.PasswordProtected)
	assert.Empty(t, rec.PasswordHash)
	assert.Equal(t, SchemeNone, rec.PasswordScheme)
}

func TestFilePatch(t *testing.T) {
	assert.True(t, FilePatch{}.IsEmpty())

	name := "new.pdf"
	exp := time.Now().Add(time.Hour)
	rec := &FileRecord{OriginalName: "old.pdf"}
	FilePatch{OriginalName: &name, ExpiresAt: &exp}.Apply(rec)

	assert.Equal(t, "new.pdf", rec.OriginalName)
	assert.True(t, exp.Equal(*rec.ExpiresAt))
	// 补丁中的时间被拷贝，不共享指针
	assert.NotSame(t, &exp, rec.ExpiresAt)
}

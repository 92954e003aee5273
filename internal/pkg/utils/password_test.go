package utils

import (
	"strings"
	"testing"

	"github.com/3Eeeecho/go-dropshare/internal/models"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewPasswordGuard_ClampsCost(t *testing.T) {
	assert.Equal(t, MinBcryptCost, NewPasswordGuard(4).cost)
	assert.Equal(t, 12, NewPasswordGuard(12).cost)
	assert.Equal(t, bcrypt.MaxCost, NewPasswordGuard(99).cost)
}

func TestHash_RejectsEmpty(t *testing.T) {
	g := NewPasswordGuard(MinBcryptCost)
	_, err := g.Hash("")
	assert.ErrorIs(t, err, xerr.ErrEmptyInput)
	assert.ErrorIs(t, err, xerr.ErrValidation)
}

func TestHashAndVerify(t *testing.T) {
	g := NewPasswordGuard(MinBcryptCost)
	secret, err := g.Hash("abcd")
	require.NoError(t, err)

	assert.True(t, secret.IsHashed())
	assert.NotEqual(t, "abcd", secret.Value())
	assert.True(t, strings.HasPrefix(secret.Value(), "$2"))

	assert.True(t, g.Verify("abcd", secret))
	assert.False(t, g.Verify("abce", secret))
	assert.False(t, g.Verify("", secret))
}

func TestVerify_MalformedHashReturnsFalse(t *testing.T) {
	g := NewPasswordGuard(MinBcryptCost)
	assert.False(t, g.Verify("abcd", models.Hashed("$2a$not-a-hash")))
	assert.False(t, g.Verify("abcd", models.PasswordSecret{}))
}

func TestVerify_LegacyPlaintext(t *testing.T) {
	g := NewPasswordGuard(MinBcryptCost)
	legacy := models.LegacyPlaintext("hunter22")
	assert.True(t, g.Verify("hunter22", legacy))
	assert.False(t, g.Verify("hunter23", legacy))
}

func TestIngest(t *testing.T) {
	g := NewPasswordGuard(MinBcryptCost)

	hashed, err := g.Hash("secret1")
	require.NoError(t, err)

	kept, err := g.Ingest(hashed.Value())
	require.NoError(t, err)
	assert.Equal(t, hashed.Value(), kept.Value(), "existing bcrypt hash is kept as-is")

	fresh, err := g.Ingest("plain-secret")
	require.NoError(t, err)
	assert.True(t, fresh.IsHashed())
	assert.True(t, g.Verify("plain-secret", fresh))

	// 形似 bcrypt 但无法解析的值按明文处理
	odd, err := g.Ingest("$2-looks-like-a-hash")
	require.NoError(t, err)
	assert.True(t, g.Verify("$2-looks-like-a-hash", odd))

	_, err = g.Ingest("")
	assert.ErrorIs(t, err, xerr.ErrEmptyInput)
}

func TestNeedsRehash(t *testing.T) {
	low := NewPasswordGuard(MinBcryptCost)
	high := NewPasswordGuard(MinBcryptCost + 1)

	secret, err := low.Hash("abcd")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(secret))
	assert.True(t, high.NeedsRehash(secret))
	assert.True(t, low.NeedsRehash(models.LegacyPlaintext("abcd")))
}

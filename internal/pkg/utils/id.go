package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	FileIDLen  = 4

	// 256 以内 36 的最大倍数，不小于它的字节直接丢弃
	maxUnbiasedByte = 256 - 256%len(idAlphabet)
)

// NewFileID 生成 4 位 [a-z0-9] 短ID，空间为 36^4
func NewFileID() (string, error) {
	return newFileID(rand.Reader)
}

// newFileID 拒绝采样，保证每一位在字母表上均匀分布
func newFileID(r io.Reader) (string, error) {
	id := make([]byte, 0, FileIDLen)
	buf := make([]byte, FileIDLen*2)
	for len(id) < FileIDLen {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiasedByte {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == FileIDLen {
				break
			}
		}
	}
	return string(id), nil
}

// NewSessionID 生成 8 字节随机数的十六进制表示
func NewSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsValidFileID 校验路径参数
func IsValidFileID(id string) bool {
	if len(id) != FileIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

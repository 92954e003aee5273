package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var extMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".rar":  "application/x-rar-compressed",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".json": "application/json",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

const defaultMimeType = "application/octet-stream"

// FileExt 返回小写扩展名 (含点)，没有扩展名时返回空串
func FileExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// ResolveMimeType 客户端未声明或声明为通用二进制时按扩展名推断
func ResolveMimeType(declared, name string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != defaultMimeType {
		return declared
	}
	if mt, ok := extMimeTypes[FileExt(name)]; ok {
		return mt
	}
	return defaultMimeType
}

// MimeAllowed 判断 MIME 是否匹配任一允许的前缀
func MimeAllowed(mimeType string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(mimeType, p) {
			return true
		}
	}
	return false
}

// ExtensionBlocked 判断扩展名是否在黑名单中
func ExtensionBlocked(name string, blocked []string) bool {
	ext := FileExt(name)
	if ext == "" {
		return false
	}
	for _, b := range blocked {
		if strings.EqualFold(ext, b) {
			return true
		}
	}
	return false
}

// ContentDisposition 生成兼容非 ASCII 文件名的 Content-Disposition
func ContentDisposition(disposition, name string) string {
	fallback := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r > 0x7e, r == '"', r == '\\':
			fallback = append(fallback, '_')
		default:
			fallback = append(fallback, r)
		}
	}
	encoded := strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disposition, string(fallback), encoded)
}

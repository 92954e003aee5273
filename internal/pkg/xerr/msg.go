package xerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrValidation         = errors.New("参数验证失败")
	ErrEmptyInput         = fmt.Errorf("输入为空: %w", ErrValidation)
	ErrFileTooLarge       = fmt.Errorf("上传文件过大，超出限制: %w", ErrValidation)
	ErrFileTypeNotAllowed = fmt.Errorf("不允许上传该类型的文件: %w", ErrValidation)
	ErrInvalidTTL         = fmt.Errorf("过期时间无效: %w", ErrValidation)

	// 认证与授权错误
	ErrUnauthorized      = errors.New("无权操作此文件")
	ErrSessionInvalid    = errors.New("会话无效或已过期")
	ErrPasswordRequired  = errors.New("该文件需要密码")
	ErrPasswordIncorrect = errors.New("文件密码不正确")

	// 资源未找到错误
	ErrNotFound = errors.New("文件不存在或已过期")

	// 限流
	ErrRateLimited = errors.New("请求过于频繁，请稍后再试")

	// 后端与外部服务错误
	ErrBackendUnavailable   = errors.New("元数据服务暂不可用")
	ErrStorageInconsistency = errors.New("对象存储与元数据不一致")
	ErrStorage              = errors.New("存储服务操作失败")
	ErrIDExhausted          = errors.New("无法生成唯一文件ID")
)

// Validation 返回带有具体原因的参数验证错误，errors.Is(err, ErrValidation) 为 true
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// RateLimitError 携带重试等待时间的限流错误
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

package xerr

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CodeError 结构体用于在服务层传递带有业务码的错误
// 它实现了 error 接口
type CodeError struct {
	Code int   // 业务错误码
	Err  error // 被包裹的底层错误
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return e.Err.Error()
}

// Unwrap 返回被包裹的底层错误，支持 errors.Unwrap
func (e *CodeError) Unwrap() error {
	return e.Err
}

// NewCodeError 创建一个 CodeError 实例
func NewCodeError(code int, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Is 判断错误是否为指定的错误类型
// 如果 err 是 *CodeError，则会解包后与 target 比较
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Classify 将错误映射为 HTTP 状态码与业务码
// "文件不存在"、"无权操作"、"稍后再试" 三类必须在接口边界保持可区分
func Classify(err error) (httpStatus int, code int) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return statusForCode(ce.Code), ce.Code
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, FileNotFoundCode
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, PermissionDeniedCode
	case errors.Is(err, ErrPasswordRequired):
		return http.StatusUnauthorized, FilePasswordRequiredCode
	case errors.Is(err, ErrPasswordIncorrect):
		return http.StatusUnauthorized, FilePasswordIncorrectCode
	case errors.Is(err, ErrSessionInvalid):
		return http.StatusUnauthorized, SessionInvalidCode
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, FileTooLargeCode
	case errors.Is(err, ErrFileTypeNotAllowed):
		return http.StatusUnsupportedMediaType, FileTypeNotAllowedCode
	case errors.Is(err, ErrInvalidTTL):
		return http.StatusBadRequest, InvalidTTLCode
	case errors.Is(err, ErrEmptyInput):
		return http.StatusBadRequest, EmptyInputCode
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, ValidationFailedCode
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, RateLimitedCode
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable, BackendUnavailableCode
	case errors.Is(err, ErrStorageInconsistency):
		return http.StatusInternalServerError, StorageInconsistencyCode
	case errors.Is(err, ErrStorage):
		return http.StatusBadGateway, StorageErrorCode
	default:
		return http.StatusInternalServerError, InternalServerErrorCode
	}
}

func statusForCode(code int) int {
	switch code / 100 {
	case 400:
		return http.StatusBadRequest
	case 401:
		return http.StatusUnauthorized
	case 403:
		return http.StatusForbidden
	case 404:
		return http.StatusNotFound
	case 429:
		return http.StatusTooManyRequests
	case 503:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response 是通用 JSON 响应结构
type Response struct {
	Code    int    `json:"code"`    // 业务状态码
	Message string `json:"message"` // 消息
	Data    any    `json:"data"`    // 响应数据
}

// JSONResponse 发送标准 JSON 响应
func JSONResponse(c *gin.Context, httpStatus int, code int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success 成功响应
func Success(c *gin.Context, httpStatus int, message string, data any) {
	JSONResponse(c, httpStatus, SuccessCode, message, data)
}

// Error 错误响应
func Error(c *gin.Context, httpStatus int, code int, message string) {
	JSONResponse(c, httpStatus, code, message, nil)
}

// AbortWithError 终止请求并发送错误响应
func AbortWithError(c *gin.Context, httpStatus int, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort() // 终止后续的 HandlerFunc
}

// Respond 根据错误类型发送错误响应，限流错误会附带 Retry-After 头
// 5xx 不向客户端暴露内部错误信息
func Respond(c *gin.Context, err error) {
	status, code := Classify(err)

	var rl *RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError && !errors.Is(err, ErrBackendUnavailable) {
		msg = ErrInternalServer.Error()
	}
	AbortWithError(c, status, code, msg)
}

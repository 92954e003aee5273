package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode      = 40000 // 无效的请求参数
	ValidationFailedCode   = 40001 // 参数验证失败
	FileTooLargeCode       = 40003 // 文件过大
	FileNameInvalidCode    = 40004 // 文件名无效
	FileTypeNotAllowedCode = 40005 // 文件类型不允许
	InvalidTTLCode         = 40006 // 过期时间无效
	EmptyInputCode         = 40007 // 输入为空

	// --- 认证错误系列 (401xx) ---
	UnauthorizedCode          = 40100 // 通用未授权
	SessionInvalidCode        = 40101 // 会话无效或过期
	FilePasswordRequiredCode  = 40102 // 文件需要密码
	FilePasswordIncorrectCode = 40103 // 文件密码不正确

	// --- 权限错误系列 (403xx) ---
	ForbiddenCode        = 40300 // 通用无权限
	PermissionDeniedCode = 40301 // 不是文件所有者

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode     = 40400 // 通用资源未找到
	FileNotFoundCode = 40402 // 文件不存在或已过期

	// --- 限流 (429xx) ---
	RateLimitedCode = 42900 // 请求过于频繁

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode   = 50000 // 服务器内部通用错误
	DatabaseErrorCode         = 50001 // 元数据后端操作失败
	StorageErrorCode          = 50002 // 存储服务操作失败（如MinIO）
	StorageInconsistencyCode  = 50003 // 对象与元数据不一致
	BackendUnavailableCode    = 50300 // 主备元数据后端均不可用
	IDGenerationExhaustedCode = 50004 // 无法生成不冲突的文件ID
)

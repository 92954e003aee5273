package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper" // 导入 Viper
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	AliyunOSS     AliyunOSSConfig     `mapstructure:"aliyun_oss"`
	Session       SessionConfig       `mapstructure:"session"`
	Storage       StorageConfig       `mapstructure:"storageconfig"`
	Metadata      MetadataConfig      `mapstructure:"metadata"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Upload        UploadConfig        `mapstructure:"upload"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Log           LogConfig           `mapstructure:"log"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	Mode          string        `mapstructure:"mode"`            // gin 运行模式: debug / release / test
	PublicBaseURL string        `mapstructure:"public_base_url"` // 分享链接前缀, 例如 https://share.dyhs.kr
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	Gzip          bool          `mapstructure:"gzip"`

	// 只有来自这些地址的 X-Forwarded-For / X-Real-IP 才会被采信
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// MySQLConfig 数据库配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	PublicEndpoint  string `mapstructure:"public_endpoint"` // 对外可访问的地址, 为空时使用 Endpoint
}

type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"` // OSS SDK 默认是HTTPS，但为了明确
}

// SessionConfig 匿名会话 Cookie 配置
type SessionConfig struct {
	SecretKey  string        `mapstructure:"secret_key"`
	CookieName string        `mapstructure:"cookie_name"`
	ExpiresIn  time.Duration `mapstructure:"expires_in"`
	Issuer     string        `mapstructure:"issuer"`
	Secure     bool          `mapstructure:"secure"`
}

type StorageConfig struct {
	Type string `mapstructure:"type"` // minio / aliyun_oss
}

// MetadataConfig 元数据后端配置
type MetadataConfig struct {
	Primary      string        `mapstructure:"primary"`       // redis / mysql / elasticsearch
	FallbackPath string        `mapstructure:"fallback_path"` // 本地 bbolt 文件
	Timeout      time.Duration `mapstructure:"timeout"`       // 单次后端调用超时
	KeyPrefix    string        `mapstructure:"key_prefix"`    // redis key 前缀
	Index        string        `mapstructure:"index"`         // elasticsearch 索引名
}

// LifecycleConfig 过期与清理配置，TTL 单位为分钟
type LifecycleConfig struct {
	DefaultTTL     int           `mapstructure:"default_ttl"`
	MinTTL         int           `mapstructure:"min_ttl"`
	MaxTTL         int           `mapstructure:"max_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepRate      float64       `mapstructure:"sweep_rate"` // 每秒最多删除数
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	MigrateLegacy  bool          `mapstructure:"migrate_legacy"`
}

type UploadConfig struct {
	MaxFileSize         int64    `mapstructure:"max_file_size"`
	AllowedMimePrefixes []string `mapstructure:"allowed_mime_prefixes"`
	BlockedExtensions   []string `mapstructure:"blocked_extensions"`
	MinPasswordLength   int      `mapstructure:"min_password_length"`
	BcryptCost          int      `mapstructure:"bcrypt_cost"`
}

type RateLimitConfig struct {
	UploadLimit  int           `mapstructure:"upload_limit"`
	UploadWindow time.Duration `mapstructure:"upload_window"`
	APILimit     int           `mapstructure:"api_limit"`
	APIWindow    time.Duration `mapstructure:"api_window"`
	Grace        time.Duration `mapstructure:"grace"`
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // 天
	Compress   bool   `mapstructure:"compress"`
}

// ElasticsearchConfig 定义 Elasticsearch 连接配置
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultTTLDuration 返回默认过期时长
func (c LifecycleConfig) DefaultTTLDuration() time.Duration {
	return time.Duration(c.DefaultTTL) * time.Minute
}

// setDefaults 设置默认值 (如果配置文件和环境变量中都没有，则使用这些默认值)
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.public_base_url", "https://share.dyhs.kr")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute) // 大文件下载
	v.SetDefault("server.gzip", true)
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1", "::1"})

	v.SetDefault("mysql.dsn", "root:root@tcp(mysql:3306)/dropshare?charset=utf8mb4&parseTime=True&loc=Local")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("elasticsearch.addresses", []string{"http://elasticsearch:9200"})

	v.SetDefault("storageconfig.type", "minio")
	v.SetDefault("minio.endpoint", "minio:9000")
	v.SetDefault("minio.access_key_id", "minioadmin")
	v.SetDefault("minio.secret_access_key", "minioadmin")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "dropshare")

	v.SetDefault("session.secret_key", "change-me-in-production")
	v.SetDefault("session.cookie_name", "ds_session")
	v.SetDefault("session.expires_in", 30*24*time.Hour)
	v.SetDefault("session.issuer", "go-dropshare")
	v.SetDefault("session.secure", false)

	v.SetDefault("metadata.primary", "redis")
	v.SetDefault("metadata.fallback_path", "./data/fallback.db")
	v.SetDefault("metadata.timeout", 3*time.Second)
	v.SetDefault("metadata.key_prefix", "dropshare")
	v.SetDefault("metadata.index", "dropshare-files")

	v.SetDefault("lifecycle.default_ttl", 5)
	v.SetDefault("lifecycle.min_ttl", 1)
	v.SetDefault("lifecycle.max_ttl", 120)
	v.SetDefault("lifecycle.sweep_interval", time.Minute)
	v.SetDefault("lifecycle.sweep_rate", 20.0)
	v.SetDefault("lifecycle.reaper_interval", 5*time.Minute)
	v.SetDefault("lifecycle.migrate_legacy", true)

	v.SetDefault("upload.max_file_size", int64(1<<30))
	v.SetDefault("upload.allowed_mime_prefixes", []string{
		"image/", "video/", "audio/", "application/pdf", "application/zip",
		"application/x-rar-compressed", "text/", "application/json",
		"application/msword", "application/vnd.openxmlformats-officedocument",
	})
	v.SetDefault("upload.blocked_extensions", []string{".exe", ".bat", ".cmd", ".scr"})
	v.SetDefault("upload.min_password_length", 4)
	v.SetDefault("upload.bcrypt_cost", 10)

	v.SetDefault("ratelimit.upload_limit", 20)
	v.SetDefault("ratelimit.upload_window", time.Minute)
	v.SetDefault("ratelimit.api_limit", 50)
	v.SetDefault("ratelimit.api_window", time.Minute)
	v.SetDefault("ratelimit.grace", time.Minute)

	v.SetDefault("log.output_path", "logs/app.log")
	v.SetDefault("log.error_path", "logs/error.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 15)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig 加载配置
// configFile 为空时按默认路径查找 config.yaml
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")              // 配置文件名 (不带扩展名)
		v.SetConfigType("yaml")                // 配置文件类型
		v.AddConfigPath(".")                   // 在当前目录查找配置文件
		v.AddConfigPath("./configs")           // 也可以添加其他路径，例如 ./configs/
		v.AddConfigPath("/etc/go-dropshare/")  // 生产环境常见路径
	}

	// 读取环境变量，例如 GO_DROPSHARE_SERVER_PORT 对应 server.port
	v.SetEnvPrefix("GO_DROPSHARE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// 其他读取错误，例如配置文件格式错误
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// 配置文件未找到不是致命错误，可以依赖环境变量或默认值
		log.Println("Warning: config file not found, using environment variables or default values.")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return cfg, nil
}

// Validate 检查配置之间的约束
func (c *Config) Validate() error {
	lc := c.Lifecycle
	if lc.MinTTL < 1 || lc.MaxTTL < lc.MinTTL {
		return fmt.Errorf("invalid ttl range [%d, %d]", lc.MinTTL, lc.MaxTTL)
	}
	if lc.DefaultTTL < lc.MinTTL || lc.DefaultTTL > lc.MaxTTL {
		return fmt.Errorf("default ttl %d outside [%d, %d]", lc.DefaultTTL, lc.MinTTL, lc.MaxTTL)
	}
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	switch c.Metadata.Primary {
	case "redis", "mysql", "elasticsearch":
	default:
		return fmt.Errorf("unknown metadata.primary %q", c.Metadata.Primary)
	}
	return nil
}

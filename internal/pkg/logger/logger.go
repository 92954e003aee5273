package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger 初始化 Zap 日志库
// 日志同时写入 stdout、滚动的 OutputPath 文件，ERROR 及以上额外写入 ErrorPath
// level: 日志级别 (debug, info, warn, error, dpanic, panic, fatal)
func InitLogger(cfg config.LogConfig) {
	once.Do(func() {
		log = newLogger(cfg)
		zap.ReplaceGlobals(log)
	})
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(cfg.Level)); err != nil {
		l = zap.InfoLevel // 默认 INFO 级别
		fmt.Fprintf(os.Stderr, "Failed to parse log level '%s', defaulting to info: %v\n", cfg.Level, err)
	}
	level := zap.NewAtomicLevelAt(l)

	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewJSONEncoder(ec)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotating(cfg, cfg.OutputPath)), level))
	}
	if cfg.ErrorPath != "" && cfg.ErrorPath != "stderr" {
		errLevel := zap.LevelEnablerFunc(func(lv zapcore.Level) bool {
			return lv >= zapcore.ErrorLevel && level.Enabled(lv)
		})
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotating(cfg, cfg.ErrorPath)), errLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// 按大小滚动的日志文件
func rotating(cfg config.LogConfig, path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// 返回全局logger
func GetLogger() *zap.Logger {
	if log == nil {
		// 如果在调用 InitLogger 之前调用 GetLogger，则初始化一个仅输出到 stdout 的 logger
		// 生产环境中应确保 InitLogger 在应用启动时被调用
		InitLogger(config.LogConfig{Level: "info"})
	}
	return log
}

// ReplaceLogger 替换全局 logger，返回恢复原 logger 的函数
func ReplaceLogger(l *zap.Logger) func() {
	prev := GetLogger()
	log = l
	return func() { log = prev }
}

// Sugar 返回 Zap 的 SugaredLogger，它提供了更灵活的 API (类似 fmt.Printf)
func Sugar() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// 刷新缓冲区,确保程序退出前使用
func Sync() {
	if log != nil {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync zap logger: %v\n", err)
		}
	}
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// Package logger 提供基于 zap 的结构化日志工具
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"LE_LOG_LEVEL"`   // debug, info, warn, error
	Format     string `yaml:"format" env:"LE_LOG_FORMAT"` // console, json
	Output     string `yaml:"output" env:"LE_LOG_OUTPUT"` // stderr, file, both
	FilePath   string `yaml:"file_path" env:"LE_LOG_FILE"`
	MaxSize    int    `yaml:"max_size_mb"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age_days"` // days
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

var (
	mu    sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init 根据配置（重新）初始化全局日志实例
func Init(cfg Config) {
	l := newLogger(cfg, os.Stderr)
	replace(l)
}

// InitWithWriter 将日志写入指定 writer，主要用于测试
func InitWithWriter(cfg Config, w io.Writer) {
	replace(newLogger(cfg, w))
}

// ReplaceCore 使用自定义 core 替换日志实例（测试中配合 observer 使用）
func ReplaceCore(core zapcore.Core) {
	replace(zap.New(core))
}

func replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// newLogger 创建日志实例
func newLogger(cfg Config, stderr io.Writer) *zap.Logger {
	SetLevelFromString(cfg.Level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	if cfg.Output == "stderr" || cfg.Output == "both" || cfg.Output == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(stderr), level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// L 获取底层 zap 日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(DefaultConfig())
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

func s() *zap.SugaredLogger {
	mu.RLock()
	sl := sugar
	mu.RUnlock()
	if sl == nil {
		return L().Sugar()
	}
	return sl
}

// SetLevelFromString 从字符串设置日志级别，未知值回退到 info
func SetLevelFromString(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// EnableDebug 启用调试日志
func EnableDebug() {
	level.SetLevel(zapcore.DebugLevel)
}

// IsDebugEnabled 检查是否启用调试日志
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Debug 输出调试日志，keysAndValues 为成对的键值
func Debug(msg string, keysAndValues ...interface{}) {
	s().Debugw(msg, keysAndValues...)
}

// Info 输出信息日志
func Info(msg string, keysAndValues ...interface{}) {
	s().Infow(msg, keysAndValues...)
}

// Warn 输出警告日志
func Warn(msg string, keysAndValues ...interface{}) {
	s().Warnw(msg, keysAndValues...)
}

// Error 输出错误日志
func Error(msg string, keysAndValues ...interface{}) {
	s().Errorw(msg, keysAndValues...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

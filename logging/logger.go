// Package logging 提供基于 log/slog 的结构化日志
// 每个索引会话持有自己的 Logger，随会话一起关闭
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger 包装 slog.Logger，并持有可能打开的日志文件
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Options 日志配置
type Options struct {
	Level   string // error|warn|info|debug
	Console bool   // 输出到 stderr
	File    string // 追加写入的日志文件，为空则不写文件
}

// ParseLevel 将级别字符串转换为 slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New 按配置创建 Logger
// 既不输出到控制台也不写文件时返回丢弃所有输出的 Logger
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stderr)
	}

	var file *os.File
	if opts.File != "" {
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		return Noop(), nil
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler), file: file}, nil
}

// NewText 创建输出到 w 的文本 Logger
func NewText(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// Noop 返回丢弃所有输出的 Logger
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// With 返回附加了属性的子 Logger
// 子 Logger 不拥有日志文件，关闭它不会影响父 Logger
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close 关闭日志文件，重复调用是安全的
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

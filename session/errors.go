package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 主键或字段没有值
	ErrNotFound = errors.New("not found")

	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session is closed")

	// ErrReadOnly 引擎不支持写入
	ErrReadOnly = errors.New("engine does not accept writes")
)

// ConfigError 配置块无法解码或校验失败
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// EngineInitError 存储引擎无法打开
type EngineInitError struct {
	Mount string
	Err   error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("engine init failed at %q: %v", e.Mount, e.Err)
}

func (e *EngineInitError) Unwrap() error {
	return e.Err
}

// LookupError 读取过程中存储失败
type LookupError struct {
	Field string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup of field %q failed: %v", e.Field, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Package session 实现一次 open_index 对应的索引会话。
//
// 每个会话带一把读写锁：读取和写入持有读锁，Close 持有写锁。
// 因此 Close 会等待正在进行的读取结束，之后到达的读取得到 ErrClosed，
// 引擎不会在读取过程中被释放。
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/ingest"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
)

// Session 持有一个存储引擎
type Session struct {
	mu     sync.RWMutex
	engine Engine
	logger *logging.Logger
	closed bool

	name     string
	mount    string
	openedAt time.Time
	lookups  atomic.Uint64
}

// Info 会话的描述信息
type Info struct {
	Name     string     `json:"store_name"`
	Mount    string     `json:"mount_directory"`
	OpenedAt time.Time  `json:"opened_at"`
	Lookups  uint64     `json:"lookups"`
	Stats    *ckv.Stats `json:"stats,omitempty"`
}

// Option 定义会话的配置函数
type Option func(*options)

type options struct {
	logOverride *logging.Logger
}

// WithLogger 使用给定的 Logger，忽略配置块中的日志配置
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logOverride = l
	}
}

// Open 解码配置块并打开引擎
// 参数：
//   - blob: msgpack 配置块，调用返回后不再被引用
//   - opener: 引擎构造函数
//
// 返回：
//   - *Session: 可用的会话
//   - error: *ConfigError 或 *EngineInitError，失败时不会残留任何资源
func Open(blob []byte, opener Opener, opts ...Option) (*Session, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := config.Decode(blob)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	logger := o.logOverride
	ownsLogger := false
	if logger == nil {
		logger, err = logging.New(logging.Options{
			Level:   cfg.LogLevel(),
			Console: cfg.LogToConsole(),
			File:    cfg.LogFile(),
		})
		if err != nil {
			return nil, &EngineInitError{Mount: cfg.MountDirectory(), Err: err}
		}
		ownsLogger = true
	}

	engine, err := opener(cfg, logger.With("store", cfg.StoreName()))
	if err != nil {
		logger.Error("open index failed", "mount_directory", cfg.MountDirectory(), "error", err)
		if ownsLogger {
			logger.Close()
		}
		return nil, &EngineInitError{Mount: cfg.MountDirectory(), Err: err}
	}

	s := &Session{
		engine:   engine,
		name:     cfg.StoreName(),
		mount:    cfg.MountDirectory(),
		openedAt: time.Now(),
	}
	if ownsLogger {
		s.logger = logger
	} else {
		s.logger = logger.With()
	}
	return s, nil
}

// Lookup 读取一个字段值
// 返回：
//   - []byte: 字段值，调用方独占
//   - error: ErrNotFound、ErrClosed 或 *LookupError
func (s *Session) Lookup(pk []byte, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	s.lookups.Add(1)

	v, err := s.engine.GetFieldValue(pk, field)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Warn("lookup failed", "field", field, "error", err)
		return nil, &LookupError{Field: field, Err: err}
	}
	return v, nil
}

func (s *Session) writer() (Writer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	w, ok := s.engine.(Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	return w, nil
}

// Process 应用一条数据事件
func (s *Session) Process(ev *ingest.DataEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.Process(ev)
}

// ProcessEvent 解码并应用一条 msgpack 数据事件
func (s *Session) ProcessEvent(data []byte) error {
	ev, err := ingest.DecodeEvent(data)
	if err != nil {
		return err
	}
	return s.Process(ev)
}

// FlushWrites 将已应用的写入同步到磁盘
func (s *Session) FlushWrites() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.FlushWrites()
}

// Compact 合并引擎的数据文件，只保留存活的值
func (s *Session) Compact() (ckv.CompactionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ckv.CompactionStats{}, ErrClosed
	}
	c, ok := s.engine.(Compactor)
	if !ok {
		return ckv.CompactionStats{}, ErrReadOnly
	}

	st, err := c.Compact()
	if err != nil {
		s.logger.Error("compaction failed", "error", err)
		return st, err
	}
	s.logger.Info("compaction finished",
		"live_keys", st.LiveKeys,
		"bytes_before", st.BytesBefore,
		"bytes_after", st.BytesAfter,
	)
	return st, nil
}

// ==================== 全量导出 ====================

func (s *Session) exporter() (Exporter, error) {
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.engine.(Exporter)
	if !ok {
		return nil, ErrReadOnly
	}
	return e, nil
}

// Schema 返回引擎当前的 schema
func (s *Session) Schema() ([]schema.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.exporter()
	if err != nil {
		return nil, err
	}
	return e.Schema()
}

// Documents 逐个输出引擎中的文档
func (s *Session) Documents(fn func(doc map[string][]byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.exporter()
	if err != nil {
		return err
	}
	return e.Documents(fn)
}

// Reset 删除引擎中的全部数据
func (s *Session) Reset() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.exporter()
	if err != nil {
		return err
	}
	s.logger.Warn("resetting index data")
	return e.Reset()
}

// UpdateSchema 追加新字段
func (s *Session) UpdateSchema(fields []schema.Field) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.exporter()
	if err != nil {
		return err
	}
	return e.UpdateSchema(fields)
}

// Info 返回会话的描述信息
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Name:     s.name,
		Mount:    s.mount,
		OpenedAt: s.openedAt,
		Lookups:  s.lookups.Load(),
	}
	if st, ok := s.engine.(interface{ Stats() ckv.Stats }); ok && !s.closed {
		stats := st.Stats()
		info.Stats = &stats
	}
	return info
}

// Close 等待进行中的读取结束后释放引擎和日志
// 重复关闭返回 ErrClosed
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	err := s.engine.Close()
	if err != nil {
		s.logger.Error("close index failed", "error", err)
	} else {
		s.logger.Info("index session closed", "lookups", s.lookups.Load())
	}
	s.logger.Close()
	return err
}

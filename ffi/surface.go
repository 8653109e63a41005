// Package ffi 实现 C 边界上的操作：打开、读取、关闭、释放。
//
// 这里只做参数和结果的转换，任何错误都收敛为边界能表达的形式：
// 打开失败返回 handle.Invalid，读取失败返回 absent Buffer。
// 所有入口都会 recover，Go 的 panic 不会穿过边界。
package ffi

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/forever-free1/TideIKV/buffer"
	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/ingest"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/metrics"
	"github.com/forever-free1/TideIKV/session"
	"github.com/forever-free1/TideIKV/watch"
)

// Surface 持有句柄表、缓冲区分配器以及日志和指标
type Surface struct {
	registry *handle.Registry[*session.Session]
	alloc    *buffer.Allocator
	opener   session.Opener
	logger   *logging.Logger
	metrics  *metrics.Metrics
	hub      *watch.WatchHub

	maxHandles int
}

// Option 定义 Surface 的配置函数
type Option func(*Surface)

// WithOpener 替换引擎构造函数
func WithOpener(opener session.Opener) Option {
	return func(s *Surface) { s.opener = opener }
}

// WithLogger 设置边界层日志
func WithLogger(l *logging.Logger) Option {
	return func(s *Surface) { s.logger = l }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Surface) { s.metrics = m }
}

// WithMaxHandles 限制同时打开的句柄数，0 表示不限
func WithMaxHandles(n int) Option {
	return func(s *Surface) { s.maxHandles = n }
}

// WithWatchHub 将所有会话的数据变更通知到 hub
func WithWatchHub(hub *watch.WatchHub) Option {
	return func(s *Surface) { s.hub = hub }
}

// New 创建 Surface
func New(opts ...Option) *Surface {
	s := &Surface{
		alloc: buffer.NewAllocator(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxHandles > 0 {
		s.registry = handle.NewBoundedRegistry[*session.Session](s.maxHandles)
	} else {
		s.registry = handle.NewRegistry[*session.Session]()
	}

	if s.logger == nil {
		s.logger = logging.NewText(os.Stderr, slog.LevelWarn)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.opener == nil {
		var notifier ingest.Notifier
		if s.hub != nil {
			notifier = s.hub
		}
		s.opener = session.IndexOpener(notifier)
	}
	return s
}

var defaultSurface = sync.OnceValue(func() *Surface {
	return New(WithWatchHub(watch.NewWatchHub()))
})

// Default 返回进程级的 Surface，C 导出函数都使用它
func Default() *Surface {
	return defaultSurface()
}

// Metrics 返回指标
func (s *Surface) Metrics() *metrics.Metrics { return s.metrics }

// Allocator 返回缓冲区分配器
func (s *Surface) Allocator() *buffer.Allocator { return s.alloc }

// WatchHub 返回变更通知中心，可能为 nil
func (s *Surface) WatchHub() *watch.WatchHub { return s.hub }

// ==================== 边界操作 ====================

// OpenIndex 打开索引
// 返回：
//   - handle.Handle: 新句柄，失败时为 handle.Invalid
func (s *Surface) OpenIndex(config []byte) (h handle.Handle) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in open_index", "panic", r)
			s.metrics.OnOpen(metrics.ResultPanic)
			h = handle.Invalid
		}
	}()

	sess, err := session.Open(config, s.opener)
	if err != nil {
		s.logger.Error("open_index failed", "error", err)
		s.metrics.OnOpen(metrics.ResultError)
		return handle.Invalid
	}

	h, err = s.registry.Allocate(sess)
	if err != nil {
		s.logger.Error("open_index failed", "error", err)
		if cerr := sess.Close(); cerr != nil {
			s.logger.Error("close session after failed open_index", "error", cerr)
		}
		s.metrics.OnOpen(metrics.ResultError)
		return handle.Invalid
	}

	s.metrics.OnOpen(metrics.ResultOK)
	s.metrics.SetLiveHandles(s.registry.Len())
	return h
}

// CloseIndex 关闭索引
// 无效句柄和重复关闭只记录日志
func (s *Surface) CloseIndex(h handle.Handle) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in close_index", "handle", h, "panic", r)
			s.metrics.OnClose(metrics.ResultPanic)
		}
	}()

	sess, err := s.registry.Retire(h)
	if err != nil {
		s.logger.Warn("close_index on invalid handle", "handle", h)
		s.metrics.OnClose(metrics.ResultInvalidHandle)
		return
	}
	s.metrics.SetLiveHandles(s.registry.Len())

	// 句柄已移除，在表锁之外等待进行中的读取结束
	if err := sess.Close(); err != nil {
		s.logger.Error("close_index failed", "handle", h, "error", err)
		s.metrics.OnClose(metrics.ResultError)
		return
	}
	s.metrics.OnClose(metrics.ResultOK)
}

// GetFieldValue 读取一个字段值
// 返回：
//   - buffer.Buffer: present 时调用方必须调用 FreeBytesBuffer，
//     absent 时 Length 为 buffer 包中的状态码
func (s *Surface) GetFieldValue(h handle.Handle, pk []byte, field string) (b buffer.Buffer) {
	start := time.Now()
	result := metrics.ResultFound
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in get_field_value", "handle", h, "panic", r)
			result = metrics.ResultPanic
			b = buffer.Absent(buffer.StatusLookupError)
		}
		s.metrics.OnLookup(result, time.Since(start))
	}()

	sess, err := s.registry.Resolve(h)
	if err != nil {
		result = metrics.ResultInvalidHandle
		return buffer.Absent(buffer.StatusInvalidHandle)
	}

	value, err := sess.Lookup(pk, field)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		result = metrics.ResultNotFound
		return buffer.Absent(buffer.StatusNotFound)
	case errors.Is(err, session.ErrClosed):
		// 句柄在 Resolve 之后被并发关闭
		result = metrics.ResultInvalidHandle
		return buffer.Absent(buffer.StatusInvalidHandle)
	default:
		s.logger.Warn("get_field_value failed", "handle", h, "field", field, "error", err)
		result = metrics.ResultError
		return buffer.Absent(buffer.StatusLookupError)
	}

	b, err = s.alloc.Copy(value)
	if err != nil {
		s.logger.Warn("get_field_value failed", "handle", h, "field", field, "error", err)
		if errors.Is(err, buffer.ErrTooLarge) {
			result = metrics.ResultTooLarge
		} else {
			result = metrics.ResultError
		}
		return b
	}
	s.metrics.SetOutstandingBuffers(s.alloc.Outstanding())
	return b
}

// RejectLookup 记录一次参数非法的读取，返回对应的 absent Buffer
func (s *Surface) RejectLookup(h handle.Handle, reason string) buffer.Buffer {
	s.logger.Warn("get_field_value rejected", "handle", h, "reason", reason)
	s.metrics.OnLookup(metrics.ResultInvalidArgument, 0)
	return buffer.Absent(buffer.StatusInvalidArgument)
}

// FreeBytesBuffer 释放 GetFieldValue 返回的 Buffer
// absent 是空操作；重复释放和未知指针只记录日志，不会触碰内存
func (s *Surface) FreeBytesBuffer(b buffer.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in free_bytes_buffer", "panic", r)
			s.metrics.OnFree(metrics.ResultPanic)
		}
	}()

	if !b.IsPresent() {
		s.metrics.OnFree(metrics.ResultNoop)
		return
	}

	err := s.alloc.Free(b)
	switch {
	case err == nil:
		s.metrics.OnFree(metrics.ResultOK)
	case errors.Is(err, buffer.ErrLengthMismatch):
		s.logger.Warn("free_bytes_buffer length mismatch", "error", err)
		s.metrics.OnFree(metrics.ResultLengthMismatch)
	default:
		s.logger.Warn("free_bytes_buffer on unknown buffer", "length", b.Length, "error", err)
		s.metrics.OnFree(metrics.ResultUnknownBuffer)
	}
	s.metrics.SetOutstandingBuffers(s.alloc.Outstanding())
}

// ==================== 扩展操作 ====================

// HealthCheck 返回 0 表示库可用
func (s *Surface) HealthCheck(input string) int64 {
	s.logger.Debug("health_check", "input", input)
	return 0
}

// ProcessDataEvent 在句柄对应的索引上应用一条 msgpack 数据事件
func (s *Surface) ProcessDataEvent(h handle.Handle, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in process_data_event", "handle", h, "panic", r)
			err = errPanic
		}
		if err != nil {
			s.metrics.OnEvent(metrics.ResultError)
		} else {
			s.metrics.OnEvent(metrics.ResultOK)
		}
	}()

	sess, err := s.Session(h)
	if err != nil {
		return err
	}
	if err := sess.ProcessEvent(data); err != nil {
		s.logger.Warn("process_data_event failed", "handle", h, "error", err)
		return err
	}
	return nil
}

// FlushWrites 将句柄对应索引的写入同步到磁盘
func (s *Surface) FlushWrites(h handle.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in flush_writes", "handle", h, "panic", r)
			err = errPanic
		}
	}()

	sess, err := s.Session(h)
	if err != nil {
		return err
	}
	return sess.FlushWrites()
}

// CompactIndex 合并句柄对应索引的数据文件
func (s *Surface) CompactIndex(h handle.Handle) (st ckv.CompactionStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in compact_index", "handle", h, "panic", r)
			err = errPanic
		}
	}()

	sess, err := s.Session(h)
	if err != nil {
		return st, err
	}
	return sess.Compact()
}

// Session 返回句柄对应的会话
func (s *Surface) Session(h handle.Handle) (*session.Session, error) {
	return s.registry.Resolve(h)
}

// HandleInfo 一个存活句柄的描述
type HandleInfo struct {
	Handle handle.Handle `json:"handle"`
	session.Info
}

// Sessions 返回所有存活句柄的描述
func (s *Surface) Sessions() []HandleInfo {
	var sessions []*session.Session
	var handles []handle.Handle
	s.registry.Range(func(h handle.Handle, sess *session.Session) bool {
		handles = append(handles, h)
		sessions = append(sessions, sess)
		return true
	})

	// Info 需要会话的读锁，不在表锁内调用
	out := make([]HandleInfo, len(sessions))
	for i, sess := range sessions {
		out[i] = HandleInfo{Handle: handles[i], Info: sess.Info()}
	}
	return out
}

var errPanic = errors.New("internal panic")

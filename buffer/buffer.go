// Package buffer 实现跨 C 边界返回字节的缓冲区约定。
//
// 返回给调用方的 Buffer 要么是 present（Start 非空，指向 C 堆上的一块内存），
// 要么是 absent（Start 为空，Length 携带状态码）。
// present 的 Buffer 必须且只能通过同一个 Allocator 的 Free 释放一次。
package buffer

import (
	"errors"
	"unsafe"
)

// 状态码：仅当 Start 为空时有意义
const (
	// StatusNotFound 主键或字段没有值
	StatusNotFound int32 = 0
	// StatusInvalidHandle 句柄无效或已关闭
	StatusInvalidHandle int32 = -1
	// StatusLookupError 存储读取失败
	StatusLookupError int32 = -2
	// StatusInvalidArgument 参数非法（空指针、负长度等）
	StatusInvalidArgument int32 = -3
	// StatusTooLarge 值超过 int32 能表示的长度
	StatusTooLarge int32 = -4
)

var (
	// ErrUnknownBuffer 指针不是本分配器发出的，或已经释放过
	ErrUnknownBuffer = errors.New("buffer was not issued by this allocator or was already freed")

	// ErrLengthMismatch Length 与分配时记录的长度不一致（内存仍会被释放）
	ErrLengthMismatch = errors.New("buffer length does not match allocation")

	// ErrTooLarge 值超过 int32 能表示的长度
	ErrTooLarge = errors.New("value too large for a bytes buffer")

	// ErrOutOfMemory C 堆分配失败
	ErrOutOfMemory = errors.New("malloc failed")
)

// Buffer 与 C 结构体 BytesBuffer { int32_t length; uint8_t *start; } 布局一致
type Buffer struct {
	Length int32
	Start  unsafe.Pointer
}

// Absent 返回携带状态码的 absent Buffer
func Absent(status int32) Buffer {
	return Buffer{Length: status}
}

// IsPresent 是否携带值
func (b Buffer) IsPresent() bool {
	return b.Start != nil
}

// Status 返回 absent Buffer 的状态码，present Buffer 返回 0
func (b Buffer) Status() int32 {
	if b.Start != nil {
		return 0
	}
	return b.Length
}

// Bytes 将 present Buffer 的内容复制到 Go 内存，absent 返回 nil
func Bytes(b Buffer) []byte {
	if b.Start == nil || b.Length < 0 {
		return nil
	}
	out := make([]byte, b.Length)
	copy(out, unsafe.Slice((*byte)(b.Start), b.Length))
	return out
}

// StatusText 返回状态码的描述
func StatusText(status int32) string {
	switch status {
	case StatusNotFound:
		return "not found"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusLookupError:
		return "lookup error"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusTooLarge:
		return "value too large"
	default:
		return "unknown status"
	}
}

package buffer

/*
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// Stats 分配器统计
type Stats struct {
	Allocated        uint64 // 成功分配次数
	Freed            uint64 // 成功释放次数
	Rejected         uint64 // 被拒绝的释放（未知指针、重复释放）
	Outstanding      int    // 尚未释放的缓冲区数
	OutstandingBytes int64  // 尚未释放的字节数
	Quarantined      int    // 已释放但尚未归还 C 堆的缓冲区数
	QuarantinedBytes int64
}

const (
	DefaultQuarantineBlocks = 1024
	DefaultQuarantineBytes  = 16 << 20
)

// Allocator 在 C 堆上分配缓冲区，并记录每一个未释放的指针
//
// 被释放的缓冲区先进入隔离区，超出上限后才真正调用 free。
// 隔离期间该地址不会被 malloc 再次分配，对它的重复释放一定会被识别并拒绝。
// 离开隔离区之后地址可能被新的缓冲区复用，此时对旧缓冲区的重复释放无法与
// 新缓冲区区分，属于未定义行为。
type Allocator struct {
	mu    sync.Mutex
	live  map[uintptr]int32
	stats Stats

	quarantine     []quarantined
	quarantineSet  map[uintptr]struct{}
	maxQuarantined int
	maxQBytes      int64
}

type quarantined struct {
	ptr  unsafe.Pointer
	size int64
}

// AllocatorOption 定义 Allocator 的配置函数
type AllocatorOption func(*Allocator)

// WithQuarantine 设置隔离区的容量，任一上限超出时最早释放的缓冲区归还 C 堆
// blocks 为 0 时不隔离，释放立即调用 free
func WithQuarantine(blocks int, bytes int64) AllocatorOption {
	return func(a *Allocator) {
		a.maxQuarantined = blocks
		a.maxQBytes = bytes
	}
}

// NewAllocator 创建分配器
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		live:           make(map[uintptr]int32),
		quarantineSet:  make(map[uintptr]struct{}),
		maxQuarantined: DefaultQuarantineBlocks,
		maxQBytes:      DefaultQuarantineBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Copy 分配一块 C 内存并复制 p
// 长度为 0 的值也会分配 1 字节，保证 Start 非空
func (a *Allocator) Copy(p []byte) (Buffer, error) {
	if len(p) > math.MaxInt32 {
		return Absent(StatusTooLarge), fmt.Errorf("%w: %d bytes", ErrTooLarge, len(p))
	}

	size := len(p)
	if size == 0 {
		size = 1
	}
	ptr := C.malloc(C.size_t(size))
	if ptr == nil {
		return Absent(StatusLookupError), ErrOutOfMemory
	}
	if len(p) > 0 {
		copy(unsafe.Slice((*byte)(ptr), len(p)), p)
	}

	a.mu.Lock()
	a.live[uintptr(ptr)] = int32(len(p))
	a.stats.Allocated++
	a.stats.OutstandingBytes += int64(len(p))
	a.mu.Unlock()

	return Buffer{Length: int32(len(p)), Start: ptr}, nil
}

// Free 释放 Copy 返回的 Buffer
// 返回：
//   - nil: 已释放，或 b 是 absent
//   - ErrUnknownBuffer: 指针未知或仍在隔离区（重复释放），内存不做任何操作
//   - ErrLengthMismatch: 长度不一致，内存仍已释放
func (a *Allocator) Free(b Buffer) error {
	if b.Start == nil {
		return nil
	}

	key := uintptr(b.Start)

	a.mu.Lock()
	length, ok := a.live[key]
	if !ok {
		_, quarantined := a.quarantineSet[key]
		a.stats.Rejected++
		a.mu.Unlock()
		if quarantined {
			return fmt.Errorf("%w: double free", ErrUnknownBuffer)
		}
		return ErrUnknownBuffer
	}
	delete(a.live, key)
	a.stats.Freed++
	a.stats.OutstandingBytes -= int64(length)
	evicted := a.enqueue(b.Start, allocSize(int(length)))
	a.mu.Unlock()

	// 记录已移除，其他 goroutine 无法再释放这些指针
	for _, ptr := range evicted {
		C.free(ptr)
	}

	if length != b.Length {
		return fmt.Errorf("%w: recorded %d, got %d", ErrLengthMismatch, length, b.Length)
	}
	return nil
}

// enqueue 在锁内把 ptr 放入隔离区，返回需要归还 C 堆的指针
func (a *Allocator) enqueue(ptr unsafe.Pointer, size int64) []unsafe.Pointer {
	if a.maxQuarantined <= 0 {
		return []unsafe.Pointer{ptr}
	}

	a.quarantine = append(a.quarantine, quarantined{ptr: ptr, size: size})
	a.quarantineSet[uintptr(ptr)] = struct{}{}
	a.stats.QuarantinedBytes += size

	var evicted []unsafe.Pointer
	for len(a.quarantine) > a.maxQuarantined ||
		(a.maxQBytes > 0 && a.stats.QuarantinedBytes > a.maxQBytes && len(a.quarantine) > 0) {
		q := a.quarantine[0]
		a.quarantine[0] = quarantined{}
		a.quarantine = a.quarantine[1:]
		delete(a.quarantineSet, uintptr(q.ptr))
		a.stats.QuarantinedBytes -= q.size
		evicted = append(evicted, q.ptr)
	}
	return evicted
}

// Drain 将隔离区中的缓冲区全部归还 C 堆
func (a *Allocator) Drain() {
	a.mu.Lock()
	q := a.quarantine
	a.quarantine = nil
	clear(a.quarantineSet)
	a.stats.QuarantinedBytes = 0
	a.mu.Unlock()

	for _, e := range q {
		C.free(e.ptr)
	}
}

func allocSize(length int) int64 {
	if length == 0 {
		return 1
	}
	return int64(length)
}

// Outstanding 返回尚未释放的缓冲区数
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Stats 返回统计信息快照
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats
	st.Outstanding = len(a.live)
	st.Quarantined = len(a.quarantine)
	return st
}

// Package handle 维护不透明句柄到会话的映射。
//
// 句柄编码为 generation<<32 | (slot+1)：
// 槽位被回收后 generation 递增，旧句柄因此不会解析到新会话；
// generation 用尽的槽位永久停用，所以任何句柄值都不会被再次发出。
package handle

import (
	"errors"
	"math"
	"sync"
)

// Handle 是交给调用方的不透明 64 位句柄
type Handle int64

// Invalid 哨兵句柄，永远不会被分配
const Invalid Handle = 0

// ErrInvalidHandle 句柄为哨兵值、从未分配、已关闭或已过期
var ErrInvalidHandle = errors.New("invalid handle")

// ErrExhausted 没有可用的槽位
var ErrExhausted = errors.New("handle space exhausted")

const maxGeneration = math.MaxInt32

type slot[S any] struct {
	generation uint32
	value      S
	used       bool
}

// Registry 是并发安全的句柄表
// Resolve 之间共享读锁，Allocate 和 Retire 独占写锁
type Registry[S any] struct {
	mu    sync.RWMutex
	slots []slot[S]
	free  []uint32
	live  int

	capacity int // 0 表示不限
}

// NewRegistry 创建空的句柄表
func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{}
}

// NewBoundedRegistry 创建最多同时持有 capacity 个存活句柄的句柄表
func NewBoundedRegistry[S any](capacity int) *Registry[S] {
	return &Registry[S]{capacity: capacity}
}

func encode(slotIdx uint32, generation uint32) Handle {
	return Handle(int64(generation)<<32 | int64(slotIdx+1))
}

func decode(h Handle) (slotIdx uint32, generation uint32, ok bool) {
	if h <= 0 {
		return 0, 0, false
	}
	low := uint32(uint64(h) & 0xffffffff)
	if low == 0 {
		return 0, 0, false
	}
	return low - 1, uint32(uint64(h) >> 32), true
}

// Allocate 为 v 分配一个新句柄
func (r *Registry[S]) Allocate(v S) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && r.live >= r.capacity {
		return Invalid, ErrExhausted
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if len(r.slots) >= math.MaxUint32-1 {
			return Invalid, ErrExhausted
		}
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[S]{generation: 1})
	}

	s := &r.slots[idx]
	s.value = v
	s.used = true
	r.live++

	return encode(idx, s.generation), nil
}

// lookup 在锁内定位句柄对应的槽位
func (r *Registry[S]) lookup(h Handle) (*slot[S], error) {
	idx, gen, ok := decode(h)
	if !ok || int(idx) >= len(r.slots) {
		return nil, ErrInvalidHandle
	}
	s := &r.slots[idx]
	if !s.used || s.generation != gen {
		return nil, ErrInvalidHandle
	}
	return s, nil
}

// Resolve 返回句柄对应的值
func (r *Registry[S]) Resolve(h Handle) (S, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.lookup(h)
	if err != nil {
		var zero S
		return zero, err
	}
	return s.value, nil
}

// Retire 移除句柄并把值的所有权交还调用方
// 同一个句柄只有第一次 Retire 成功
func (r *Registry[S]) Retire(h Handle) (S, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero S
	s, err := r.lookup(h)
	if err != nil {
		return zero, err
	}

	v := s.value
	s.value = zero
	s.used = false
	r.live--

	idx, _, _ := decode(h)
	if s.generation < maxGeneration {
		s.generation++
		r.free = append(r.free, idx)
	}
	return v, nil
}

// Len 返回存活的句柄数
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Range 在读锁下遍历所有存活的句柄，fn 返回 false 时停止
// fn 内不能调用 Allocate 或 Retire
func (r *Registry[S]) Range(fn func(h Handle, v S) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.slots {
		s := &r.slots[i]
		if !s.used {
			continue
		}
		if !fn(encode(uint32(i), s.generation), s.value) {
			return
		}
	}
}

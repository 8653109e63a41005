package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	art "github.com/plar/go-adaptive-radix-tree"
)

// ==================== 事件定义 ====================

// EventType 定义事件类型
type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

// Event 表示一个字段值的变更
// Field 为空的删除事件表示整个文档被删除
type Event struct {
	Type  EventType `json:"type"`
	Key   string    `json:"key"`             // 文档主键
	Field string    `json:"field,omitempty"` // 字段名
	Value []byte    `json:"value,omitempty"` // 新值（仅 upsert）
}

// ==================== Watcher 定义 ====================

// Watcher 表示一个订阅者
type Watcher struct {
	// 推送事件的通道，hub 关闭或取消注册时被关闭
	Ch chan *Event

	// 关注的主键前缀，空字符串表示所有文档
	Prefix string

	closed  bool
	dropped atomic.Uint64
}

// NewWatcher 创建新的 Watcher
func NewWatcher(prefix string, bufferSize int) *Watcher {
	return &Watcher{
		Ch:     make(chan *Event, bufferSize),
		Prefix: prefix,
	}
}

// IsMatch 检查事件是否匹配该 Watcher 的前缀
func (w *Watcher) IsMatch(event *Event) bool {
	return w.Prefix == "" || strings.HasPrefix(event.Key, w.Prefix)
}

// Dropped 返回因通道已满而丢弃的事件数
func (w *Watcher) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Watcher) close() {
	if !w.closed {
		close(w.Ch)
		w.closed = true
	}
}

// ==================== WatchHub 定义 ====================

// WatchHub 将字段变更分发给匹配前缀的 Watcher
type WatchHub struct {
	mu sync.RWMutex

	// 关注所有文档的 watcher
	global []*Watcher

	// 前缀 -> 关注该前缀的 watcher 列表
	prefixTree art.Tree

	count int
}

// NewWatchHub 创建新的 WatchHub
func NewWatchHub() *WatchHub {
	return &WatchHub{
		prefixTree: art.New(),
	}
}

// ==================== Watcher 管理 ====================

// Watch 注册一个新的 Watcher
// 参数：
//   - prefix: 关注的主键前缀，为空表示关注所有文档
//   - bufferSize: 事件通道的缓冲区大小
func (h *WatchHub) Watch(prefix string, bufferSize int) *Watcher {
	watcher := NewWatcher(prefix, bufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if prefix == "" {
		h.global = append(h.global, watcher)
	} else {
		var list []*Watcher
		if val, found := h.prefixTree.Search(art.Key(prefix)); found {
			list = val.([]*Watcher)
		}
		h.prefixTree.Insert(art.Key(prefix), append(list, watcher))
	}
	h.count++

	return watcher
}

// Unregister 取消注册并关闭 Watcher，重复调用是安全的
func (h *WatchHub) Unregister(watcher *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if watcher.closed {
		return
	}

	if watcher.Prefix == "" {
		h.global = removeWatcher(h.global, watcher)
	} else if val, found := h.prefixTree.Search(art.Key(watcher.Prefix)); found {
		list := removeWatcher(val.([]*Watcher), watcher)
		if len(list) > 0 {
			h.prefixTree.Insert(art.Key(watcher.Prefix), list)
		} else {
			h.prefixTree.Delete(art.Key(watcher.Prefix))
		}
	}

	watcher.close()
	h.count--
}

// ==================== 事件通知 ====================

// Notify 将事件发送给所有匹配的 Watcher
// 发送不阻塞，通道已满的 watcher 会丢弃该事件
func (h *WatchHub) Notify(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, watcher := range h.matching(event.Key) {
		select {
		case watcher.Ch <- event:
		default:
			watcher.dropped.Add(1)
		}
	}
}

// NotifyUpsert 通知字段写入
func (h *WatchHub) NotifyUpsert(pk, field string, value []byte) {
	h.Notify(&Event{
		Type:  EventUpsert,
		Key:   pk,
		Field: field,
		Value: append([]byte(nil), value...),
	})
}

// NotifyDelete 通知字段删除，field 为空表示整个文档
func (h *WatchHub) NotifyDelete(pk, field string) {
	h.Notify(&Event{
		Type:  EventDelete,
		Key:   pk,
		Field: field,
	})
}

// matching 在读锁下找出关注 key 的所有 watcher
// 逐个检查 key 的前缀是否在 ART 树中注册过
func (h *WatchHub) matching(key string) []*Watcher {
	result := append([]*Watcher(nil), h.global...)
	for i := 1; i <= len(key); i++ {
		if val, found := h.prefixTree.Search(art.Key(key[:i])); found {
			result = append(result, val.([]*Watcher)...)
		}
	}
	return result
}

// ==================== 工具方法 ====================

// Count 返回当前注册的 watcher 数量
func (h *WatchHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close 关闭所有 watcher
func (h *WatchHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.global {
		w.close()
	}
	h.prefixTree.ForEach(func(node art.Node) bool {
		for _, w := range node.Value().([]*Watcher) {
			w.close()
		}
		return true
	})

	h.global = nil
	h.prefixTree = art.New()
	h.count = 0
}

// String 返回 WatchHub 的字符串描述
func (h *WatchHub) String() string {
	return fmt.Sprintf("WatchHub{watchers: %d}", h.Count())
}

func removeWatcher(list []*Watcher, w *Watcher) []*Watcher {
	for i, x := range list {
		if x == w {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// EventToJSON 将事件转换为 JSON 字符串
func EventToJSON(event *Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

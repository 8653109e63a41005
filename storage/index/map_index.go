package index

import (
	"strings"

	"github.com/forever-free1/TideIKV/storage"
)

// MapIndex 是基于 Go 内置 map 的内存索引实现
// 点查最快，但前缀遍历需要扫描全部键
type MapIndex struct {
	data map[string]*storage.Position
}

// NewMapIndex 创建一个新的 Map 索引实例
func NewMapIndex() *MapIndex {
	return &MapIndex{
		data: make(map[string]*storage.Position),
	}
}

// Put 写入键到位置的映射
func (idx *MapIndex) Put(key []byte, pos *storage.Position) {
	idx.data[string(key)] = pos
}

// Get 根据键获取位置，不存在返回 nil
func (idx *MapIndex) Get(key []byte) *storage.Position {
	// string(key) 作为 map 下标时编译器不会分配内存
	return idx.data[string(key)]
}

// Delete 从 Map 索引中删除键
func (idx *MapIndex) Delete(key []byte) bool {
	if _, exists := idx.data[string(key)]; !exists {
		return false
	}
	delete(idx.data, string(key))
	return true
}

// Scan 按前缀遍历键（全量扫描）
func (idx *MapIndex) Scan(prefix []byte, fn func(key []byte) bool) {
	p := string(prefix)
	for k := range idx.data {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if !fn([]byte(k)) {
			return
		}
	}
}

// Size 返回键数量
func (idx *MapIndex) Size() int {
	return len(idx.data)
}

// Close 清空 map，释放内存
func (idx *MapIndex) Close() {
	idx.data = make(map[string]*storage.Position)
}

var _ Index = (*MapIndex)(nil)

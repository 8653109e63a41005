package index

import (
	"github.com/forever-free1/TideIKV/storage"
	art "github.com/plar/go-adaptive-radix-tree"
)

// ARTIndex 是基于自适应基数树（Adaptive Radix Tree）的内存索引实现
// 天然支持前缀遍历，ckv 用它按主键前缀找到一个文档的全部字段
type ARTIndex struct {
	tree art.Tree
}

// NewARTIndex 创建一个新的 ART 索引实例
func NewARTIndex() *ARTIndex {
	return &ARTIndex{
		tree: art.New(),
	}
}

// Put 写入键到位置的映射
func (idx *ARTIndex) Put(key []byte, pos *storage.Position) {
	idx.tree.Insert(art.Key(key), pos)
}

// Get 根据键获取位置，不存在返回 nil
func (idx *ARTIndex) Get(key []byte) *storage.Position {
	value, found := idx.tree.Search(art.Key(key))
	if !found {
		return nil
	}
	return value.(*storage.Position)
}

// Delete 从 ART 索引中删除键
func (idx *ARTIndex) Delete(key []byte) bool {
	_, deleted := idx.tree.Delete(art.Key(key))
	return deleted
}

// Scan 按前缀遍历键
func (idx *ARTIndex) Scan(prefix []byte, fn func(key []byte) bool) {
	idx.tree.ForEachPrefix(art.Key(prefix), func(node art.Node) bool {
		return fn(node.Key())
	})
}

// Size 返回键数量
func (idx *ARTIndex) Size() int {
	return idx.tree.Size()
}

// Close 重置 ART 树，交给 GC 回收
func (idx *ARTIndex) Close() {
	idx.tree = art.New()
}

var _ Index = (*ARTIndex)(nil)

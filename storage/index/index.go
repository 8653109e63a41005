package index

import "github.com/forever-free1/TideIKV/storage"

// Index 是内存索引的抽象接口
// 负责存储键到文件位置（Position）的映射
// 实现本身不加锁，由 bitcask.DB 的读写锁保护
type Index interface {
	// Put 写入键到位置的映射
	Put(key []byte, pos *storage.Position)

	// Get 根据键获取位置，不存在返回 nil
	Get(key []byte) *storage.Position

	// Delete 根据键删除索引，返回是否删除成功
	Delete(key []byte) bool

	// Scan 按前缀遍历键，fn 返回 false 时停止
	Scan(prefix []byte, fn func(key []byte) bool)

	// Size 返回索引中的键数量
	Size() int

	// Close 关闭索引，释放资源
	Close()
}

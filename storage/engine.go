package storage

import "errors"

// ErrKeyNotFound 表示键不存在的错误
var ErrKeyNotFound = errors.New("key not found")

// ErrEmptyKey 表示写入了空键
var ErrEmptyKey = errors.New("empty key not allowed")

// Position 表示数据在文件中的位置
type Position struct {
	FileID uint32 // 数据文件 ID
	Offset int64  // 偏移量
	Size   uint32 // Entry 总大小
}

// Engine 是底层键值存储的抽象接口
// ckv 的每个分段都是一个 Engine，按复合键存放字段值
type Engine interface {
	// Put 写入键值对
	Put(key []byte, value []byte) error

	// Get 根据键获取值
	// 键不存在时返回 ErrKeyNotFound
	Get(key []byte) ([]byte, error)

	// Delete 删除键值对（写入墓碑记录）
	Delete(key []byte) error

	// Sync 将已写入的数据刷到磁盘
	Sync() error

	// Close 关闭存储引擎，释放资源
	Close() error
}

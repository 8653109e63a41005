package bitcask

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/forever-free1/TideIKV/storage"
	"github.com/forever-free1/TideIKV/storage/index"
)

// DB 表示 Bitcask 存储引擎的核心结构体
// 封装了数据文件管理、内存索引和配置选项
type DB struct {
	dir         string               // 数据目录
	activeFile  *DataFile            // 当前活跃的数据文件
	olderFiles  map[uint32]*DataFile // 历史数据文件集合
	index       index.Index          // 内存索引（Map 或 ART）
	bloomFilter *index.BloomFilter   // 布隆过滤器，用于快速判断 key 是否存在
	codec       *valueCodec          // 值编码
	options     *Options             // 配置选项
	mu          sync.RWMutex         // 读写锁：读共享，写和关闭独占
	fileID      uint32               // 当前文件 ID
	closed      bool
}

// Options 定义 DB 的配置选项
type Options struct {
	// DataFileSizeLimit 单个数据文件的大小限制（字节）
	// 超过限制时创建新文件
	DataFileSizeLimit int64

	// IndexType 索引类型
	IndexType IndexType

	// BloomFilterFP 布隆过滤器的期望误判率
	BloomFilterFP float64

	// ExpectedKeys 布隆过滤器的预估容量
	ExpectedKeys uint

	// Compression 新写入值的压缩方式
	Compression Compression
}

// IndexType 定义索引类型
type IndexType int

const (
	// IndexTypeMap 使用内置 Map 作为索引
	IndexTypeMap IndexType = iota
	// IndexTypeART 使用自适应基数树作为索引（默认）
	IndexTypeART
)

// ParseIndexType 将配置字符串转换为 IndexType
func ParseIndexType(s string) (IndexType, error) {
	switch s {
	case "", "art":
		return IndexTypeART, nil
	case "map":
		return IndexTypeMap, nil
	default:
		return IndexTypeART, fmt.Errorf("unknown index type %q, allowed: art|map", s)
	}
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithDataFileSizeLimit 设置单文件大小限制
func WithDataFileSizeLimit(limit int64) Option {
	return func(o *Options) {
		o.DataFileSizeLimit = limit
	}
}

// WithIndexType 设置索引类型
func WithIndexType(indexType IndexType) Option {
	return func(o *Options) {
		o.IndexType = indexType
	}
}

// WithBloomFilterFP 设置布隆过滤器的期望误判率
func WithBloomFilterFP(fp float64) Option {
	return func(o *Options) {
		o.BloomFilterFP = fp
	}
}

// WithExpectedKeys 设置布隆过滤器的预估容量
func WithExpectedKeys(n uint) Option {
	return func(o *Options) {
		o.ExpectedKeys = n
	}
}

// WithCompression 设置值的压缩方式
func WithCompression(c Compression) Option {
	return func(o *Options) {
		o.Compression = c
	}
}

// Stats 是 DB 的统计信息
type Stats struct {
	Keys      int
	DataFiles int
}

// Open 打开或创建一个 Bitcask 数据库
// 参数：
//   - dir: 数据库目录
//   - opts: 配置选项
//
// 返回：
//   - *DB: 数据库指针
//   - error: 打开错误
func Open(dir string, opts ...Option) (*DB, error) {
	options := &Options{
		DataFileSizeLimit: 64 * 1024 * 1024, // 默认 64MB
		IndexType:         IndexTypeART,
		BloomFilterFP:     0.01,
		ExpectedKeys:      100000,
		Compression:       CompressionNone,
	}
	for _, opt := range opts {
		opt(options)
	}

	var idx index.Index
	switch options.IndexType {
	case IndexTypeART:
		idx = index.NewARTIndex()
	default:
		idx = index.NewMapIndex()
	}

	codec, err := newValueCodec(options.Compression)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dir:         dir,
		olderFiles:  make(map[uint32]*DataFile),
		index:       idx,
		bloomFilter: index.NewBloomFilter(options.ExpectedKeys, options.BloomFilterFP),
		codec:       codec,
		options:     options,
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		codec.close()
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	if err := db.bootstrap(); err != nil {
		db.closeFiles()
		codec.close()
		return nil, fmt.Errorf("启动引导失败: %w", err)
	}

	return db, nil
}

// bootstrap 启动引导逻辑
// 按文件 ID 顺序回放所有 Entry，重建索引和布隆过滤器。
// 墓碑记录会从索引中移除对应的 key。
// 活跃文件末尾不完整的 Entry（写入中途崩溃）会被截断。
func (db *DB) bootstrap() error {
	files, err := os.ReadDir(db.dir)
	if err != nil {
		return fmt.Errorf("读取目录失败: %w", err)
	}

	var fileIDs []uint32
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".data") {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(strings.TrimSuffix(f.Name(), ".data"), "%d", &id); err == nil {
			fileIDs = append(fileIDs, id)
		}
	}

	if len(fileIDs) == 0 {
		activeFile, err := OpenDataFile(db.dir, 0)
		if err != nil {
			return fmt.Errorf("创建活跃数据文件失败: %w", err)
		}
		db.activeFile = activeFile
		return nil
	}

	sort.Slice(fileIDs, func(i, j int) bool {
		return fileIDs[i] < fileIDs[j]
	})

	for i, fileID := range fileIDs {
		dataFile, err := OpenDataFile(db.dir, fileID)
		if err != nil {
			return fmt.Errorf("打开数据文件 %d 失败: %w", fileID, err)
		}

		isActive := i == len(fileIDs)-1
		if isActive {
			db.activeFile = dataFile
			db.fileID = fileID
		} else {
			db.olderFiles[fileID] = dataFile
		}

		validEnd, err := db.replay(dataFile)
		if err != nil {
			return err
		}

		if validEnd < dataFile.GetWriteOff() {
			if !isActive {
				return fmt.Errorf("数据文件 %d 在偏移量 %d 处损坏: %w", fileID, validEnd, ErrInvalidEntry)
			}
			if err := dataFile.Truncate(validEnd); err != nil {
				return err
			}
		}
	}

	return nil
}

// replay 回放一个数据文件，返回最后一个完整 Entry 的结束位置
func (db *DB) replay(dataFile *DataFile) (int64, error) {
	var offset int64
	for offset < dataFile.GetWriteOff() {
		entry, err := dataFile.ReadEntry(offset)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrInvalidEntry) || errors.Is(err, ErrCRCMismatch) {
				return offset, nil
			}
			return offset, err
		}

		if entry.IsTombstone() {
			db.index.Delete(entry.Key)
		} else {
			// entry.Key 引用读缓冲区，索引需要独立的副本
			key := append([]byte(nil), entry.Key...)
			db.index.Put(key, &storage.Position{
				FileID: dataFile.GetFileID(),
				Offset: offset,
				Size:   entry.Size(),
			})
			db.bloomFilter.Add(key)
		}

		offset += int64(entry.Size())
	}
	return offset, nil
}

// Put 写入键值对
func (db *DB) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return storage.ErrEmptyKey
	}

	encoded, flags := db.codec.encode(value)
	if uint64(len(key))+uint64(len(encoded)) > math.MaxUint32-HeaderSize {
		return ErrValueTooLarge
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDBClosed
	}

	// 索引和调用方不共享 key 的底层数组
	key = append([]byte(nil), key...)
	entry := NewEntry(key, encoded, flags)

	pos, err := db.appendEntry(entry)
	if err != nil {
		return err
	}

	db.index.Put(key, pos)
	db.bloomFilter.Add(key)

	return nil
}

// appendEntry 在写锁下追加一条 Entry，必要时轮转活跃文件
func (db *DB) appendEntry(entry *Entry) (*storage.Position, error) {
	if db.activeFile.GetWriteOff() >= db.options.DataFileSizeLimit {
		if err := db.rotateActiveFile(); err != nil {
			return nil, fmt.Errorf("轮转活跃文件失败: %w", err)
		}
	}

	offset, err := db.activeFile.Write(entry)
	if err != nil {
		return nil, fmt.Errorf("写入数据文件失败: %w", err)
	}

	return &storage.Position{
		FileID: db.activeFile.GetFileID(),
		Offset: offset,
		Size:   entry.Size(),
	}, nil
}

// rotateActiveFile 轮转活跃文件
// 旧的活跃文件保持打开，继续服务读取
func (db *DB) rotateActiveFile() error {
	if err := db.activeFile.Sync(); err != nil {
		return err
	}

	db.olderFiles[db.activeFile.GetFileID()] = db.activeFile

	db.fileID++
	newFile, err := OpenDataFile(db.dir, db.fileID)
	if err != nil {
		return fmt.Errorf("创建新的活跃文件失败: %w", err)
	}
	db.activeFile = newFile

	return nil
}

// Get 根据键获取值
// 返回的切片由调用方独占
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDBClosed
	}

	// 布隆过滤器返回 false 时 key 一定不存在
	if !db.bloomFilter.Test(key) {
		return nil, storage.ErrKeyNotFound
	}

	pos := db.index.Get(key)
	if pos == nil {
		return nil, storage.ErrKeyNotFound
	}

	dataFile := db.activeFile
	if pos.FileID != db.activeFile.GetFileID() {
		var ok bool
		dataFile, ok = db.olderFiles[pos.FileID]
		if !ok {
			return nil, fmt.Errorf("数据文件 %d 不存在: %w", pos.FileID, storage.ErrKeyNotFound)
		}
	}

	entry, err := dataFile.ReadEntry(pos.Offset)
	if err != nil {
		return nil, fmt.Errorf("读取 Entry 失败 (file=%d, offset=%d): %w", pos.FileID, pos.Offset, err)
	}
	if entry.IsTombstone() {
		return nil, storage.ErrKeyNotFound
	}

	return db.codec.decode(entry.Value, entry.Flags)
}

// Delete 删除键值对
// 追加墓碑记录，保证重启后删除依然生效
// 布隆过滤器不支持删除，Get 时通过索引二次确认
func (db *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return storage.ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDBClosed
	}

	if db.index.Get(key) == nil {
		return nil
	}

	if _, err := db.appendEntry(NewTombstone(key)); err != nil {
		return err
	}
	db.index.Delete(key)

	return nil
}

// KeysWithPrefix 返回所有以 prefix 开头的键（副本）
func (db *DB) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDBClosed
	}

	var keys [][]byte
	db.index.Scan(prefix, func(key []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	return keys, nil
}

// Sync 将活跃文件同步到磁盘
func (db *DB) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	return db.activeFile.Sync()
}

// Stats 返回数据库的统计信息
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return Stats{
		Keys:      db.index.Size(),
		DataFiles: len(db.olderFiles) + 1,
	}
}

// Close 关闭数据库，重复关闭返回 nil
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	err := db.closeFiles()
	db.index.Close()
	db.codec.close()

	return err
}

// closeFiles 关闭所有数据文件，返回遇到的第一个错误
func (db *DB) closeFiles() error {
	var firstErr error
	if db.activeFile != nil {
		if err := db.activeFile.Close(); err != nil {
			firstErr = fmt.Errorf("关闭活跃文件失败: %w", err)
		}
	}

	for _, file := range db.olderFiles {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("关闭旧文件失败: %w", err)
		}
	}

	return firstErr
}

// 确保 DB 实现了 storage.Engine 接口
var _ storage.Engine = (*DB)(nil)

package bitcask

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DataFile 表示一个数据文件
// 支持追加写入、随机读取和同步操作
type DataFile struct {
	FileID   uint32       // 文件 ID，用于标识不同的数据文件
	File     *os.File     // 底层文件句柄
	WriteOff int64        // 当前写入偏移量
	mu       sync.RWMutex // 读写锁，保护文件操作
}

// dataFileName 返回文件 ID 对应的文件名
func dataFileName(fileID uint32) string {
	return fmt.Sprintf("%08d.data", fileID)
}

// OpenDataFile 打开或创建一个数据文件
// 参数：
//   - dir: 文件所在目录
//   - fileID: 文件 ID
//
// 返回：
//   - *DataFile: 数据文件指针
//   - error: 打开错误
func OpenDataFile(dir string, fileID uint32) (*DataFile, error) {
	filename := filepath.Join(dir, dataFileName(fileID))

	// O_APPEND 保证写入总在末尾，读取使用 ReadAt 不受影响
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("获取文件状态失败: %w", err)
	}

	return &DataFile{
		FileID:   fileID,
		File:     file,
		WriteOff: stat.Size(),
	}, nil
}

// Write 追加写入 Entry 到数据文件
// 返回：
//   - int64: Entry 的起始偏移量
//   - error: 写入错误
func (df *DataFile) Write(entry *Entry) (int64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return 0, ErrFileClosed
	}

	data := entry.Encode()
	offset := df.WriteOff

	n, err := df.File.Write(data)
	df.WriteOff += int64(n)
	if err != nil {
		return offset, fmt.Errorf("写入数据失败: %w", err)
	}

	return offset, nil
}

// Read 从指定偏移量读取数据
// 使用 ReadAt，多个读者之间不共享文件游标
// 数据不足 size 字节时返回 io.ErrUnexpectedEOF，偏移量处没有数据时返回 io.EOF
func (df *DataFile) Read(offset int64, size uint32) ([]byte, error) {
	df.mu.RLock()
	defer df.mu.RUnlock()

	if df.File == nil {
		return nil, ErrFileClosed
	}

	data := make([]byte, size)
	n, err := df.File.ReadAt(data, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("读取数据失败 (offset=%d, size=%d): %w", offset, size, err)
	}

	return data, nil
}

// ReadEntry 从指定偏移量读取一个完整的 Entry
// 参数：
//   - offset: 读取起始偏移量
//
// 返回：
//   - *Entry: 读取的 Entry
//   - error: 文件末尾返回 io.EOF，不完整的尾部返回 ErrInvalidEntry
func (df *DataFile) ReadEntry(offset int64) (*Entry, error) {
	header, err := df.Read(offset, HeaderSize)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidEntry
		}
		return nil, err
	}

	keySize, valueSize := decodeHeader(header)
	totalSize := uint64(HeaderSize) + uint64(keySize) + uint64(valueSize)
	if int64(totalSize) > df.GetWriteOff()-offset {
		return nil, ErrInvalidEntry
	}

	data, err := df.Read(offset, uint32(totalSize))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrInvalidEntry
		}
		return nil, err
	}

	return Decode(data)
}

// Sync 将缓冲区中的数据同步到磁盘
func (df *DataFile) Sync() error {
	df.mu.RLock()
	defer df.mu.RUnlock()

	if df.File == nil {
		return ErrFileClosed
	}

	if err := df.File.Sync(); err != nil {
		return fmt.Errorf("同步数据到磁盘失败: %w", err)
	}

	return nil
}

// Close 关闭数据文件，重复关闭是安全的
func (df *DataFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return nil
	}

	if err := df.File.Sync(); err != nil {
		return fmt.Errorf("关闭前同步数据失败: %w", err)
	}

	if err := df.File.Close(); err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}

	df.File = nil
	return nil
}

// GetWriteOff 获取当前写入偏移量
func (df *DataFile) GetWriteOff() int64 {
	df.mu.RLock()
	defer df.mu.RUnlock()
	return df.WriteOff
}

// GetFileID 获取文件 ID
func (df *DataFile) GetFileID() uint32 {
	return df.FileID
}

// Truncate 截断损坏的尾部，之后的写入从 size 处继续
func (df *DataFile) Truncate(size int64) error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return ErrFileClosed
	}
	if err := df.File.Truncate(size); err != nil {
		return fmt.Errorf("截断数据文件失败: %w", err)
	}
	df.WriteOff = size
	return nil
}

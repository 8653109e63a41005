package bitcask

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Flag 描述 Entry 的类型与值的编码方式
type Flag uint8

const (
	// FlagTombstone 墓碑记录，表示该键已被删除
	FlagTombstone Flag = 1 << iota
	// FlagSnappy 值经过 snappy 压缩
	FlagSnappy
	// FlagZstd 值经过 zstd 压缩
	FlagZstd
)

// Entry 表示存储在数据文件中的记录条目
// 格式：| CRC32 (4B) | Timestamp (8B) | Flags (1B) | KeySize (4B) | ValueSize (4B) | Key | Value |
type Entry struct {
	CRC       uint32 // 校验和，4 字节
	Timestamp int64  // 时间戳，8 字节
	Flags     Flag   // 类型与编码，1 字节
	KeySize   uint32 // Key 长度，4 字节
	ValueSize uint32 // Value 长度，4 字节
	Key       []byte // 键数据
	Value     []byte // 值数据（可能已压缩）
}

// HeaderSize 固定头部大小：CRC(4) + Timestamp(8) + Flags(1) + KeySize(4) + ValueSize(4) = 21 字节
const HeaderSize = 21

// NewEntry 创建一个新的 Entry 实例
// 参数：
//   - key: 键
//   - value: 值（已按 flags 编码）
//   - flags: 类型与编码
//
// 返回：
//   - *Entry: 新的 Entry 指针
func NewEntry(key []byte, value []byte, flags Flag) *Entry {
	return &Entry{
		Timestamp: time.Now().UnixNano(),
		Flags:     flags,
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Key:       key,
		Value:     value,
	}
}

// NewTombstone 创建一条删除 key 的墓碑记录
func NewTombstone(key []byte) *Entry {
	return NewEntry(key, nil, FlagTombstone)
}

// Encode 将 Entry 编码为字节切片（小端字节序）
func (e *Entry) Encode() []byte {
	buf := make([]byte, HeaderSize+int(e.KeySize)+int(e.ValueSize))

	binary.LittleEndian.PutUint64(buf[4:12], uint64(e.Timestamp))
	buf[12] = byte(e.Flags)
	binary.LittleEndian.PutUint32(buf[13:17], e.KeySize)
	binary.LittleEndian.PutUint32(buf[17:21], e.ValueSize)

	copy(buf[HeaderSize:HeaderSize+int(e.KeySize)], e.Key)
	copy(buf[HeaderSize+int(e.KeySize):], e.Value)

	// CRC 覆盖 CRC 字段之后的全部内容
	e.CRC = crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], e.CRC)

	return buf
}

// decodeHeader 解析头部中的 KeySize 和 ValueSize
func decodeHeader(header []byte) (keySize, valueSize uint32) {
	return binary.LittleEndian.Uint32(header[13:17]), binary.LittleEndian.Uint32(header[17:21])
}

// Decode 从字节切片解码出 Entry
// 参数：
//   - data: 字节切片
//
// 返回：
//   - *Entry: 解码后的 Entry 指针
//   - error: 数据不完整返回 ErrInvalidEntry，校验失败返回 ErrCRCMismatch
func Decode(data []byte) (*Entry, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidEntry
	}

	entry := &Entry{
		CRC:       binary.LittleEndian.Uint32(data[0:4]),
		Timestamp: int64(binary.LittleEndian.Uint64(data[4:12])),
		Flags:     Flag(data[12]),
	}
	entry.KeySize, entry.ValueSize = decodeHeader(data)

	totalSize := HeaderSize + int(entry.KeySize) + int(entry.ValueSize)
	if len(data) < totalSize {
		return nil, ErrInvalidEntry
	}

	entry.Key = data[HeaderSize : HeaderSize+int(entry.KeySize)]
	entry.Value = data[HeaderSize+int(entry.KeySize) : totalSize]

	if crc32.ChecksumIEEE(data[4:totalSize]) != entry.CRC {
		return nil, ErrCRCMismatch
	}

	return entry, nil
}

// Size 返回 Entry 的总大小（字节）
func (e *Entry) Size() uint32 {
	return HeaderSize + e.KeySize + e.ValueSize
}

// IsTombstone 是否为墓碑记录
func (e *Entry) IsTombstone() bool {
	return e.Flags&FlagTombstone != 0
}

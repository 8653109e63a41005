package ckv

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// MaxPrimaryKeyLen 主键的最大长度
const MaxPrimaryKeyLen = 64 * 1024

// 字段值的存储键：| uvarint(len(pk)) | pk | fieldID (2B, 大端) |
// 长度前缀保证一个文档的键前缀不会匹配到另一个更长主键的文档

// docPrefix 返回文档所有字段共享的键前缀
func docPrefix(pk []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(pk)+2)
	buf = binary.AppendUvarint(buf, uint64(len(pk)))
	return append(buf, pk...)
}

// fieldKey 返回一个字段值的存储键
func fieldKey(pk []byte, fieldID uint16) []byte {
	return binary.BigEndian.AppendUint16(docPrefix(pk), fieldID)
}

// parseFieldKey 从存储键中拆出主键和字段 ID
func parseFieldKey(key []byte) (pk []byte, fieldID uint16, ok bool) {
	n, w := binary.Uvarint(key)
	if w <= 0 || n > uint64(len(key)) || uint64(len(key)-w) != n+2 {
		return nil, 0, false
	}
	end := w + int(n)
	return key[w:end], binary.BigEndian.Uint16(key[end:]), true
}

// segmentOf 根据主键选择分段
func segmentOf(pk []byte, n int) int {
	return int(xxhash.Sum64(pk) % uint64(n))
}

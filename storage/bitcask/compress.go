package bitcask

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression 定义值的压缩方式
type Compression int

const (
	// CompressionNone 不压缩（默认）
	CompressionNone Compression = iota
	// CompressionSnappy 使用 snappy 压缩
	CompressionSnappy
	// CompressionZstd 使用 zstd 压缩
	CompressionZstd
)

// ParseCompression 将配置字符串转换为 Compression
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q, allowed: none|snappy|zstd", s)
	}
}

// String 返回压缩方式的名称
func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// valueCodec 负责按 Flag 对值进行编码和解码
// zstd 的 EncodeAll/DecodeAll 可并发调用
type valueCodec struct {
	compression Compression
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

func newValueCodec(c Compression) (*valueCodec, error) {
	vc := &valueCodec{compression: c}

	// 解码器总是需要：历史文件可能以其他压缩方式写入
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("创建 zstd 解码器失败: %w", err)
	}
	vc.zdec = dec

	if c == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("创建 zstd 编码器失败: %w", err)
		}
		vc.zenc = enc
	}

	return vc, nil
}

// encode 返回编码后的值及对应的 Flag
func (vc *valueCodec) encode(value []byte) ([]byte, Flag) {
	switch vc.compression {
	case CompressionSnappy:
		return snappy.Encode(nil, value), FlagSnappy
	case CompressionZstd:
		return vc.zenc.EncodeAll(value, nil), FlagZstd
	default:
		return value, 0
	}
}

// decode 根据 Flag 还原原始值，返回的切片不与 data 共享内存
func (vc *valueCodec) decode(data []byte, flags Flag) ([]byte, error) {
	switch {
	case flags&FlagSnappy != 0:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy 解压失败: %w", err)
		}
		return out, nil
	case flags&FlagZstd != 0:
		out, err := vc.zdec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd 解压失败: %w", err)
		}
		return out, nil
	default:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
}

func (vc *valueCodec) close() {
	if vc.zenc != nil {
		vc.zenc.Close()
	}
	if vc.zdec != nil {
		vc.zdec.Close()
	}
}

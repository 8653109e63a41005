// Package config 定义打开索引时传入的配置块。
//
// 配置块是 msgpack 编码的 StoreConfig，按值类型分为五张表，
// 调用方（C 侧）只需要按键名填写，不需要了解 Go 的结构体。
package config

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/forever-free1/TideIKV/schema"
	"github.com/forever-free1/TideIKV/storage/bitcask"
)

// ==================== 配置键 ====================

const (
	KeyMountDirectory    = "mount_directory"
	KeyPrimaryKey        = "primary_key"
	KeyStoreName         = "store_name"
	KeySchema            = "schema"
	KeyLogLevel          = "log_level"
	KeyLogToConsole      = "log_to_console"
	KeyLogFile           = "log_file"
	KeyNumSegments       = "num_segments"
	KeyDataFileSizeLimit = "data_file_size_limit"
	KeyIndexType         = "index_type"
	KeyBloomFP           = "bloom_fp"
	KeyCompression       = "compression"
)

const (
	DefaultStoreName         = "ikv"
	DefaultLogLevel          = "info"
	DefaultNumSegments       = 16
	MaxNumSegments           = 256
	DefaultDataFileSizeLimit = 64 * 1024 * 1024
	DefaultBloomFP           = 0.01
)

// ErrMissingKey 必填配置项缺失
var ErrMissingKey = errors.New("missing required config")

// StoreConfig 是配置块的解码结果
type StoreConfig struct {
	StringConfigs  map[string]string  `codec:"string_configs"`
	IntConfigs     map[string]int64   `codec:"int_configs"`
	FloatConfigs   map[string]float64 `codec:"float_configs"`
	BytesConfigs   map[string][]byte  `codec:"bytes_configs"`
	BooleanConfigs map[string]bool    `codec:"boolean_configs"`
}

// Option 定义 StoreConfig 的配置函数
type Option func(*StoreConfig)

// New 创建一个 StoreConfig 并应用配置函数
func New(opts ...Option) *StoreConfig {
	c := &StoreConfig{
		StringConfigs:  make(map[string]string),
		IntConfigs:     make(map[string]int64),
		FloatConfigs:   make(map[string]float64),
		BytesConfigs:   make(map[string][]byte),
		BooleanConfigs: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithString 设置任意字符串配置
func WithString(key, value string) Option {
	return func(c *StoreConfig) { c.StringConfigs[key] = value }
}

// WithInt 设置任意整数配置
func WithInt(key string, value int64) Option {
	return func(c *StoreConfig) { c.IntConfigs[key] = value }
}

// WithFloat 设置任意浮点配置
func WithFloat(key string, value float64) Option {
	return func(c *StoreConfig) { c.FloatConfigs[key] = value }
}

// WithBytes 设置任意字节配置
func WithBytes(key string, value []byte) Option {
	return func(c *StoreConfig) { c.BytesConfigs[key] = value }
}

// WithBool 设置任意布尔配置
func WithBool(key string, value bool) Option {
	return func(c *StoreConfig) { c.BooleanConfigs[key] = value }
}

// WithMountDirectory 设置索引的挂载目录
func WithMountDirectory(dir string) Option { return WithString(KeyMountDirectory, dir) }

// WithPrimaryKey 设置主键字段名
func WithPrimaryKey(field string) Option { return WithString(KeyPrimaryKey, field) }

// WithStoreName 设置存储名称（用于日志和管理接口）
func WithStoreName(name string) Option { return WithString(KeyStoreName, name) }

// WithSchema 设置内联的 YAML schema
func WithSchema(yamlDoc string) Option { return WithString(KeySchema, yamlDoc) }

// WithLogLevel 设置日志级别：error|warn|info|debug
func WithLogLevel(level string) Option { return WithString(KeyLogLevel, level) }

// WithLogToConsole 设置是否输出日志到 stderr
func WithLogToConsole(enabled bool) Option { return WithBool(KeyLogToConsole, enabled) }

// WithLogFile 设置日志文件路径（追加写入）
func WithLogFile(path string) Option { return WithString(KeyLogFile, path) }

// WithNumSegments 设置分段数量
func WithNumSegments(n int) Option { return WithInt(KeyNumSegments, int64(n)) }

// WithDataFileSizeLimit 设置每个分段的数据文件大小限制
func WithDataFileSizeLimit(limit int64) Option { return WithInt(KeyDataFileSizeLimit, limit) }

// WithIndexType 设置内存索引类型：art|map
func WithIndexType(t string) Option { return WithString(KeyIndexType, t) }

// WithBloomFP 设置布隆过滤器误判率
func WithBloomFP(fp float64) Option { return WithFloat(KeyBloomFP, fp) }

// WithCompression 设置值压缩方式：none|snappy|zstd
func WithCompression(c string) Option { return WithString(KeyCompression, c) }

// ==================== 编码/解码 ====================

var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

// Encode 将配置编码为 msgpack 配置块
func (c *StoreConfig) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(c); err != nil {
		return nil, fmt.Errorf("编码配置失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode 从 msgpack 配置块解码配置
// 解码后的配置不引用 blob 的内存
func Decode(blob []byte) (*StoreConfig, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty config blob")
	}

	c := New()
	if err := codec.NewDecoderBytes(blob, msgpackHandle).Decode(c); err != nil {
		return nil, fmt.Errorf("解码配置失败: %w", err)
	}
	for k, v := range c.BytesConfigs {
		c.BytesConfigs[k] = append([]byte(nil), v...)
	}
	return c, nil
}

// ==================== 访问器 ====================

func (c *StoreConfig) str(key, def string) string {
	if v, ok := c.StringConfigs[key]; ok && v != "" {
		return v
	}
	return def
}

// MountDirectory 挂载目录
func (c *StoreConfig) MountDirectory() string { return c.str(KeyMountDirectory, "") }

// PrimaryKey 主键字段名
func (c *StoreConfig) PrimaryKey() string { return c.str(KeyPrimaryKey, "") }

// StoreName 存储名称
func (c *StoreConfig) StoreName() string { return c.str(KeyStoreName, DefaultStoreName) }

// Schema 内联 schema，可以放在 string_configs 或 bytes_configs
func (c *StoreConfig) Schema() []byte {
	if v, ok := c.StringConfigs[KeySchema]; ok && v != "" {
		return []byte(v)
	}
	return c.BytesConfigs[KeySchema]
}

// LogLevel 日志级别
func (c *StoreConfig) LogLevel() string { return c.str(KeyLogLevel, DefaultLogLevel) }

// LogToConsole 是否输出日志到 stderr，默认开启
func (c *StoreConfig) LogToConsole() bool {
	if v, ok := c.BooleanConfigs[KeyLogToConsole]; ok {
		return v
	}
	return true
}

// LogFile 日志文件路径
func (c *StoreConfig) LogFile() string { return c.str(KeyLogFile, "") }

// NumSegments 分段数量
func (c *StoreConfig) NumSegments() int {
	if v, ok := c.IntConfigs[KeyNumSegments]; ok {
		return int(v)
	}
	return DefaultNumSegments
}

// DataFileSizeLimit 数据文件大小限制
func (c *StoreConfig) DataFileSizeLimit() int64 {
	if v, ok := c.IntConfigs[KeyDataFileSizeLimit]; ok {
		return v
	}
	return DefaultDataFileSizeLimit
}

// IndexType 内存索引类型
func (c *StoreConfig) IndexType() string { return c.str(KeyIndexType, "art") }

// BloomFP 布隆过滤器误判率
func (c *StoreConfig) BloomFP() float64 {
	if v, ok := c.FloatConfigs[KeyBloomFP]; ok {
		return v
	}
	return DefaultBloomFP
}

// Compression 值压缩方式
func (c *StoreConfig) Compression() string { return c.str(KeyCompression, "none") }

// ==================== 校验 ====================

// Validate 检查必填项和取值范围
func (c *StoreConfig) Validate() error {
	if c.MountDirectory() == "" {
		return fmt.Errorf("%w: %s", ErrMissingKey, KeyMountDirectory)
	}
	if c.PrimaryKey() == "" {
		return fmt.Errorf("%w: %s", ErrMissingKey, KeyPrimaryKey)
	}

	if n := c.NumSegments(); n < 1 || n > MaxNumSegments {
		return fmt.Errorf("%s must be in [1, %d], got %d", KeyNumSegments, MaxNumSegments, n)
	}
	if c.DataFileSizeLimit() <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyDataFileSizeLimit, c.DataFileSizeLimit())
	}
	if fp := c.BloomFP(); fp <= 0 || fp >= 1 {
		return fmt.Errorf("%s must be in (0, 1), got %v", KeyBloomFP, fp)
	}

	switch c.LogLevel() {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("unknown %s %q, allowed: error|warn|info|debug", KeyLogLevel, c.LogLevel())
	}

	if _, err := bitcask.ParseIndexType(c.IndexType()); err != nil {
		return err
	}
	if _, err := bitcask.ParseCompression(c.Compression()); err != nil {
		return err
	}

	if doc := c.Schema(); len(doc) > 0 {
		if _, err := schema.LoadYAML(doc); err != nil {
			return err
		}
	}

	return nil
}

// BitcaskOptions 将存储相关配置转换为 bitcask 选项
// 调用前应先通过 Validate
func (c *StoreConfig) BitcaskOptions() []bitcask.Option {
	indexType, _ := bitcask.ParseIndexType(c.IndexType())
	compression, _ := bitcask.ParseCompression(c.Compression())
	return []bitcask.Option{
		bitcask.WithDataFileSizeLimit(c.DataFileSizeLimit()),
		bitcask.WithIndexType(indexType),
		bitcask.WithBloomFilterFP(c.BloomFP()),
		bitcask.WithCompression(compression),
	}
}

// Package ckv 实现按字段存储的键值索引。
//
// 一个文档的每个字段值单独存放，键由主键和字段 ID 组成；
// 主键经 xxhash 分散到多个 bitcask 分段，分段之间互不加锁。
package ckv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
	"github.com/forever-free1/TideIKV/storage"
	"github.com/forever-free1/TideIKV/storage/bitcask"
)

// SchemaFileName 挂载目录中的 schema 文件
const SchemaFileName = "schema.yaml"

// Index 是一个打开的字段索引
type Index struct {
	mountDir   string
	primaryKey string
	table      *schema.Table
	segments   []*bitcask.DB
	logger     *logging.Logger

	mu     sync.Mutex
	closed bool
}

// Stats 索引的统计信息
type Stats struct {
	Segments  int `json:"segments"`
	Keys      int `json:"keys"`
	DataFiles int `json:"data_files"`
	Fields    int `json:"fields"`
}

// Open 按配置打开（或创建）挂载目录下的索引
// 参数：
//   - cfg: 已通过 Validate 的配置
//   - logger: 会话日志
//
// 返回：
//   - *Index: 打开的索引
//   - error: 打开错误，出错时不会残留已打开的分段
func Open(cfg *config.StoreConfig, logger *logging.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}

	mountDir := cfg.MountDirectory()
	if err := os.MkdirAll(mountDir, 0755); err != nil {
		return nil, fmt.Errorf("创建挂载目录失败: %w", err)
	}

	table, err := loadSchema(mountDir, cfg)
	if err != nil {
		return nil, err
	}

	n := cfg.NumSegments()
	if existing, err := countSegments(mountDir); err != nil {
		return nil, err
	} else if existing > 0 && existing != n {
		return nil, fmt.Errorf("%w: found %d, configured %d", ErrSegmentMismatch, existing, n)
	}

	segments := make([]*bitcask.DB, n)
	opts := cfg.BitcaskOptions()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			db, err := bitcask.Open(filepath.Join(mountDir, segmentDirName(i)), opts...)
			if err != nil {
				return fmt.Errorf("打开分段 %d 失败: %w", i, err)
			}
			segments[i] = db
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, db := range segments {
			if db != nil {
				db.Close()
			}
		}
		return nil, err
	}

	idx := &Index{
		mountDir:   mountDir,
		primaryKey: cfg.PrimaryKey(),
		table:      table,
		segments:   segments,
		logger:     logger,
	}

	st := idx.Stats()
	logger.Info("index opened",
		"mount_directory", mountDir,
		"segments", st.Segments,
		"keys", st.Keys,
		"fields", st.Fields,
	)
	return idx, nil
}

// loadSchema 合并磁盘上的 schema 和配置中的内联 schema
// 主键字段未声明时以 string 类型自动加入
func loadSchema(mountDir string, cfg *config.StoreConfig) (*schema.Table, error) {
	path := filepath.Join(mountDir, SchemaFileName)

	persisted, err := schema.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table, err := schema.NewTable(path, persisted)
	if err != nil {
		return nil, fmt.Errorf("加载 schema 失败: %w", err)
	}

	if doc := cfg.Schema(); len(doc) > 0 {
		inline, err := schema.LoadYAML(doc)
		if err != nil {
			return nil, err
		}
		if err := table.Update(inline); err != nil {
			return nil, fmt.Errorf("合并 schema 失败: %w", err)
		}
	}

	if _, err := table.Ensure(cfg.PrimaryKey(), schema.TypeString); err != nil {
		return nil, fmt.Errorf("primary key %q: %w", cfg.PrimaryKey(), err)
	}
	return table, nil
}

func segmentDirName(i int) string {
	return fmt.Sprintf("segment_%03d", i)
}

func countSegments(mountDir string) (int, error) {
	entries, err := os.ReadDir(mountDir)
	if err != nil {
		return 0, fmt.Errorf("读取挂载目录失败: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "segment_") {
			n++
		}
	}
	return n, nil
}

func (idx *Index) segment(pk []byte) *bitcask.DB {
	return idx.segments[segmentOf(pk, len(idx.segments))]
}

// PrimaryKeyField 返回主键字段名
func (idx *Index) PrimaryKeyField() string {
	return idx.primaryKey
}

// Fields 返回当前 schema 的全部字段
func (idx *Index) Fields() []schema.Field {
	return idx.table.Fields()
}

// ==================== 读取 ====================

// GetFieldValue 读取文档的一个字段值
// 返回：
//   - []byte: 字段值，调用方独占
//   - error: 字段未声明返回 ErrFieldNotFound，没有值返回 storage.ErrKeyNotFound
func (idx *Index) GetFieldValue(pk []byte, fieldName string) ([]byte, error) {
	if len(pk) == 0 {
		return nil, storage.ErrKeyNotFound
	}

	field, ok := idx.table.Lookup(fieldName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, fieldName)
	}

	value, err := idx.segment(pk).Get(fieldKey(pk, field.ID))
	if err != nil {
		if errors.Is(err, bitcask.ErrDBClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return value, nil
}

// ==================== 写入 ====================

func checkPrimaryKey(pk []byte) error {
	if len(pk) == 0 {
		return ErrMissingPrimaryKey
	}
	if len(pk) > MaxPrimaryKeyLen {
		return fmt.Errorf("%w: %d bytes", ErrPrimaryKeyTooLarge, len(pk))
	}
	return nil
}

// UpsertFieldValues 写入文档的字段值
// fields 必须包含主键字段，所有字段必须已在 schema 中声明
func (idx *Index) UpsertFieldValues(fields map[string][]byte) error {
	pk := fields[idx.primaryKey]
	if err := checkPrimaryKey(pk); err != nil {
		return err
	}

	// 先校验全部字段，避免写入一半
	resolved := make([]schema.Field, 0, len(fields))
	for name, value := range fields {
		field, ok := idx.table.Lookup(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrFieldNotFound, name)
		}
		if err := field.Validate(value); err != nil {
			return err
		}
		resolved = append(resolved, field)
	}

	seg := idx.segment(pk)
	for _, field := range resolved {
		if err := seg.Put(fieldKey(pk, field.ID), fields[field.Name]); err != nil {
			return fmt.Errorf("写入字段 %q 失败: %w", field.Name, err)
		}
	}
	return nil
}

// DeleteFieldValues 删除文档的部分字段值
func (idx *Index) DeleteFieldValues(pk []byte, fieldNames []string) error {
	if err := checkPrimaryKey(pk); err != nil {
		return err
	}

	ids := make([]uint16, 0, len(fieldNames))
	for _, name := range fieldNames {
		field, ok := idx.table.Lookup(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrFieldNotFound, name)
		}
		ids = append(ids, field.ID)
	}

	seg := idx.segment(pk)
	for _, id := range ids {
		if err := seg.Delete(fieldKey(pk, id)); err != nil {
			return fmt.Errorf("删除字段 %d 失败: %w", id, err)
		}
	}
	return nil
}

// DeleteDocument 删除文档的全部字段值，返回删除的字段数
func (idx *Index) DeleteDocument(pk []byte) (int, error) {
	if err := checkPrimaryKey(pk); err != nil {
		return 0, err
	}

	seg := idx.segment(pk)
	keys, err := seg.KeysWithPrefix(docPrefix(pk))
	if err != nil {
		return 0, err
	}

	for i, key := range keys {
		if err := seg.Delete(key); err != nil {
			return i, fmt.Errorf("删除文档失败: %w", err)
		}
	}
	return len(keys), nil
}

// Documents 逐个输出索引中的文档，doc 为字段名到值的映射
// 分段之间依次遍历，同一分段内的文档一次性收集
func (idx *Index) Documents(fn func(doc map[string][]byte) error) error {
	for i, seg := range idx.segments {
		keys, err := seg.KeysWithPrefix(nil)
		if err != nil {
			if errors.Is(err, bitcask.ErrDBClosed) {
				return ErrClosed
			}
			return err
		}

		docs := make(map[string]map[string][]byte)
		var order []string
		for _, key := range keys {
			pk, id, ok := parseFieldKey(key)
			if !ok {
				return fmt.Errorf("分段 %d 中的键格式错误: %x", i, key)
			}
			field, ok := idx.table.LookupID(id)
			if !ok {
				return fmt.Errorf("分段 %d 中的字段 %d 不在 schema 中", i, id)
			}
			value, err := seg.Get(key)
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("读取分段 %d 失败: %w", i, err)
			}

			doc, ok := docs[string(pk)]
			if !ok {
				doc = make(map[string][]byte)
				docs[string(pk)] = doc
				order = append(order, string(pk))
			}
			doc[field.Name] = value
		}

		for _, pk := range order {
			if err := fn(docs[pk]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset 删除全部字段值，schema 保持不变
func (idx *Index) Reset() error {
	for i, seg := range idx.segments {
		keys, err := seg.KeysWithPrefix(nil)
		if err != nil {
			if errors.Is(err, bitcask.ErrDBClosed) {
				return ErrClosed
			}
			return err
		}
		for _, key := range keys {
			if err := seg.Delete(key); err != nil {
				return fmt.Errorf("清空分段 %d 失败: %w", i, err)
			}
		}
	}
	return nil
}

// UpdateSchema 追加新字段，已有字段的 ID 和类型不可修改
func (idx *Index) UpdateSchema(fields []schema.Field) error {
	return idx.table.Update(fields)
}

// FlushWrites 将所有分段同步到磁盘
func (idx *Index) FlushWrites() error {
	var g errgroup.Group
	for _, seg := range idx.segments {
		g.Go(seg.Sync)
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, bitcask.ErrDBClosed) {
			return ErrClosed
		}
		return fmt.Errorf("同步分段失败: %w", err)
	}
	return nil
}

// CompactionStats 是一次压缩的统计信息
type CompactionStats struct {
	Segments    int   `json:"segments"`
	LiveKeys    int   `json:"live_keys"`
	FilesBefore int   `json:"files_before"`
	FilesAfter  int   `json:"files_after"`
	BytesBefore int64 `json:"bytes_before"`
	BytesAfter  int64 `json:"bytes_after"`
}

// Compact 并行合并所有分段，丢弃被覆盖和已删除的字段值
// 每个分段合并期间，落在该分段上的读写会等待
func (idx *Index) Compact() (CompactionStats, error) {
	results := make([]bitcask.MergeStats, len(idx.segments))

	var g errgroup.Group
	for i, seg := range idx.segments {
		g.Go(func() error {
			st, err := seg.Merge()
			results[i] = st
			if err != nil {
				return fmt.Errorf("合并分段 %d 失败: %w", i, err)
			}
			return nil
		})
	}
	err := g.Wait()

	st := CompactionStats{Segments: len(idx.segments)}
	for _, r := range results {
		st.LiveKeys += r.LiveKeys
		st.FilesBefore += r.FilesBefore
		st.FilesAfter += r.FilesAfter
		st.BytesBefore += r.BytesBefore
		st.BytesAfter += r.BytesAfter
	}

	if err != nil {
		if errors.Is(err, bitcask.ErrDBClosed) {
			return st, ErrClosed
		}
		return st, err
	}

	idx.logger.Info("index compacted",
		"mount_directory", idx.mountDir,
		"live_keys", st.LiveKeys,
		"bytes_before", st.BytesBefore,
		"bytes_after", st.BytesAfter,
	)
	return st, nil
}

// Stats 返回索引的统计信息
func (idx *Index) Stats() Stats {
	st := Stats{
		Segments: len(idx.segments),
		Fields:   idx.table.Len(),
	}
	for _, seg := range idx.segments {
		s := seg.Stats()
		st.Keys += s.Keys
		st.DataFiles += s.DataFiles
	}
	return st
}

// Close 关闭所有分段，返回遇到的第一个错误
// 重复关闭返回 nil
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}
	idx.closed = true

	var firstErr error
	for i, seg := range idx.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("关闭分段 %d 失败: %w", i, err)
		}
	}

	idx.logger.Info("index closed", "mount_directory", idx.mountDir)
	return firstErr
}

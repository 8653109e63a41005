package session

import (
	"errors"

	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/config"
	"github.com/forever-free1/TideIKV/ingest"
	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
	"github.com/forever-free1/TideIKV/storage"
)

// Engine 是会话持有的存储引擎
type Engine interface {
	// GetFieldValue 读取字段值，没有值时返回 ErrNotFound
	GetFieldValue(pk []byte, field string) ([]byte, error)

	// Close 释放引擎，会话保证只调用一次
	Close() error
}

// Writer 是可选的写入接口
type Writer interface {
	Process(ev *ingest.DataEvent) error
	FlushWrites() error
}

// Compactor 是可选的压缩接口
type Compactor interface {
	Compact() (ckv.CompactionStats, error)
}

// Exporter 是可选的全量导出和重建接口，用于复制快照
type Exporter interface {
	Schema() ([]schema.Field, error)
	Documents(fn func(doc map[string][]byte) error) error
	Reset() error
	UpdateSchema(fields []schema.Field) error
}

// Opener 根据配置构造引擎
type Opener func(cfg *config.StoreConfig, logger *logging.Logger) (Engine, error)

// IndexOpener 返回基于 ckv.Index 的 Opener
// notifier 可以为 nil
func IndexOpener(notifier ingest.Notifier) Opener {
	return func(cfg *config.StoreConfig, logger *logging.Logger) (Engine, error) {
		idx, err := ckv.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &indexEngine{
			idx:  idx,
			proc: ingest.NewProcessor(idx, notifier, logger),
		}, nil
	}
}

// indexEngine 将 ckv.Index 适配为 Engine 和 Writer
type indexEngine struct {
	idx  *ckv.Index
	proc *ingest.Processor
}

func (e *indexEngine) GetFieldValue(pk []byte, field string) ([]byte, error) {
	v, err := e.idx.GetFieldValue(pk, field)
	if errors.Is(err, storage.ErrKeyNotFound) || errors.Is(err, ckv.ErrFieldNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (e *indexEngine) Process(ev *ingest.DataEvent) error {
	return e.proc.Process(ev)
}

func (e *indexEngine) FlushWrites() error {
	return e.idx.FlushWrites()
}

func (e *indexEngine) Compact() (ckv.CompactionStats, error) {
	return e.idx.Compact()
}

func (e *indexEngine) Schema() ([]schema.Field, error) {
	return e.idx.Fields(), nil
}

func (e *indexEngine) Documents(fn func(doc map[string][]byte) error) error {
	return e.idx.Documents(fn)
}

func (e *indexEngine) Reset() error {
	return e.idx.Reset()
}

func (e *indexEngine) UpdateSchema(fields []schema.Field) error {
	return e.idx.UpdateSchema(fields)
}

func (e *indexEngine) Stats() ckv.Stats {
	return e.idx.Stats()
}

func (e *indexEngine) Close() error {
	return e.idx.Close()
}

var (
	_ Engine = (*indexEngine)(nil)
	_ Writer    = (*indexEngine)(nil)
	_ Compactor = (*indexEngine)(nil)
	_ Exporter  = (*indexEngine)(nil)
)

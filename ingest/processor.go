package ingest

import (
	"errors"
	"fmt"

	"github.com/forever-free1/TideIKV/logging"
	"github.com/forever-free1/TideIKV/schema"
)

// ErrMissingPrimaryKey 事件中没有主键
var ErrMissingPrimaryKey = errors.New("data event is missing the primary key")

// Target 是事件的应用对象（ckv.Index）
type Target interface {
	PrimaryKeyField() string
	UpsertFieldValues(fields map[string][]byte) error
	DeleteFieldValues(pk []byte, fieldNames []string) error
	DeleteDocument(pk []byte) (int, error)
	UpdateSchema(fields []schema.Field) error
}

// Notifier 接收字段级别的变更通知
// field 为空表示整个文档被删除
type Notifier interface {
	NotifyUpsert(pk, field string, value []byte)
	NotifyDelete(pk, field string)
}

// Processor 将事件应用到 Target
type Processor struct {
	target   Target
	notifier Notifier
	logger   *logging.Logger
}

// NewProcessor 创建 Processor，notifier 可以为 nil
func NewProcessor(target Target, notifier Notifier, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Processor{target: target, notifier: notifier, logger: logger}
}

// Process 应用一条事件
// schema 变更先于数据变更生效，所以同一事件可以写入新声明的字段
func (p *Processor) Process(ev *DataEvent) error {
	if len(ev.Schema) > 0 {
		if err := p.target.UpdateSchema(ev.Schema); err != nil {
			return fmt.Errorf("更新 schema 失败: %w", err)
		}
	}

	pkField := p.target.PrimaryKeyField()
	pk, ok := ev.Fields[pkField]
	if !ok || len(pk) == 0 {
		return fmt.Errorf("%w: field %q", ErrMissingPrimaryKey, pkField)
	}

	switch ev.Type {
	case EventUpsert:
		if err := p.target.UpsertFieldValues(ev.Fields); err != nil {
			return err
		}
		if p.notifier != nil {
			for name, value := range ev.Fields {
				p.notifier.NotifyUpsert(string(pk), name, value)
			}
		}

	case EventDeleteFields:
		if err := p.target.DeleteFieldValues(pk, ev.FieldNames); err != nil {
			return err
		}
		if p.notifier != nil {
			for _, name := range ev.FieldNames {
				p.notifier.NotifyDelete(string(pk), name)
			}
		}

	case EventDeleteDocument:
		n, err := p.target.DeleteDocument(pk)
		if err != nil {
			return err
		}
		if p.notifier != nil && n > 0 {
			p.notifier.NotifyDelete(string(pk), "")
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	p.logger.Debug("data event applied", "type", ev.Type, "fields", len(ev.Fields))
	return nil
}

// ProcessBytes 解码并应用一条 msgpack 事件
func (p *Processor) ProcessBytes(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	return p.Process(ev)
}

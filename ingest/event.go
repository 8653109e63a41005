// Package ingest 将数据事件应用到索引
package ingest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/forever-free1/TideIKV/schema"
)

// EventType 数据事件类型
type EventType string

const (
	// EventUpsert 写入文档的字段值
	EventUpsert EventType = "upsert"
	// EventDeleteFields 删除文档的部分字段
	EventDeleteFields EventType = "delete_fields"
	// EventDeleteDocument 删除整个文档
	EventDeleteDocument EventType = "delete_document"
)

// ErrUnknownEvent 未知的事件类型
var ErrUnknownEvent = errors.New("unknown data event type")

// DataEvent 一条数据变更
// Fields 总是包含主键字段；删除事件只需要主键
type DataEvent struct {
	Type       EventType         `codec:"type"`
	Fields     map[string][]byte `codec:"fields,omitempty"`
	FieldNames []string          `codec:"field_names,omitempty"`
	Schema     []schema.Field    `codec:"schema,omitempty"`
}

var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

// EncodeEvent 将事件编码为 msgpack
func EncodeEvent(ev *DataEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(ev); err != nil {
		return nil, fmt.Errorf("编码事件失败: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent 从 msgpack 解码事件
func DecodeEvent(data []byte) (*DataEvent, error) {
	var ev DataEvent
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(&ev); err != nil {
		return nil, fmt.Errorf("解码事件失败: %w", err)
	}
	switch ev.Type {
	case EventUpsert, EventDeleteFields, EventDeleteDocument:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return &ev, nil
}

package raft

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"

	"github.com/forever-free1/TideIKV/ingest"
	"github.com/forever-free1/TideIKV/schema"
)

// ==================== FSM 实现 ====================

// Applier 是数据事件的最终应用对象
// *ingest.Processor 和 *session.Session 都满足该接口
type Applier interface {
	Process(ev *ingest.DataEvent) error
}

// StateStore 是可以导出和重建全部状态的 Applier
// *session.Session 满足该接口
type StateStore interface {
	Applier
	Schema() ([]schema.Field, error)
	Documents(fn func(doc map[string][]byte) error) error
	Reset() error
	UpdateSchema(fields []schema.Field) error
}

// ErrSnapshotUnsupported 快照带有数据，但 Applier 无法重建状态
var ErrSnapshotUnsupported = errors.New("applier cannot restore a data snapshot")

// EventFSM 实现 Hashicorp Raft 的 FSM 接口
// Raft 日志的 payload 是 msgpack 编码的 ingest.DataEvent，
// 所有节点按相同顺序把事件应用到各自的索引
type EventFSM struct {
	applier     Applier
	lastApplied atomic.Uint64
}

// NewEventFSM 创建新的 EventFSM
func NewEventFSM(applier Applier) *EventFSM {
	return &EventFSM{applier: applier}
}

// Apply 将一条已提交的日志应用到索引
// 返回值作为 ApplyFuture.Response，出错时为 error
func (f *EventFSM) Apply(log *raft.Log) interface{} {
	defer f.lastApplied.Store(log.Index)

	if log.Type != raft.LogCommand {
		return nil
	}

	ev, err := ingest.DecodeEvent(log.Data)
	if err != nil {
		return fmt.Errorf("解析事件失败: %w", err)
	}
	if err := f.applier.Process(ev); err != nil {
		return fmt.Errorf("应用事件失败: %w", err)
	}
	return nil
}

// LastApplied 返回最后应用的日志索引
func (f *EventFSM) LastApplied() uint64 {
	return f.lastApplied.Load()
}

// Snapshot 创建状态机的快照
// Applier 实现了 StateStore 时，快照包含 schema 和全部文档，
// 新加入或落后的节点可以据此重建索引；否则快照不携带数据
func (f *EventFSM) Snapshot() (raft.FSMSnapshot, error) {
	store, ok := f.applier.(StateStore)
	if !ok {
		return &emptySnapshot{}, nil
	}

	fields, err := store.Schema()
	if err != nil {
		return nil, fmt.Errorf("读取 schema 失败: %w", err)
	}
	state := &stateSnapshot{
		LastApplied: f.lastApplied.Load(),
		Schema:      fields,
	}
	// Raft 保证 Snapshot 与 Apply 不会并发，这里读到的是一致的状态
	err = store.Documents(func(doc map[string][]byte) error {
		state.Documents = append(state.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("导出文档失败: %w", err)
	}
	return state, nil
}

// Restore 从快照恢复状态机
// 带数据的快照会先清空索引，再写入快照中的 schema 和文档
func (f *EventFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	data, err := io.ReadAll(snapshot)
	if err != nil {
		return fmt.Errorf("读取快照失败: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state stateSnapshot
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(&state); err != nil {
		return fmt.Errorf("解析快照失败: %w", err)
	}

	store, ok := f.applier.(StateStore)
	if !ok {
		return ErrSnapshotUnsupported
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("清空索引失败: %w", err)
	}
	if err := store.UpdateSchema(state.Schema); err != nil {
		return fmt.Errorf("恢复 schema 失败: %w", err)
	}
	for _, doc := range state.Documents {
		if err := store.Process(&ingest.DataEvent{Type: ingest.EventUpsert, Fields: doc}); err != nil {
			return fmt.Errorf("恢复文档失败: %w", err)
		}
	}

	f.lastApplied.Store(state.LastApplied)
	return nil
}

// ==================== 快照实现 ====================

var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

// stateSnapshot 是索引全部状态的快照
type stateSnapshot struct {
	LastApplied uint64              `codec:"last_applied"`
	Schema      []schema.Field      `codec:"schema"`
	Documents   []map[string][]byte `codec:"documents"`
}

func (s *stateSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := codec.NewEncoder(sink, msgpackHandle).Encode(s); err != nil {
			return fmt.Errorf("写入快照失败: %w", err)
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *stateSnapshot) Release() {}

// emptySnapshot 用于无法导出状态的 Applier
type emptySnapshot struct{}

func (s *emptySnapshot) Persist(sink raft.SnapshotSink) error {
	if err := sink.Close(); err != nil {
		sink.Cancel()
		return err
	}
	return nil
}

func (s *emptySnapshot) Release() {}

// 确保 EventFSM 实现了 raft.FSM 接口
var _ raft.FSM = (*EventFSM)(nil)

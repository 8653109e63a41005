package raft

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/forever-free1/TideIKV/ingest"
)

// ErrNotLeader 当前节点不是 Leader，写入需要发往 Leader
var ErrNotLeader = errors.New("not the raft leader")

// ==================== 节点配置 ====================

// NodeConfig 定义 Raft 节点的配置
type NodeConfig struct {
	// 节点 ID
	NodeID raft.ServerID

	// 监听地址，Transport 为空时使用 TCP 传输
	BindAddr string

	// 数据目录（快照）
	DataDir string

	// 是否引导集群，Peers 为空时只引导本节点
	Bootstrap bool
	Peers     []raft.Server

	// 可选：自定义传输层（测试中使用 InmemTransport）
	Transport raft.Transport

	// 可选：日志
	Logger hclog.Logger

	// 提交超时，默认 5s
	ApplyTimeout time.Duration

	// 快照后保留的日志条数，0 使用 raft 默认值；
	// 落后超过这个范围的节点通过快照追赶
	TrailingLogs uint64
}

// Node Raft 节点封装
type Node struct {
	raft      *raft.Raft
	fsm       *EventFSM
	transport raft.Transport
	config    *NodeConfig
}

// ==================== 节点创建 ====================

// NewNode 创建新的 Raft 节点
// 参数：
//   - applier: 已提交事件的应用对象
//   - config: 节点配置
//
// 返回：
//   - *Node: Raft 节点
//   - error: 创建错误
func NewNode(applier Applier, config *NodeConfig) (*Node, error) {
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "ikv-raft",
			Level:  hclog.Warn,
			Output: os.Stderr,
		})
	}
	if config.ApplyTimeout == 0 {
		config.ApplyTimeout = 5 * time.Second
	}

	fsm := NewEventFSM(applier)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = config.NodeID
	raftConfig.Logger = logger
	if config.TrailingLogs > 0 {
		raftConfig.TrailingLogs = config.TrailingLogs
	}

	// 日志和稳定存储使用内存实现：事件应用后已持久化在索引中
	store := raft.NewInmemStore()

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(filepath.Join(config.DataDir, "raft-snapshots"), 3, logger.Named("snapshot"))
	if err != nil {
		return nil, fmt.Errorf("创建快照存储失败: %w", err)
	}

	transport := config.Transport
	if transport == nil {
		tcp, err := raft.NewTCPTransportWithLogger(config.BindAddr, nil, 3, 10*time.Second, logger.Named("transport"))
		if err != nil {
			return nil, fmt.Errorf("创建传输层失败: %w", err)
		}
		transport = tcp
	}

	ra, err := raft.NewRaft(raftConfig, fsm, store, store, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("创建 Raft 实例失败: %w", err)
	}

	if config.Bootstrap {
		servers := config.Peers
		if len(servers) == 0 {
			servers = []raft.Server{{
				Suffrage: raft.Voter,
				ID:       config.NodeID,
				Address:  transport.LocalAddr(),
			}}
		}
		err := ra.BootstrapCluster(raft.Configuration{Servers: servers}).Error()
		if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			ra.Shutdown()
			return nil, fmt.Errorf("引导集群失败: %w", err)
		}
	}

	return &Node{
		raft:      ra,
		fsm:       fsm,
		transport: transport,
		config:    config,
	}, nil
}

// ==================== 客户端操作 ====================

// Apply 通过 Raft 提交一条数据事件
// 事件经过共识后由每个节点的 FSM 应用
func (n *Node) Apply(ev *ingest.DataEvent) error {
	data, err := ingest.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return n.ApplyBytes(data)
}

// ApplyBytes 提交一条已编码的数据事件
func (n *Node) ApplyBytes(data []byte) error {
	if _, err := ingest.DecodeEvent(data); err != nil {
		return err
	}

	future := n.raft.Apply(data, n.config.ApplyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return ErrNotLeader
		}
		return fmt.Errorf("提交到 Raft 失败: %w", err)
	}

	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// WaitForLeader 等待集群选出 Leader
func (n *Node) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("等待 Leader 超时 (%s)", timeout)
		case <-ticker.C:
			if addr, _ := n.raft.LeaderWithID(); addr != "" {
				return nil
			}
		}
	}
}

// ==================== 集群管理 ====================

// AddPeer 添加节点到集群
func (n *Node) AddPeer(id raft.ServerID, address string) error {
	return n.raft.AddVoter(id, raft.ServerAddress(address), 0, 0).Error()
}

// RemovePeer 从集群移除节点
func (n *Node) RemovePeer(id raft.ServerID) error {
	return n.raft.RemoveServer(id, 0, 0).Error()
}

// Leader 获取当前 Leader 的地址
func (n *Node) Leader() (raft.ServerAddress, bool) {
	addr, _ := n.raft.LeaderWithID()
	return addr, addr != ""
}

// IsLeader 判断当前节点是否为 Leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Peers 获取集群中的所有节点
func (n *Node) Peers() []raft.ServerID {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil
	}

	var peers []raft.ServerID
	for _, server := range future.Configuration().Servers {
		peers = append(peers, server.ID)
	}
	return peers
}

// LastApplied 返回最后应用的日志索引
func (n *Node) LastApplied() uint64 {
	return n.fsm.LastApplied()
}

// Snapshot 创建快照，用于截断 Raft 日志
func (n *Node) Snapshot() error {
	return n.raft.Snapshot().Error()
}

// ==================== 关闭 ====================

// Close 关闭 Raft 节点
// 索引由会话持有，这里不关闭
func (n *Node) Close() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("关闭 Raft 失败: %w", err)
	}
	if closer, ok := n.transport.(raft.WithClose); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("关闭传输层失败: %w", err)
		}
	}
	return nil
}

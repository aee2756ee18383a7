package raft

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v3"
	ldlogger "github.com/lni/dragonboat/v3/logger"
	"github.com/lni/dragonboat/v3/raftio"
	sm "github.com/lni/dragonboat/v3/statemachine"
	"sync"
)

var (
	ErrNotStarted = errors.New("raft node not started")
	ErrNoLeader   = errors.New("no valid leader currently available")
)

// RaftManager 持有 NodeHost 与单个集群的成员管理
type RaftManager struct {
	NodeHost *dragonboat.NodeHost
	Config   *RaftConfig
	NodeID   uint32
	Address  string // 当前节点 "version:ip"

	initialMembers map[uint64]string
	mu             sync.Mutex
	started        bool
}

// NewRaftManager 校验配置并创建 NodeHost，集群在 Start 时才启动
func NewRaftManager(
	config *RaftConfig,
	raftListener raftio.IRaftEventListener,
	sysListener raftio.ISystemEventListener,
) (*RaftManager, error) {
	if err := config.setDefaults(); err != nil {
		return nil, err
	}

	ip := config.LocalIP
	if ip == "" {
		var err error
		if ip, err = utils.GetLocalIP(); err != nil {
			return nil, err
		}
	}
	address := fmt.Sprintf("%d:%s", config.NodeVersion, ip)
	nodeID, err := ParseNodeID(address)
	if err != nil {
		return nil, err
	}
	members, err := config.initialMembers(nodeID, ip)
	if err != nil {
		return nil, err
	}

	level := parseDragonboatLevel(config.DragonboatLogLevel)
	ldlogger.SetLoggerFactory(func(pkg string) ldlogger.ILogger {
		return newDragonboatLogger(pkg, level)
	})

	nhConf := config.nodeHostConfig(ip, raftListener, sysListener)
	nh, err := dragonboat.NewNodeHost(nhConf)
	if err != nil {
		logger.Errorf("[RaftManager] failed to create node host: %v", err)
		return nil, err
	}

	logger.Infof("[RaftManager] NodeHost created at %s, address=%s, node=%s", config.NodeHostDir, nhConf.RaftAddress, FormatNodeID(nodeID))
	return &RaftManager{
		NodeHost:       nh,
		Config:         config,
		NodeID:         nodeID,
		Address:        address,
		initialMembers: members,
	}, nil
}

func (rm *RaftManager) Start(create sm.CreateConcurrentStateMachineFunc) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.started {
		return nil
	}

	conf := rm.Config.clusterConfig(rm.NodeID)
	if err := rm.NodeHost.StartConcurrentCluster(rm.initialMembers, rm.Config.Join, create, conf); err != nil {
		return fmt.Errorf("start raft cluster %d: %w", rm.Config.ClusterID, err)
	}
	rm.started = true
	logger.Infof("[RaftManager] cluster %d started (join=%v, members=%d)", rm.Config.ClusterID, rm.Config.Join, len(rm.initialMembers))
	return nil
}

func (rm *RaftManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.started {
		return
	}
	rm.NodeHost.Stop()
	rm.started = false
	logger.Infof("[RaftManager] NodeHost stopped")
}

func (rm *RaftManager) isStarted() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.started
}

// leader 当前 leader 的 NodeID
func (rm *RaftManager) leader() (uint32, error) {
	if !rm.isStarted() {
		return 0, ErrNotStarted
	}
	id, valid, err := rm.NodeHost.GetLeaderID(uint64(rm.Config.ClusterID))
	if err != nil {
		return 0, fmt.Errorf("get leader id: %w", err)
	}
	if !valid {
		return 0, ErrNoLeader
	}
	return uint32(id), nil
}

// GetLeaderIP 返回 "version:x.x.a.b"
func (rm *RaftManager) GetLeaderIP() (string, error) {
	id, err := rm.leader()
	if err != nil {
		return "", err
	}
	return FormatNodeID(id), nil
}

func (rm *RaftManager) IsLeader() bool {
	id, err := rm.leader()
	return err == nil && id == rm.NodeID
}

// AddOrRemoveNode 只能在 leader 上执行，node 格式 "version:ip"
func (rm *RaftManager) AddOrRemoveNode(node string, addNode bool) error {
	target, err := ParseNodeID(node)
	if err != nil {
		return err
	}
	leaderID, err := rm.leader()
	if err != nil {
		return err
	}
	if leaderID != rm.NodeID {
		return fmt.Errorf("current node %s is not the leader (%s)", FormatNodeID(rm.NodeID), FormatNodeID(leaderID))
	}
	if !addNode && target == rm.NodeID {
		return errors.New("leader cannot remove itself, transfer leadership first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), rm.Config.MembershipTimeout)
	defer cancel()

	clusterID := uint64(rm.Config.ClusterID)
	if addNode {
		addr := rm.Config.raftAddress(memberIP(node))
		if err = rm.NodeHost.SyncRequestAddNode(ctx, clusterID, uint64(target), addr, 0); err != nil {
			return fmt.Errorf("add node %s: %w", node, err)
		}
		logger.Infof("[RaftManager] node %s added at %s", node, addr)
		return nil
	}
	if err = rm.NodeHost.SyncRequestDeleteNode(ctx, clusterID, uint64(target), 0); err != nil {
		return fmt.Errorf("remove node %s: %w", node, err)
	}
	logger.Infof("[RaftManager] node %s removed", node)
	return nil
}

package raft

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"github.com/lni/dragonboat/v3/raftio"
	"github.com/zeromicro/go-zero/core/threading"
	"sync/atomic"
	"time"
)

const (
	roleCheckInterval  = 2 * time.Second
	readyCheckInterval = 2 * time.Second
	readyProbeTimeout  = 500 * time.Millisecond
)

// LeaderUpdated 实现 raftio.IRaftEventListener
// 成为 leader 后由 watchLeadership 周期确认，失去 leader 立即降级
func (r *Raft) LeaderUpdated(info raftio.LeaderInfo) {
	logger.Infof("[Raft] leader updated: cluster=%d node=%d leader=%d", info.ClusterID, info.NodeID, info.LeaderID)
	if info.LeaderID == info.NodeID {
		r.watchOnce.Do(func() { threading.GoSafe(r.watchLeadership) })
		return
	}
	r.setRole(false)
}

// setRole 切换时 first=true；重复确认时 first=false，listener 需幂等
func (r *Raft) setRole(leader bool) {
	first := r.isLeader.CompareAndSwap(!leader, leader)
	if leader {
		if first {
			logger.Infof("[Raft] this node is now the leader")
		}
		r.listener.OnBecameRaftLeader(first)
		return
	}
	if first {
		logger.Infof("[Raft] this node is now a follower")
	}
	r.listener.OnBecameRaftFollower(first)
}

func (r *Raft) watchLeadership() {
	var (
		self      = uint64(r.manager.NodeID)
		clusterID = uint64(r.manager.Config.ClusterID)
		errLogAt  atomic.Int64
		infoLogAt atomic.Int64
	)
	ticker := time.NewTicker(roleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		leaderID, valid, err := r.manager.NodeHost.GetLeaderID(clusterID)
		if err != nil {
			if utils.ThrottleLog(&errLogAt, 10*time.Second) {
				logger.Warnf("[Raft] GetLeaderID failed: %v", err)
			}
			continue
		}
		if !valid {
			continue
		}
		if utils.ThrottleLog(&infoLogAt, time.Minute) {
			logger.Debugf("[Raft] leader=%d self=%d", leaderID, self)
		}
		if leaderID == self {
			r.setRole(true)
		}
	}
}

// watchReady 第一次应用日志后启动，ReadIndex 读成功即视为追上最新日志
func (r *Raft) watchReady() {
	for !r.isReady.Load() {
		if r.checkReady() {
			return
		}
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(readyCheckInterval):
		}
	}
}

func (r *Raft) checkReady() bool {
	ctx, cancel := context.WithTimeout(r.ctx, readyProbeTimeout)
	defer cancel()

	if _, err := r.manager.NodeHost.SyncRead(ctx, uint64(r.manager.Config.ClusterID), nil); err != nil {
		logger.Debugf("[Raft] not ready yet: %v", err)
		return false
	}
	if r.isReady.CompareAndSwap(false, true) {
		logger.Infof("[Raft] node is ready, applied index %d", r.appliedIndex.Load())
		r.listener.OnRaftReady()
	}
	return true
}

package raft

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/raft"
	"dex-pool-sentinel/internal/pkg/retry"
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v3"
	sm "github.com/lni/dragonboat/v3/statemachine"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

var ErrSubmitUnrecoverable = errors.New("raft: unrecoverable submit error")

// submitPolicy 次数不限，由 SubmitDeadline 截止
var submitPolicy = retry.Policy{
	MaxAttempts: math.MaxInt32,
	BaseDelay:   50 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    500 * time.Millisecond,
}

// Raft 冷却账本的复制状态机，同时跟踪本节点角色
// 只有一个集群，状态机实例就是 Raft 自身
type Raft struct {
	manager  *raft.RaftManager
	listener RaftListener

	ctx    context.Context
	cancel context.CancelFunc

	isReady      atomic.Bool
	isLeader     atomic.Bool
	appliedIndex atomic.Uint64

	watchOnce sync.Once
	readyOnce sync.Once
}

func NewRaft(config *raft.RaftConfig, listener RaftListener) (*Raft, error) {
	if listener == nil {
		return nil, errors.New("[Raft] listener must not be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Raft{listener: listener, ctx: ctx, cancel: cancel}

	m, err := raft.NewRaftManager(config, r, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	r.manager = m
	return r, nil
}

func (r *Raft) IsReady() bool  { return r.isReady.Load() }
func (r *Raft) IsLeader() bool { return r.isLeader.Load() }

func (r *Raft) LeaderIP() (string, error) {
	return r.manager.GetLeaderIP()
}

func (r *Raft) Address() string {
	return r.manager.Address
}

func (r *Raft) AddOrRemoveNode(node string, add bool) error {
	return r.manager.AddOrRemoveNode(node, add)
}

func (r *Raft) Start() error {
	err := r.manager.Start(func(clusterID, nodeID uint64) sm.IConcurrentStateMachine {
		return r
	})
	if err != nil {
		logger.Errorf("[Raft] start failed: %v", err)
	}
	return err
}

func (r *Raft) Stop() {
	r.cancel()
	r.manager.Stop()
}

// Submit 同步提交一条命令
// 可重试错误按 submitPolicy 退避，直到 SubmitDeadline；会话或集群失效立即返回
func (r *Raft) Submit(data []byte) error {
	if len(data) == 0 {
		return errors.New("[Raft] submit: empty command")
	}
	conf := r.manager.Config
	ctx, cancel := context.WithTimeout(r.ctx, conf.SubmitDeadline)
	defer cancel()

	var (
		start     = time.Now()
		attempts  int
		lastErr   error
		nh        = r.manager.NodeHost
		clusterID = uint64(conf.ClusterID)
	)
	err := submitPolicy.Do(ctx, func(ctx context.Context) error {
		attempts++
		callCtx, callCancel := context.WithTimeout(ctx, conf.SubmitTimeout)
		defer callCancel()

		_, err := nh.SyncPropose(callCtx, nh.GetNoOPSession(clusterID), data)
		if err == nil {
			return nil
		}
		lastErr = err
		if unrecoverable(err) {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrSubmitUnrecoverable, err))
		}
		logger.Warnf("[Raft] submit attempt %d failed, elapsed=%s: %v", attempts, time.Since(start), err)
		return err
	})

	switch {
	case err == nil:
		logger.Debugf("[Raft] submit ok after %d attempt(s), cost=%s", attempts, time.Since(start))
		return nil
	case errors.Is(err, ErrSubmitUnrecoverable):
		return err
	case r.ctx.Err() != nil:
		return dragonboat.ErrClosed
	default:
		return fmt.Errorf("[Raft] submit gave up after %s (%d attempts): %w", time.Since(start), attempts, lastErr)
	}
}

func unrecoverable(err error) bool {
	return errors.Is(err, dragonboat.ErrInvalidSession) ||
		errors.Is(err, dragonboat.ErrClosed) ||
		errors.Is(err, dragonboat.ErrClusterNotFound) ||
		errors.Is(err, dragonboat.ErrClusterClosed) ||
		errors.Is(err, dragonboat.ErrPayloadTooBig)
}

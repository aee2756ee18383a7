package raft

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"fmt"
	sm "github.com/lni/dragonboat/v3/statemachine"
	"github.com/zeromicro/go-zero/core/threading"
	"io"
	"time"
)

// 以下实现 sm.IConcurrentStateMachine

func (r *Raft) Update(entries []sm.Entry) ([]sm.Entry, error) {
	r.readyOnce.Do(func() { threading.GoSafe(r.watchReady) })

	for i := range entries {
		e := &entries[i]
		if len(e.Cmd) > 0 {
			if err := r.listener.OnRaftDataUpdated(e.Cmd); err != nil {
				logger.Errorf("[Raft] apply entry %d failed: %v", e.Index, err)
				return nil, err
			}
		}
		e.Result = sm.Result{Value: e.Index}
		r.appliedIndex.Store(e.Index)
	}
	return entries, nil
}

// Lookup 返回最后应用的日志序号
func (r *Raft) Lookup(interface{}) (interface{}, error) {
	return r.appliedIndex.Load(), nil
}

func (r *Raft) PrepareSnapshot() (interface{}, error) {
	items, err := r.listener.OnPrepareSnapshot()
	if err != nil {
		return nil, fmt.Errorf("[Raft] prepare snapshot: %w", err)
	}
	return items, nil
}

func (r *Raft) SaveSnapshot(ctx interface{}, w io.Writer, _ sm.ISnapshotFileCollection, stopc <-chan struct{}) error {
	items, ok := ctx.([]Serializable)
	if !ok {
		return snapshotErrorf("save: unexpected snapshot context %T", ctx)
	}
	start := time.Now()
	n, err := writeSnapshot(w, items, stopc)
	if err != nil {
		return err
	}
	logger.Infof("[Raft] snapshot saved: %d records, cost %s", n, time.Since(start))
	return nil
}

func (r *Raft) RecoverFromSnapshot(reader io.Reader, _ []sm.SnapshotFile, stopc <-chan struct{}) error {
	start := time.Now()
	recovered, skipped, err := readSnapshot(reader, stopc, r.listener.OnRecoverFromSnapshot)
	if err != nil {
		return err
	}
	logger.Infof("[Raft] snapshot recovered: %d records, %d skipped, cost %s", recovered, skipped, time.Since(start))
	if err := r.listener.OnRecoverFromSnapshotDone(); err != nil {
		logger.Warnf("[Raft] finishing snapshot recovery: %v", err)
	}
	return nil
}

func (r *Raft) Close() error { return nil }

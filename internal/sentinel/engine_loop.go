package sentinel

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/types"
	"sync"
)

// candidateRunner 由 alert.Engine 实现
type candidateRunner interface {
	Run(ctx context.Context, in <-chan *types.CandidatePool)
}

// engineLoop 把 Orchestrator 的候选队列接到告警引擎，作为 ServiceGroup 的一员
// 暂停由上游 Orchestrator 控制，这里只负责生命周期
type engineLoop struct {
	runner candidateRunner
	in     <-chan *types.CandidatePool
	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup
}

func newEngineLoop(runner candidateRunner, in <-chan *types.CandidatePool) *engineLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &engineLoop{runner: runner, in: in, ctx: ctx, cancel: cancel}
}

func (l *engineLoop) Start() {
	l.done.Add(1)
	defer l.done.Done()
	logger.Infof("[EngineLoop] consuming candidates")
	l.runner.Run(l.ctx, l.in)
}

func (l *engineLoop) Stop() {
	l.cancel()
	l.done.Wait()
	logger.Infof("[EngineLoop] stopped")
}

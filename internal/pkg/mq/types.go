package mq

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"fmt"
	"os"
	"sync"
)

type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// lifecycle 消费者状态机，Start/Stop 可以交替多次调用（跟随 leader 切换）
type lifecycle struct {
	tag   string // 日志前缀，如 "[KafkaConsumer] topic"
	mu    sync.Mutex
	state ConsumerState
}

// transit 当前状态为 from 时切换到 to，否则返回 false
func (l *lifecycle) transit(from, to ConsumerState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return false
	}
	l.setLocked(to)
	return true
}

func (l *lifecycle) set(to ConsumerState) {
	l.mu.Lock()
	l.setLocked(to)
	l.mu.Unlock()
}

func (l *lifecycle) setLocked(to ConsumerState) {
	if l.state == to {
		return
	}
	logger.Infof("%s state changed: %s → %s", l.tag, l.state, to)
	l.state = to
}

func (l *lifecycle) State() ConsumerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func getClientID(service string) string {
	hostname, _ := os.Hostname()
	localIP, _ := utils.GetLocalIP()
	if localIP == "" {
		localIP = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", service, hostname, localIP)
}

package signals

import (
	"context"
	"dex-pool-sentinel/internal/pkg/dedup"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/mq"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"strings"
	"sync"
	"time"
)

const (
	handleTimeout = 10 * time.Second
	redeliveryTTL = 10 * time.Minute // RocketMQ 至少一次投递，窗口内同一 msgId 只处理一次
	redeliveryCap = 50000
)

var ErrInvalidSignal = errors.New("signals: invalid message")

// Engine 信号的落点，由 alert.Engine 实现
type Engine interface {
	ApplyRiskEvent(ctx context.Context, ev alert.RiskEvent) bool
	ApplyUpgradeSignal(ctx context.Context, sig alert.UpgradeSignal) (alert.UpgradeDecision, error)
}

//////////////////////////////////////////////////////////////////
// 升级信号（Kafka）

// UpgradeHandler 解码 Kafka 中的升级信号并交给引擎
// 格式错误的消息直接跳过并提交位点；持久化失败返回错误，由消费者按策略重试
type UpgradeHandler struct {
	engine Engine
}

func NewUpgradeHandler(engine Engine) *UpgradeHandler {
	return &UpgradeHandler{engine: engine}
}

func (h *UpgradeHandler) HandleKafkaMsg(msg *kafka.Message) error {
	sig, err := decodeUpgrade(msg.Value)
	if err != nil {
		logger.Warnf("[UpgradeSignal] skip message partition=%d offset=%v: %v",
			msg.TopicPartition.Partition, msg.TopicPartition.Offset, err)
		metrics.SignalsConsumed.WithLabelValues("kafka", "invalid").Inc()
		return nil
	}
	metrics.SignalsConsumed.WithLabelValues("kafka", "upgrade").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	d, err := h.engine.ApplyUpgradeSignal(ctx, sig)
	switch {
	case errors.Is(err, alert.ErrTierDisabled):
		logger.Debugf("[UpgradeSignal:%s] sniper tier disabled, ignore %s", sig.Chain, sig.Token)
		return nil
	case err != nil:
		return fmt.Errorf("apply upgrade signal for %s: %w", sig.Token, err)
	}
	if d.Upgrade {
		logger.Infof("[UpgradeSignal:%s] %s upgraded with score %d", sig.Chain, sig.Token, d.FinalScore)
	}
	return nil
}

func decodeUpgrade(data []byte) (alert.UpgradeSignal, error) {
	var sig alert.UpgradeSignal
	if len(data) == 0 {
		return sig, fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}
	if err := utils.SafeJsonUnmarshal(data, &sig); err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if sig.Chain == "" || sig.Token == "" {
		return sig, fmt.Errorf("%w: chain and token are required", ErrInvalidSignal)
	}
	if sig.PriorityScore < 0 || sig.SmartWalletScore < 0 {
		return sig, fmt.Errorf("%w: negative contribution", ErrInvalidSignal)
	}
	return sig, nil
}

//////////////////////////////////////////////////////////////////
// 风险事件（RocketMQ）

// RiskHandler 消费 LP 移除、开发者转账、MEV、假拉盘等事件
// 消息体为 JSON alert.RiskEvent；kind 为空时取消息 tag
type RiskHandler struct {
	engine Engine
	seen   *dedup.TTLSet
}

func NewRiskHandler(engine Engine) *RiskHandler {
	return &RiskHandler{engine: engine, seen: dedup.NewTTLSet(redeliveryTTL, redeliveryCap, nil)}
}

func (h *RiskHandler) HandleRocketMQMsg(ctx context.Context, msgs ...*primitive.MessageExt) error {
	for _, msg := range msgs {
		if msg.MsgId != "" && h.seen.Seen(msg.MsgId) {
			logger.Debugf("[RiskEvent] skip redelivered msgId=%s", msg.MsgId)
			continue
		}
		ev, err := decodeRisk(msg.Body, msg.GetTags())
		if err != nil {
			logger.Warnf("[RiskEvent] skip msgId=%s: %v", msg.MsgId, err)
			metrics.SignalsConsumed.WithLabelValues("rocketmq", "invalid").Inc()
			continue
		}
		metrics.SignalsConsumed.WithLabelValues("rocketmq", string(ev.Kind)).Inc()

		callCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		tracked := h.engine.ApplyRiskEvent(callCtx, ev)
		cancel()
		logger.Debugf("[RiskEvent:%s] %s %s applied, tracked=%v", ev.Chain, ev.Kind, ev.Token, tracked)
	}
	return nil
}

func decodeRisk(body []byte, tag string) (alert.RiskEvent, error) {
	var ev alert.RiskEvent
	if err := utils.SafeJsonUnmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if ev.Kind == "" {
		ev.Kind = alert.RiskEventKind(strings.ToUpper(strings.TrimSpace(tag)))
	}
	if ev.Chain == "" || ev.Token == "" {
		return ev, fmt.Errorf("%w: chain and token are required", ErrInvalidSignal)
	}
	switch ev.Kind {
	case alert.RiskLPRemoval, alert.RiskDevTransfer, alert.RiskMEV, alert.RiskFakePump, alert.RiskSmartMoney:
	case alert.RiskDevFlag:
		switch ev.Dev {
		case types.DevSafe, types.DevWarning, types.DevDump, types.DevUnknown:
		default:
			return ev, fmt.Errorf("%w: unknown dev flag %q", ErrInvalidSignal, ev.Dev)
		}
	default:
		return ev, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, ev.Kind)
	}
	return ev, nil
}

//////////////////////////////////////////////////////////////////
// Intake

type consumer interface {
	Start()
	Stop()
}

// Intake 管理两个信号消费者的生命周期
// 只有 leader 消费，Pause/Resume 跟随 raft 角色切换
type Intake struct {
	mu        sync.Mutex
	consumers []consumer
	running   bool
	paused    bool
}

func NewIntake(engine Engine, upgradeConf *mq.KafkaConsumerConf, riskConf *mq.RocketMQConsumerConf) *Intake {
	in := &Intake{}
	if upgradeConf != nil {
		in.consumers = append(in.consumers, mq.NewKafkaConsumer(upgradeConf, NewUpgradeHandler(engine)))
	}
	if riskConf != nil {
		in.consumers = append(in.consumers, mq.NewRocketMQConsumer(riskConf, NewRiskHandler(engine)))
	}
	return in
}

func (in *Intake) Enabled() bool {
	return len(in.consumers) > 0
}

func (in *Intake) Start() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = true
	if !in.paused {
		in.startAll()
	}
}

func (in *Intake) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = false
	in.stopAll()
}

func (in *Intake) Pause() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.paused {
		return
	}
	in.paused = true
	if in.running {
		in.stopAll()
	}
}

func (in *Intake) Resume() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.paused {
		return
	}
	in.paused = false
	if in.running {
		in.startAll()
	}
}

func (in *Intake) startAll() {
	for _, c := range in.consumers {
		c.Start()
	}
}

func (in *Intake) stopAll() {
	for _, c := range in.consumers {
		c.Stop()
	}
}

package mq

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/pkg/utils"
	"errors"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultReadTimeout = time.Second

// KafkaConsumerConf 单 topic 消费者配置，时间参数单位均为毫秒
type KafkaConsumerConf struct {
	Brokers               []string `json:"brokers" yaml:"brokers"`                                   // Kafka 集群 broker 地址列表
	Topic                 string   `json:"topic" yaml:"topic"`                                       // 订阅的 topic 名称
	GroupID               string   `json:"group_id" yaml:"group_id"`                                 // 消费者组 ID，同组实现高可用
	AutoOffsetReset       string   `json:"auto_offset_reset" yaml:"auto_offset_reset"`               // 无提交位点时从哪里开始，默认 latest
	SessionTimeoutMs      int      `json:"session_timeout_ms" yaml:"session_timeout_ms"`             // 会话超时时间（ms）
	HeartbeatIntervalMs   int      `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`       // 心跳间隔（ms）
	ReadTimeoutMs         int      `json:"read_timeout_ms" yaml:"read_timeout_ms"`                   // 单次拉取超时，也是 Stop 的最长等待
	ReconnectBackoffMs    int      `json:"reconnect_backoff_ms" yaml:"reconnect_backoff_ms"`         // 第一次重连延迟
	ReconnectBackoffMaxMs int      `json:"reconnect_backoff_max_ms" yaml:"reconnect_backoff_max_ms"` // 最大重连间隔
	HandleAttempts        int      `json:"handle_attempts" yaml:"handle_attempts"`                   // 处理失败的重试次数，默认 3，之后跳过该消息
}

// KafkaHandler 返回 nil 时提交位点；返回错误按重试策略重试，重试耗尽后跳过并提交
type KafkaHandler interface {
	HandleKafkaMsg(msg *kafka.Message) error
}

// kafkaClient kafka.Consumer 中用到的部分
type kafkaClient interface {
	SubscribeTopics(topics []string, cb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

type KafkaConsumer struct {
	Config  *KafkaConsumerConf
	handler KafkaHandler
	policy  retry.Policy
	life    lifecycle

	newClient func() (kafkaClient, error)

	mu     sync.Mutex // 保护 cancel / done
	cancel context.CancelFunc
	done   chan struct{}

	handled     atomic.Int64
	skipped     atomic.Int64
	lastIdleLog atomic.Int64
}

// NewKafkaConsumer 只保存配置，Start 时才连接；Stop 之后可以再次 Start
func NewKafkaConsumer(config *KafkaConsumerConf, handler KafkaHandler) *KafkaConsumer {
	offsetReset := config.AutoOffsetReset
	if offsetReset == "" {
		offsetReset = "latest"
	}
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(config.Brokers, ","),
		"group.id":           config.GroupID,
		"auto.offset.reset":  offsetReset,
		"enable.auto.commit": false, // 处理成功后逐条提交
		"client.id":          getClientID(config.GroupID),
	}
	for key, v := range map[string]int{
		"session.timeout.ms":       config.SessionTimeoutMs,
		"heartbeat.interval.ms":    config.HeartbeatIntervalMs,
		"reconnect.backoff.ms":     config.ReconnectBackoffMs,
		"reconnect.backoff.max.ms": config.ReconnectBackoffMaxMs,
	} {
		if v > 0 {
			_ = cm.SetKey(key, v)
		}
	}

	logger.Infof("[KafkaConsumer] New: brokers=%v, group=%s, topic=%s", config.Brokers, config.GroupID, config.Topic)
	return newKafkaConsumer(config, handler, func() (kafkaClient, error) {
		return kafka.NewConsumer(cm)
	})
}

func newKafkaConsumer(config *KafkaConsumerConf, handler KafkaHandler, newClient func() (kafkaClient, error)) *KafkaConsumer {
	policy := retry.Quick
	if config.HandleAttempts > 0 {
		policy.MaxAttempts = config.HandleAttempts
	}
	return &KafkaConsumer{
		Config:    config,
		handler:   handler,
		policy:    policy,
		life:      lifecycle{tag: "[KafkaConsumer] " + config.Topic},
		newClient: newClient,
	}
}

func (kc *KafkaConsumer) Start() {
	if !kc.life.transit(StateStopped, StateStarting) {
		logger.Warnf("[KafkaConsumer] %s start skipped, state=%s", kc.Config.Topic, kc.life.State())
		return
	}

	client, err := kc.newClient()
	if err != nil {
		logger.Errorf("[KafkaConsumer] %s create error: %v", kc.Config.Topic, err)
		kc.life.set(StateStopped)
		return
	}
	if err = client.SubscribeTopics([]string{kc.Config.Topic}, nil); err != nil {
		logger.Errorf("[KafkaConsumer] %s subscribe error: %v", kc.Config.Topic, err)
		kc.closeClient(client)
		kc.life.set(StateStopped)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	kc.mu.Lock()
	kc.cancel, kc.done = cancel, done
	kc.mu.Unlock()

	kc.life.set(StateRunning)
	go kc.runLoop(ctx, client, done)
}

// Stop 等待拉取循环退出并关闭连接，最长约一个 ReadTimeout
func (kc *KafkaConsumer) Stop() {
	if !kc.life.transit(StateRunning, StateStopping) {
		return
	}
	kc.mu.Lock()
	cancel, done := kc.cancel, kc.done
	kc.cancel, kc.done = nil, nil
	kc.mu.Unlock()

	cancel()
	<-done
	kc.life.set(StateStopped)
}

func (kc *KafkaConsumer) IsActive() bool {
	return kc.life.State() == StateRunning
}

// Stats 已处理与跳过的消息数
func (kc *KafkaConsumer) Stats() (handled, skipped int64) {
	return kc.handled.Load(), kc.skipped.Load()
}

func (kc *KafkaConsumer) runLoop(ctx context.Context, client kafkaClient, done chan struct{}) {
	defer close(done)
	defer kc.closeClient(client)

	timeout := time.Duration(kc.Config.ReadTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	for ctx.Err() == nil {
		msg, err := client.ReadMessage(timeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				if utils.ThrottleLog(&kc.lastIdleLog, time.Minute) {
					logger.Debugf("[KafkaConsumer] %s poll timeout, still waiting...", kc.Config.Topic)
				}
				continue
			}
			logger.Errorf("[KafkaConsumer] %s read error: %v", kc.Config.Topic, err)
			continue
		}
		if ctx.Err() != nil {
			// 未处理也未提交，重新选主后由新 leader 消费
			return
		}
		kc.process(ctx, client, msg)
	}
}

func (kc *KafkaConsumer) process(ctx context.Context, client kafkaClient, msg *kafka.Message) {
	tp := msg.TopicPartition
	err := kc.policy.Do(ctx, func(context.Context) error {
		return kc.safeHandle(msg)
	})
	switch {
	case err == nil:
		kc.handled.Add(1)
	case ctx.Err() != nil:
		return
	default:
		kc.skipped.Add(1)
		logger.Errorf("[KafkaConsumer] %s skip message after %d attempts: partition=%d offset=%v err=%v",
			kc.Config.Topic, kc.policy.MaxAttempts, tp.Partition, tp.Offset, err)
	}
	kc.commit(client, tp)
}

func (kc *KafkaConsumer) safeHandle(msg *kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[KafkaConsumer] %s handler panic: %v\n%s", kc.Config.Topic, r, debug.Stack())
			err = retry.Permanent(errors.New("handler panic"))
		}
	}()
	return kc.handler.HandleKafkaMsg(msg)
}

// commit 提交下一条的位点
func (kc *KafkaConsumer) commit(client kafkaClient, tp kafka.TopicPartition) {
	next := int64(tp.Offset) + 1
	if next <= 0 {
		logger.Errorf("[KafkaConsumer] %s invalid offset %d, skip commit", kc.Config.Topic, tp.Offset)
		return
	}
	_, err := client.CommitOffsets([]kafka.TopicPartition{{
		Topic:     &kc.Config.Topic,
		Partition: tp.Partition,
		Offset:    kafka.Offset(next),
	}})
	if err != nil {
		logger.Errorf("[KafkaConsumer] %s commit failed: partition=%d offset=%d err=%v", kc.Config.Topic, tp.Partition, next, err)
	}
}

func (kc *KafkaConsumer) closeClient(client kafkaClient) {
	if err := client.Close(); err != nil {
		logger.Errorf("[KafkaConsumer] %s close failed: %v", kc.Config.Topic, err)
		return
	}
	logger.Infof("[KafkaConsumer] %s consumer closed", kc.Config.Topic)
}

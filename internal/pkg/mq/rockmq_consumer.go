package mq

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"runtime/debug"
	"sync"
	"time"
)

type ConsumeFromWhereType string

const (
	ConsumeFromFirstOffset ConsumeFromWhereType = "first"
	ConsumeFromLastOffset  ConsumeFromWhereType = "last"
)

type RocketMQConsumerConf struct {
	Servers          []string             `json:"servers" yaml:"servers"`                       // NS 地址
	Group            string               `json:"group" yaml:"group"`                           // 消费者组
	Topic            string               `json:"topic" yaml:"topic"`                           // Topic
	ConsumeFromWhere ConsumeFromWhereType `json:"consume_from_where" yaml:"consume_from_where"` // 首次消费位置，默认 last
	Tag              string               `json:"tag" yaml:"tag"`                               // 消费消息的标签，多个用 || 分隔
	Orderly          bool                 `json:"orderly" yaml:"orderly"`                       // 单队列严格顺序
	MaxReconsume     int32                `json:"max_reconsume" yaml:"max_reconsume"`           // 重试上限，超过进入死信队列
}

// RocketMQHandler 返回 nil 则整批确认；返回错误整批稍后重投
type RocketMQHandler interface {
	HandleRocketMQMsg(ctx context.Context, msgs ...*primitive.MessageExt) error
}

type consumeFunc func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error)

type RocketMQConsumer struct {
	Config   *RocketMQConsumerConf
	options  []consumer.Option
	selector consumer.MessageSelector
	consume  consumeFunc
	life     lifecycle

	mu     sync.Mutex
	client rocketmq.PushConsumer
}

func init() {
	rlog.SetLogLevel("error")
}

// NewRocketMQConsumer 只保存配置，Start 时才连接 NameServer
func NewRocketMQConsumer(config *RocketMQConsumerConf, handler RocketMQHandler) *RocketMQConsumer {
	// 风险事件只关心最新的，默认从最新位点开始
	consumeFrom := consumer.ConsumeFromLastOffset
	if config.ConsumeFromWhere == ConsumeFromFirstOffset {
		consumeFrom = consumer.ConsumeFromFirstOffset
	}

	options := []consumer.Option{
		consumer.WithNameServer(config.Servers),
		consumer.WithGroupName(config.Group),
		consumer.WithConsumerModel(consumer.Clustering), // 同组只有一个实例消费
		consumer.WithConsumerOrder(config.Orderly),
		consumer.WithAutoCommit(true),
		consumer.WithConsumeFromWhere(consumeFrom),
		consumer.WithInstance(getClientID(config.Group)),
	}
	if config.MaxReconsume > 0 {
		options = append(options, consumer.WithMaxReconsumeTimes(config.MaxReconsume))
	}

	selector := consumer.MessageSelector{}
	if config.Tag != "" {
		selector = consumer.MessageSelector{Type: consumer.TAG, Expression: config.Tag}
	}

	return &RocketMQConsumer{
		Config:   config,
		options:  options,
		selector: selector,
		consume:  newConsumeFunc(config.Topic, handler),
		life:     lifecycle{tag: "[RocketMQConsumer] " + config.Topic},
	}
}

// newConsumeFunc 处理失败或 panic 时整批稍后重投
func newConsumeFunc(topic string, handler RocketMQHandler) consumeFunc {
	return func(ctx context.Context, msgs ...*primitive.MessageExt) (result consumer.ConsumeResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[RocketMQConsumer] %s handler panic: %v\n%s", topic, r, debug.Stack())
				result, err = consumer.ConsumeRetryLater, nil
			}
		}()
		if len(msgs) == 0 {
			return consumer.ConsumeSuccess, nil
		}

		start := time.Now()
		if err := handler.HandleRocketMQMsg(ctx, msgs...); err != nil {
			logger.Errorf("[RocketMQConsumer] %s batch of %d failed, first=%s: %v, will retry later",
				topic, len(msgs), msgs[0].MsgId, err)
			return consumer.ConsumeRetryLater, nil
		}
		logger.Debugf("[RocketMQConsumer] %s batch of %d handled, cost=%s", topic, len(msgs), time.Since(start))
		return consumer.ConsumeSuccess, nil
	}
}

func (rc *RocketMQConsumer) Start() {
	if !rc.life.transit(StateStopped, StateStarting) {
		logger.Warnf("[RocketMQConsumer] %s start skipped, state=%s", rc.Config.Topic, rc.life.State())
		return
	}

	c, err := rocketmq.NewPushConsumer(rc.options...)
	if err != nil {
		logger.Errorf("[RocketMQConsumer] %s failed to create consumer: %v", rc.Config.Topic, err)
		rc.life.set(StateStopped)
		return
	}
	if err = c.Subscribe(rc.Config.Topic, rc.selector, rc.consume); err != nil {
		logger.Errorf("[RocketMQConsumer] %s failed to subscribe: %v", rc.Config.Topic, err)
		rc.shutdown(c)
		rc.life.set(StateStopped)
		return
	}
	if err = c.Start(); err != nil {
		logger.Errorf("[RocketMQConsumer] %s start failed: %v", rc.Config.Topic, err)
		rc.shutdown(c)
		rc.life.set(StateStopped)
		return
	}

	rc.mu.Lock()
	rc.client = c
	rc.mu.Unlock()
	rc.life.set(StateRunning)
}

// Stop 异步关闭，SDK 的 Shutdown 可能阻塞数秒
func (rc *RocketMQConsumer) Stop() {
	if !rc.life.transit(StateRunning, StateStopping) {
		return
	}
	rc.mu.Lock()
	c := rc.client
	rc.client = nil
	rc.mu.Unlock()

	go rc.shutdown(c)
	rc.life.set(StateStopped)
}

func (rc *RocketMQConsumer) IsActive() bool {
	return rc.life.State() == StateRunning
}

func (rc *RocketMQConsumer) shutdown(c rocketmq.PushConsumer) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[RocketMQConsumer] %s panic during shutdown: %v\n%s", rc.Config.Topic, r, debug.Stack())
		}
	}()

	start := time.Now()
	if err := c.Shutdown(); err != nil {
		logger.Errorf("[RocketMQConsumer] %s shutdown failed: %v", rc.Config.Topic, err)
		return
	}
	logger.Infof("[RocketMQConsumer] %s shutdown completed, took %s", rc.Config.Topic, time.Since(start))
}

package mq

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"runtime/debug"
	"strings"
	"time"
)

// KafkaTopicConf 单个 topic 的生产配置
type KafkaTopicConf struct {
	Topic      string `json:"topic" yaml:"topic"`           // topic 名称
	Partitions int    `json:"partitions" yaml:"partitions"` // 分区数，>1 时按 key 哈希选择分区
}

// KafkaProducerConf Kafka 生产者配置，时间单位均为毫秒
type KafkaProducerConf struct {
	Brokers           []string         `json:"brokers" yaml:"brokers"`                       // broker 地址列表
	Topics            []KafkaTopicConf `json:"topics" yaml:"topics"`                         // 目标 topic
	Acks              string           `json:"acks" yaml:"acks"`                             // 默认 all
	LingerMs          int              `json:"linger_ms" yaml:"linger_ms"`                   // 批量等待时间
	BatchNumMessages  int              `json:"batch_num_messages" yaml:"batch_num_messages"` // 单批最大条数
	MessageTimeoutMs  int              `json:"message_timeout_ms" yaml:"message_timeout_ms"` // 单条投递超时
	CompressionType   string           `json:"compression_type" yaml:"compression_type"`     // none/gzip/snappy/lz4/zstd
	EnableIdempotence bool             `json:"enable_idempotence" yaml:"enable_idempotence"` // 幂等生产
}

// SendResult 单条消息的投递结果
// Completed 为 true 表示 librdkafka 已不再持有该消息，Value 可以回收
type SendResult struct {
	Msg       *kafka.Message
	Completed bool
	Success   bool
	Err       error
}

// KafkaProducer 对 kafka.Producer 的薄封装：同步批量发送 + 后台事件日志
type KafkaProducer struct {
	producer *kafka.Producer
	name     string
	done     chan struct{}
}

func NewKafkaProducer(config *KafkaProducerConf) (*KafkaProducer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}
	acks := config.Acks
	if acks == "" {
		acks = "all"
	}
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(config.Brokers, ","),
		"client.id":          getClientID("pool-sentinel-producer"),
		"acks":               acks,
		"enable.idempotence": config.EnableIdempotence,
	}
	if config.LingerMs > 0 {
		_ = cm.SetKey("linger.ms", config.LingerMs)
	}
	if config.BatchNumMessages > 0 {
		_ = cm.SetKey("batch.num.messages", config.BatchNumMessages)
	}
	if config.MessageTimeoutMs > 0 {
		_ = cm.SetKey("message.timeout.ms", config.MessageTimeoutMs)
	}
	if config.CompressionType != "" {
		_ = cm.SetKey("compression.type", config.CompressionType)
	}

	p, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer failed: %w", err)
	}

	names := make([]string, 0, len(config.Topics))
	for _, t := range config.Topics {
		names = append(names, t.Topic)
	}
	kp := &KafkaProducer{
		producer: p,
		name:     strings.Join(names, ","),
		done:     make(chan struct{}),
	}
	go kp.drainEvents()
	logger.Infof("[KafkaProducer] New: brokers=%v, topics=%s", config.Brokers, kp.name)
	return kp, nil
}

// drainEvents 消费非投递类事件（连接错误等），避免事件通道堆积
func (kp *KafkaProducer) drainEvents() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[KafkaProducer] %s event loop panic: %v\n%s", kp.name, r, debug.Stack())
		}
	}()
	for {
		select {
		case <-kp.done:
			return
		case ev, ok := <-kp.producer.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case kafka.Error:
				logger.Errorf("[KafkaProducer] %s error: %v", kp.name, e)
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					logger.Warnf("[KafkaProducer] %s late delivery failure: %v", kp.name, e.TopicPartition.Error)
				}
			}
		}
	}
}

// SendBatch 发送一批消息并等待投递结果，最长等待 timeout
func (kp *KafkaProducer) SendBatch(ctx context.Context, messages []*kafka.Message, timeout time.Duration) []SendResult {
	return SendKafkaMessagesBatch(ctx, kp.producer, messages, timeout)
}

// Close 先 flush 再关闭
func (kp *KafkaProducer) Close() {
	select {
	case <-kp.done:
		return
	default:
	}
	if remain := kp.producer.Flush(5000); remain > 0 {
		logger.Warnf("[KafkaProducer] %s closed with %d undelivered messages", kp.name, remain)
	}
	close(kp.done)
	kp.producer.Close()
	logger.Infof("[KafkaProducer] %s closed", kp.name)
}

type batchRef struct {
	index  int
	opaque interface{}
}

// SendKafkaMessagesBatch 同步批量发送
// 返回结果与 messages 一一对应；超时或 ctx 取消时未返回的消息 Completed=false
func SendKafkaMessagesBatch(ctx context.Context, producer *kafka.Producer, messages []*kafka.Message, timeout time.Duration) []SendResult {
	results := make([]SendResult, len(messages))
	if len(messages) == 0 {
		return results
	}

	deliveryChan := make(chan kafka.Event, len(messages))
	pending := 0
	for i, msg := range messages {
		results[i].Msg = msg
		orig := msg.Opaque
		msg.Opaque = batchRef{index: i, opaque: orig}
		if err := producer.Produce(msg, deliveryChan); err != nil {
			msg.Opaque = orig
			results[i].Completed = true
			results[i].Err = err
			continue
		}
		pending++
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for pending > 0 {
		select {
		case <-ctx.Done():
			restoreOpaque(messages)
			return results
		case <-timer.C:
			logger.Warnf("[KafkaProducer] batch timeout after %v, %d messages still pending", timeout, pending)
			restoreOpaque(messages)
			return results
		case ev := <-deliveryChan:
			m, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			ref, ok := m.Opaque.(batchRef)
			if !ok || ref.index < 0 || ref.index >= len(results) {
				continue
			}
			pending--
			r := &results[ref.index]
			r.Completed = true
			if m.TopicPartition.Error != nil {
				r.Err = m.TopicPartition.Error
			} else {
				r.Success = true
			}
		}
	}
	restoreOpaque(messages)
	return results
}

func restoreOpaque(messages []*kafka.Message) {
	for _, msg := range messages {
		if ref, ok := msg.Opaque.(batchRef); ok {
			msg.Opaque = ref.opaque
		}
	}
}

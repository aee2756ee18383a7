package pushworker

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/mq"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/orchestrator"
	"dex-pool-sentinel/internal/sentinel/types"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"google.golang.org/protobuf/types/known/structpb"
	"sort"
	"sync/atomic"
	"time"
)

const (
	singleBufSize     = 1024             // 单条消息 buffer 大小
	bufPoolPreAlloc   = 32               // BufPool 启动时预分配的 buffer 数量
	sendBatchSize     = 256              // 每次发送 Kafka 消息的条数上限
	inputChanSize     = 256              // inputChan 缓冲大小
	pendingLimit      = 4096             // 待发送任务上限，超过后暂停收集
	maxSendAttempts   = 3                // 单条消息最多发送次数
	kafkaBatchTimeout = 10 * time.Second // Kafka 批量发送超时时间
	retryInterval     = 500 * time.Millisecond

	RecoveredKind = "CHAIN_RECOVERED"
	headerType    = "type"
)

var (
	ErrPaused  = errors.New("pushworker: paused")
	ErrStopped = errors.New("pushworker: stopped")
)

// Format 消息编码
type Format string

const (
	FormatJSON  Format = "json"
	FormatProto Format = "proto" // google.protobuf.Struct
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatProto:
		return FormatProto, nil
	}
	return "", fmt.Errorf("unknown push format %q", s)
}

// Sender 批量发送抽象，生产环境为 mq.KafkaProducer
type Sender interface {
	SendBatch(ctx context.Context, messages []*kafka.Message, timeout time.Duration) []mq.SendResult
	Close()
}

type MsgID struct {
	Seq uint64
	Key string
}

type pushTask struct {
	id       MsgID
	kind     string
	value    any
	attempts int
}

// AlertPushWorker 把告警、撤销、升级与链停滞通知写入 Kafka
// 发送失败按批重试，超过 maxSendAttempts 丢弃；状态迁移不会因推送失败回滚
type AlertPushWorker struct {
	sender          Sender
	inputChan       chan *pushTask
	ctx             context.Context
	cancel          context.CancelFunc
	pending         map[uint64]*pushTask
	bufPool         *BufPool // 单线程 buffer 池
	isPaused        atomic.Bool
	topic           string
	partitions      int
	format          Format
	seq             atomic.Uint64
	now             func() time.Time
	lastSendLogTime atomic.Int64 // 阻塞日志限流时间（纳秒）
}

func NewAlertPushWorker(config *mq.KafkaProducerConf, format Format) (*AlertPushWorker, error) {
	if len(config.Topics) != 1 {
		return nil, fmt.Errorf("kafka config must have exactly 1 topic, got %d", len(config.Topics))
	}
	producer, err := mq.NewKafkaProducer(config)
	if err != nil {
		logger.Errorf("[AlertPushWorker] failed to create producer for topic %v: %v", config.Topics, err)
		return nil, err
	}
	return NewAlertPushWorkerWithSender(producer, config.Topics[0], format), nil
}

func NewAlertPushWorkerWithSender(sender Sender, topic mq.KafkaTopicConf, format Format) *AlertPushWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &AlertPushWorker{
		sender:     sender,
		inputChan:  make(chan *pushTask, inputChanSize),
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[uint64]*pushTask),
		bufPool:    NewBufPool(bufPoolPreAlloc, sendBatchSize, singleBufSize),
		topic:      topic.Topic,
		partitions: topic.Partitions,
		format:     format,
		now:        time.Now,
	}
	w.isPaused.Store(true)
	return w
}

// Start 启动处理循环，阻塞直到 Stop
func (w *AlertPushWorker) Start() {
	w.loop()
}

func (w *AlertPushWorker) Stop() {
	w.isPaused.Store(true)
	w.cancel()
	w.sender.Close()
}

func (w *AlertPushWorker) Resume() {
	w.isPaused.Store(false)
}

func (w *AlertPushWorker) Pause() {
	w.isPaused.Store(true)
}

// Dispatch 实现 alert.Dispatcher
func (w *AlertPushWorker) Dispatch(ctx context.Context, p *alert.Payload) error {
	return w.add(ctx, string(p.Kind), types.TokenKey(p.Chain, p.Token), p)
}

// OnChainStalled 实现 orchestrator.StallNotifier
func (w *AlertPushWorker) OnChainStalled(n orchestrator.StallNotice) {
	if err := w.add(w.ctx, n.Kind, string(n.Chain), n); err != nil {
		logger.Warnf("[AlertPushWorker] enqueue stall notice for %s failed: %v", n.Chain, err)
	}
}

func (w *AlertPushWorker) OnChainRecovered(chain types.ChainID) {
	n := orchestrator.StallNotice{Kind: RecoveredKind, Chain: chain, At: w.now()}
	if err := w.add(w.ctx, n.Kind, string(chain), n); err != nil {
		logger.Warnf("[AlertPushWorker] enqueue recovery notice for %s failed: %v", chain, err)
	}
}

// add 队列满时等待，不丢弃，限频打印
func (w *AlertPushWorker) add(ctx context.Context, kind, key string, value any) error {
	task := &pushTask{
		id:    MsgID{Seq: w.seq.Add(1), Key: key},
		kind:  kind,
		value: value,
	}
	for {
		if w.isPaused.Load() {
			return ErrPaused
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.ctx.Done():
			return ErrStopped

		case w.inputChan <- task:
			return nil

		default:
			if utils.ThrottleLog(&w.lastSendLogTime, 3*time.Second) {
				logger.Warnf("[AlertPushWorker] inputChan full (%d), waiting to add %s", len(w.inputChan), kind)
			}
			time.Sleep(30 * time.Millisecond)
		}
	}
}

func (w *AlertPushWorker) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case task := <-w.inputChan:
			batch := make([]*pushTask, 0, min(len(w.inputChan)+1, sendBatchSize))
			batch = append(batch, task)
			batch = w.collectBatch(batch)

			for len(batch) > 0 || len(w.pending) > 0 {
				if w.isPaused.Load() {
					if n := len(w.pending) + len(batch); n > 0 {
						logger.Warnf("[AlertPushWorker] paused, dropping %d pending messages", n)
					}
					clear(w.pending)
					break
				}

				failed := w.handleBatch(batch)
				batch = batch[:0]

				if failed > 0 {
					select {
					case <-w.ctx.Done():
						return
					case <-time.After(retryInterval):
					}
				}
				if len(w.pending) <= pendingLimit {
					batch = w.collectBatch(batch)
				}
			}
		}
	}
}

// collectBatch 非阻塞收集 inputChan 中的任务
func (w *AlertPushWorker) collectBatch(batch []*pushTask) []*pushTask {
	for {
		select {
		case task := <-w.inputChan:
			batch = append(batch, task)
		default:
			return batch
		}
	}
}

// handleBatch 按序号发送最早的 sendBatchSize 条，返回本轮失败条数
func (w *AlertPushWorker) handleBatch(batch []*pushTask) int {
	for _, t := range batch {
		w.pending[t.id.Seq] = t
	}

	seqs := make([]uint64, 0, len(w.pending))
	for seq := range w.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	n := min(len(seqs), sendBatchSize)
	toSend := make([]*kafka.Message, 0, n)
	for _, seq := range seqs[:n] {
		t := w.pending[seq]
		msg, err := w.toKafkaMessage(t)
		if err != nil {
			logger.Warnf("[AlertPushWorker] encode %s for %s failed: %v", t.kind, t.id.Key, err)
			metrics.PushResults.WithLabelValues(w.topic, "encode_error").Inc()
			delete(w.pending, seq)
			continue
		}
		toSend = append(toSend, msg)
	}
	return w.dispatchBatch(toSend)
}

func (w *AlertPushWorker) dispatchBatch(messages []*kafka.Message) int {
	if len(messages) == 0 || w.isPaused.Load() {
		return 0
	}

	results := w.sender.SendBatch(w.ctx, messages, kafkaBatchTimeout)
	failed := 0
	for _, item := range results {
		if item.Completed {
			w.bufPool.Put(item.Msg.Value)
		}
		id, ok := item.Msg.Opaque.(MsgID)
		if !ok {
			continue
		}
		task, exists := w.pending[id.Seq]
		if !exists {
			continue
		}
		if item.Success {
			delete(w.pending, id.Seq)
			metrics.PushResults.WithLabelValues(w.topic, "ok").Inc()
			continue
		}

		failed++
		task.attempts++
		if task.attempts >= maxSendAttempts {
			delete(w.pending, id.Seq)
			metrics.PushResults.WithLabelValues(w.topic, "dropped").Inc()
			logger.Errorf("[AlertPushWorker] drop %s for %s after %d attempts: %v", task.kind, id.Key, task.attempts, item.Err)
			continue
		}
		metrics.PushResults.WithLabelValues(w.topic, "retry").Inc()
	}
	return failed
}

func (w *AlertPushWorker) toKafkaMessage(t *pushTask) (*kafka.Message, error) {
	data, err := w.encode(t.value)
	if err != nil {
		return nil, err
	}

	partition := kafka.PartitionAny
	if w.partitions > 1 {
		partition = utils.PartitionOf(t.id.Key, w.partitions)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &w.topic,
			Partition: partition,
		},
		Key:     []byte(t.id.Key),
		Value:   data,
		Headers: []kafka.Header{{Key: headerType, Value: []byte(t.kind)}},
		Opaque:  t.id,
	}, nil
}

func (w *AlertPushWorker) encode(v any) ([]byte, error) {
	if w.format != FormatProto {
		return utils.SafeJsonMarshal(v)
	}
	st, err := toStruct(v)
	if err != nil {
		return nil, err
	}
	return utils.SafeProtoMarshal(w.bufPool.Get(), st)
}

// toStruct 经 JSON 转为 structpb.Struct，字段名与 JSON 编码一致
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := utils.SafeJsonMarshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

package mq

import (
	"dex-pool-sentinel/internal/pkg/retry"
	"errors"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type fakeKafka struct {
	mu        sync.Mutex
	msgs      chan *kafka.Message
	committed []int64
	closed    int
}

func newFakeKafka() *fakeKafka {
	return &fakeKafka{msgs: make(chan *kafka.Message, 16)}
}

func (f *fakeKafka) SubscribeTopics([]string, kafka.RebalanceCb) error { return nil }

func (f *fakeKafka) ReadMessage(timeout time.Duration) (*kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-time.After(timeout):
		return nil, kafka.NewError(kafka.ErrTimedOut, "timeout", false)
	}
}

func (f *fakeKafka) CommitOffsets(tps []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tp := range tps {
		f.committed = append(f.committed, int64(tp.Offset))
	}
	return tps, nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeKafka) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type flakyHandler struct {
	mu    sync.Mutex
	fails map[string]int // value -> 剩余失败次数
	seen  []string
}

func (h *flakyHandler) HandleKafkaMsg(msg *kafka.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := string(msg.Value)
	if v == "panic" {
		panic("boom")
	}
	if h.fails[v] > 0 {
		h.fails[v]--
		return errors.New("store unavailable")
	}
	h.seen = append(h.seen, v)
	return nil
}

func msgAt(offset int64, v string) *kafka.Message {
	topic := "signals"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Value:          []byte(v),
	}
}

func TestKafkaConsumerRetryAndCommit(t *testing.T) {
	fk := newFakeKafka()
	h := &flakyHandler{fails: map[string]int{"a": 1, "b": 10}}
	kc := newKafkaConsumer(&KafkaConsumerConf{Topic: "signals", ReadTimeoutMs: 20}, h, func() (kafkaClient, error) { return fk, nil })
	kc.policy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	kc.Start()
	require.True(t, kc.IsActive())
	fk.msgs <- msgAt(10, "a")
	fk.msgs <- msgAt(11, "b")
	fk.msgs <- msgAt(12, "panic")
	fk.msgs <- msgAt(13, "c")

	require.Eventually(t, func() bool { return len(fk.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{11, 12, 13, 14}, fk.commits(), "commits the next offset, skipped messages included")

	handled, skipped := kc.Stats()
	assert.EqualValues(t, 2, handled)
	assert.EqualValues(t, 2, skipped)
	assert.Equal(t, []string{"a", "c"}, h.seen)

	kc.Stop()
	assert.False(t, kc.IsActive())
	assert.Equal(t, 1, fk.closed)
}

func TestKafkaConsumerRestart(t *testing.T) {
	var created int
	clients := []*fakeKafka{newFakeKafka(), newFakeKafka()}
	kc := newKafkaConsumer(&KafkaConsumerConf{Topic: "signals", ReadTimeoutMs: 10}, &flakyHandler{}, func() (kafkaClient, error) {
		c := clients[created]
		created++
		return c, nil
	})

	kc.Start()
	kc.Start()
	assert.Equal(t, 1, created, "second Start is a no-op while running")
	kc.Stop()
	kc.Stop()

	kc.Start()
	assert.Equal(t, 2, created)
	kc.Stop()
	assert.Equal(t, 1, clients[0].closed)
	assert.Equal(t, 1, clients[1].closed)
}

func TestKafkaConsumerCreateError(t *testing.T) {
	kc := newKafkaConsumer(&KafkaConsumerConf{Topic: "signals"}, &flakyHandler{}, func() (kafkaClient, error) {
		return nil, errors.New("no brokers")
	})
	kc.Start()
	assert.False(t, kc.IsActive())
	assert.Equal(t, StateStopped, kc.life.State())
}

package mq

import (
	"context"
	"errors"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/stretchr/testify/assert"
	"testing"
)

type rocketHandlerFunc func(ctx context.Context, msgs ...*primitive.MessageExt) error

func (f rocketHandlerFunc) HandleRocketMQMsg(ctx context.Context, msgs ...*primitive.MessageExt) error {
	return f(ctx, msgs...)
}

func TestConsumeFunc(t *testing.T) {
	var got int
	var fail error
	fn := newConsumeFunc("risk", rocketHandlerFunc(func(_ context.Context, msgs ...*primitive.MessageExt) error {
		got += len(msgs)
		return fail
	}))
	msg := &primitive.MessageExt{MsgId: "m1"}

	res, err := fn(context.Background(), msg, msg)
	assert.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, res)
	assert.Equal(t, 2, got)

	fail = errors.New("engine busy")
	res, _ = fn(context.Background(), msg)
	assert.Equal(t, consumer.ConsumeRetryLater, res)

	res, _ = fn(context.Background())
	assert.Equal(t, consumer.ConsumeSuccess, res, "empty batch is acknowledged")

	panicky := newConsumeFunc("risk", rocketHandlerFunc(func(context.Context, ...*primitive.MessageExt) error {
		panic("boom")
	}))
	res, err = panicky(context.Background(), msg)
	assert.NoError(t, err)
	assert.Equal(t, consumer.ConsumeRetryLater, res)
}

func TestRocketMQStopWithoutStart(t *testing.T) {
	rc := NewRocketMQConsumer(&RocketMQConsumerConf{Topic: "risk", Group: "g"}, rocketHandlerFunc(func(context.Context, ...*primitive.MessageExt) error { return nil }))
	rc.Stop()
	assert.False(t, rc.IsActive())
	assert.Equal(t, StateStopped, rc.life.State())
}

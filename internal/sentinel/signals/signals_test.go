package signals

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type fakeEngine struct {
	risks    []alert.RiskEvent
	upgrades []alert.UpgradeSignal
	err      error
}

func (f *fakeEngine) ApplyRiskEvent(ctx context.Context, ev alert.RiskEvent) bool {
	f.risks = append(f.risks, ev)
	return true
}

func (f *fakeEngine) ApplyUpgradeSignal(ctx context.Context, sig alert.UpgradeSignal) (alert.UpgradeDecision, error) {
	f.upgrades = append(f.upgrades, sig)
	return alert.UpgradeDecision{}, f.err
}

func kafkaMsg(v string) *kafka.Message {
	return &kafka.Message{Value: []byte(v)}
}

func TestUpgradeHandler(t *testing.T) {
	eng := &fakeEngine{}
	h := NewUpgradeHandler(eng)

	require.NoError(t, h.HandleKafkaMsg(kafkaMsg(`{"chain":"base","token":"0xabc","priority_score":20,"priority_reasons":["priority fee"]}`)))
	require.Len(t, eng.upgrades, 1)
	assert.Equal(t, 20, eng.upgrades[0].PriorityScore)
	assert.Equal(t, []string{"priority fee"}, eng.upgrades[0].PriorityReasons)

	// 坏消息跳过但提交
	require.NoError(t, h.HandleKafkaMsg(kafkaMsg(`not json`)))
	require.NoError(t, h.HandleKafkaMsg(kafkaMsg(`{"chain":"base"}`)))
	require.NoError(t, h.HandleKafkaMsg(kafkaMsg(`{"chain":"base","token":"0x1","priority_score":-5}`)))
	assert.Len(t, eng.upgrades, 1)

	eng.err = alert.ErrTierDisabled
	assert.NoError(t, h.HandleKafkaMsg(kafkaMsg(`{"chain":"base","token":"0x2"}`)))

	eng.err = errors.New("disk full")
	assert.Error(t, h.HandleKafkaMsg(kafkaMsg(`{"chain":"base","token":"0x3"}`)))
}

func TestDecodeRisk(t *testing.T) {
	ev, err := decodeRisk([]byte(`{"chain":"solana","token":"Mint111"}`), "lp_removal")
	require.NoError(t, err)
	assert.Equal(t, alert.RiskLPRemoval, ev.Kind)

	ev, err = decodeRisk([]byte(`{"chain":"base","token":"0x1","kind":"DEV_FLAG","dev":"DUMP"}`), "")
	require.NoError(t, err)
	assert.Equal(t, types.DevDump, ev.Dev)

	_, err = decodeRisk([]byte(`{"chain":"base","token":"0x1","kind":"DEV_FLAG","dev":"EVIL"}`), "")
	assert.ErrorIs(t, err, ErrInvalidSignal)
	_, err = decodeRisk([]byte(`{"chain":"base","token":"0x1","kind":"RUG"}`), "")
	assert.ErrorIs(t, err, ErrInvalidSignal)
	_, err = decodeRisk([]byte(`{"token":"0x1","kind":"MEV_DETECTED"}`), "")
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestRiskHandlerSkipsInvalid(t *testing.T) {
	eng := &fakeEngine{}
	h := NewRiskHandler(eng)

	good := &primitive.MessageExt{Message: primitive.Message{Body: []byte(`{"chain":"base","token":"0x1","kind":"MEV_DETECTED"}`)}}
	bad := &primitive.MessageExt{Message: primitive.Message{Body: []byte(`{}`)}}
	tagged := &primitive.MessageExt{Message: primitive.Message{Body: []byte(`{"chain":"base","token":"0x2"}`)}}
	tagged.WithTag("FAKE_PUMP")

	require.NoError(t, h.HandleRocketMQMsg(context.Background(), good, bad, tagged))
	require.Len(t, eng.risks, 2)
	assert.Equal(t, alert.RiskMEV, eng.risks[0].Kind)
	assert.Equal(t, alert.RiskFakePump, eng.risks[1].Kind)
}

func TestRiskHandlerDropsRedelivery(t *testing.T) {
	eng := &fakeEngine{}
	h := NewRiskHandler(eng)

	msg := &primitive.MessageExt{MsgId: "A1", Message: primitive.Message{Body: []byte(`{"chain":"base","token":"0x1","kind":"LP_REMOVAL"}`)}}
	require.NoError(t, h.HandleRocketMQMsg(context.Background(), msg))
	require.NoError(t, h.HandleRocketMQMsg(context.Background(), msg))
	assert.Len(t, eng.risks, 1)
}

type fakeConsumer struct{ starts, stops int }

func (c *fakeConsumer) Start() { c.starts++ }
func (c *fakeConsumer) Stop()  { c.stops++ }

func TestIntakeFollowsLeadership(t *testing.T) {
	c := &fakeConsumer{}
	in := &Intake{consumers: []consumer{c}}
	assert.True(t, in.Enabled())

	in.Pause()
	in.Start()
	assert.Zero(t, c.starts, "paused intake does not consume")

	in.Resume()
	assert.Equal(t, 1, c.starts)
	in.Resume()
	assert.Equal(t, 1, c.starts)

	in.Pause()
	assert.Equal(t, 1, c.stops)
	in.Stop()
	assert.Equal(t, 2, c.stops)

	assert.False(t, NewIntake(&fakeEngine{}, nil, nil).Enabled())
}

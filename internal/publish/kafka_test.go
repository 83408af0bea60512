package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
)

type memWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedEvent(t *testing.T) {
	w := &memWriter{}
	p := newKafkaPublisher(w)
	run := model.RunSummary{
		RunID:   "4f7c",
		Job:     "alerts",
		Started: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
		Outcome: "success",
		Rows:    3,
	}
	require.NoError(t, p.Publish(context.Background(), run))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alerts", string(w.msgs[0].Key))

	got, err := Decode(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, 3, got.Rows)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishErrorIsExternal(t *testing.T) {
	p := newKafkaPublisher(&memWriter{err: errors.New("no leader")})
	err := p.Publish(context.Background(), model.RunSummary{Job: "devices"})
	require.Error(t, err)
	assert.True(t, model.IsExternalServiceError(err))
}

func TestDecodeRejectsBadEvents(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"run_id":"x"}`))
	assert.Error(t, err)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{Topic: "runs"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	p, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "runs"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(context.Context, model.RunSummary) error {
	c.n++
	return c.err
}

func TestMultiPublishesToAll(t *testing.T) {
	a := &countingPublisher{err: errors.New("a down")}
	b := &countingPublisher{}
	err := Multi{a, nil, b}.Publish(context.Background(), model.RunSummary{Job: "alerts"})
	require.Error(t, err)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

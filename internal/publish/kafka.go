// Package publish announces finished job runs on a Kafka topic so that read
// replicas can drop stale cached responses.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per run, keyed by job name.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w), nil
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 10 * time.Second}
}

func (p *KafkaPublisher) Publish(ctx context.Context, run model.RunSummary) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(run.Job),
		Value: payload,
		Time:  run.Started,
	}); err != nil {
		return model.NewExternalServiceError("kafka", "publish run", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Decode reads a run event written by Publish.
func Decode(value []byte) (model.RunSummary, error) {
	var run model.RunSummary
	if err := json.Unmarshal(value, &run); err != nil {
		return model.RunSummary{}, err
	}
	if run.Job == "" {
		return model.RunSummary{}, errors.New("run event without job")
	}
	return run, nil
}

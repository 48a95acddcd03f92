package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// MessageWriter is the subset of *kafkago.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes valuation events keyed by ticker
type Producer struct {
	writer MessageWriter
	topic  string
	log    *logger.Logger
}

// NewProducer creates a producer for cfg.Topic
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.Configuration("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, apperrors.Configuration("kafka: topic is required")
	}
	return NewProducerWithWriter(cfg.newWriter(), cfg.Topic), nil
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		log:    logger.GetLogger("kafka.producer"),
	}
}

// Name identifies the producer as a valuation sink
func (p *Producer) Name() string {
	return "kafka"
}

// PublishValuation writes one valuation event
func (p *Producer) PublishValuation(ctx context.Context, v models.Valuation) error {
	value, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeInternal), "failed to marshal valuation")
	}

	msg := kafkago.Message{
		Key:   []byte(v.Contract.Ticker),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "model", Value: []byte(v.Quote.Model)},
		},
		Time: v.CreatedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorf("Failed to produce valuation %s to %s: %v", v.ID, p.topic, err)
		return apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeNetwork), fmt.Sprintf("failed to produce to %s", p.topic))
	}

	p.log.Debugf("Valuation %s for %s produced to %s", v.ID, v.Contract.Ticker, p.topic)
	return nil
}

// Close flushes pending messages and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// MessageReader is the subset of *kafkago.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// RequestHandler processes one decoded valuation request
type RequestHandler func(ctx context.Context, req models.ValuationRequest) error

// Consumer reads valuation jobs from the request topic
type Consumer struct {
	reader  MessageReader
	handler RequestHandler
	log     *logger.Logger
}

// NewConsumer creates a consumer group member for cfg.RequestTopic
func NewConsumer(cfg Config, handler RequestHandler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.RequestTopic == "" || cfg.GroupID == "" {
		return nil, apperrors.Configuration("kafka: brokers, request topic and group id are required")
	}
	return NewConsumerWithReader(cfg.newReader(), handler), nil
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(r MessageReader, handler RequestHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		log:     logger.GetLogger("kafka.consumer"),
	}
}

// Run consumes until ctx is done. Every message is committed after handling,
// including malformed and failed ones.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.log.Info("Consumer stopped")
				return nil
			}
			return apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeNetwork), "kafka: fetch failed")
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorf("Failed to commit offset %d on partition %d: %v", msg.Offset, msg.Partition, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	var req models.ValuationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.log.Warnf("Dropping malformed request at offset %d: %v", msg.Offset, err)
		return
	}
	if err := c.handler(ctx, req); err != nil {
		c.log.Warnf("Valuation request for %s failed: %v", req.Ticker, err)
	}
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

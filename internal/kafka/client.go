package kafka

import (
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config holds the broker settings shared by producers and consumers
type Config struct {
	Brokers      []string
	ClientID     string
	Topic        string        // Valuation events
	RequestTopic string        // Valuation jobs, empty disables the consumer
	GroupID      string        // Consumer group for the request topic
	WriteTimeout time.Duration // Per-batch write timeout
	BatchTimeout time.Duration // Max time a message waits for a batch
}

// DefaultConfig returns a configuration for a local broker
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "option-valuation",
		Topic:        "option.valuations",
		RequestTopic: "option.valuation.requests",
		GroupID:      "option-valuation",
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func (c Config) newWriter() *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           c.WriteTimeout,
		BatchTimeout:           c.BatchTimeout,
		Transport:              &kafkago.Transport{ClientID: c.ClientID},
	}
}

func (c Config) newReader() *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.Brokers,
		GroupID:  c.GroupID,
		Topic:    c.RequestTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
}

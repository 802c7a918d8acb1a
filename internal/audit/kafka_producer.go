package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducerConfig configures the governance event producer.
type KafkaProducerConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives the canonical audit envelopes.
	Topic string

	// MaxAttempts caps produce retries on transient errors. Defaults to 3.
	MaxAttempts int

	// WriteTimeout is the per-attempt write deadline. Defaults to 10s.
	WriteTimeout time.Duration
}

// KafkaProducer wraps a kafka-go Writer with bounded retries. Messages are
// keyed by proposal ID so the executor observes per-proposal ordering.
type KafkaProducer struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaProducer(cfg KafkaProducerConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		// Hash balancer keeps all messages for one key on one partition.
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaProducer{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// Produce writes one message and returns its produced-at timestamp. Retries
// with capped exponential backoff; the last error is returned when all
// attempts fail.
func (p *KafkaProducer) Produce(ctx context.Context, key, value []byte) (time.Time, error) {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   key,
			Value: value,
			Time:  time.Now().UTC(),
		}
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return msg.Time, nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return time.Time{}, fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

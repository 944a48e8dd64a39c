package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// ErrSkip tells the consumer to commit a message without retrying it, for
// payloads that can never be processed.
var ErrSkip = errors.New("skip message")

// MessageHandler is invoked for every fetched message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group and dispatches each
// message to a MessageHandler. A message is committed once the handler
// returns nil or ErrSkip. Any other error redelivers the same message with
// backoff; later messages are not fetched until it succeeds, since a commit
// of a later offset would also commit the failed one.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	backoff resilience.RetryConfig
	logger  *slog.Logger

	handled atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, handler, consumerBackoff(), topic)
}

// consumerBackoff spaces out redeliveries and failed fetches.
func consumerBackoff() resilience.RetryConfig {
	return resilience.RetryConfig{
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.1,
	}
}

func newConsumer(reader messageReader, handler MessageHandler, backoff resilience.RetryConfig, topic string) *Consumer {
	return &Consumer{
		reader:  reader,
		handler: handler,
		backoff: backoff,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consuming")
	defer func() {
		c.reader.Close()
		c.logger.Info("consumer stopped",
			"handled", c.handled.Load(),
			"skipped", c.skipped.Load(),
			"failed", c.failed.Load(),
		)
	}()
	fetchFailures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fetchFailures++
			delay := resilience.Backoff(fetchFailures, c.backoff)
			c.logger.Error("fetch failed",
				"error", err,
				"consecutive_failures", fetchFailures,
				"next_delay", delay,
			)
			if resilience.Wait(ctx, delay) != nil {
				return nil
			}
			continue
		}
		fetchFailures = 0
		if !c.deliver(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", append(position(msg), "error", err)...)
		}
	}
}

// deliver dispatches msg until the handler accepts or skips it. It returns
// false if ctx is done first, in which case msg must not be committed.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		if c.dispatch(ctx, msg) {
			return true
		}
		delay := resilience.Backoff(attempt, c.backoff)
		c.logger.Warn("redelivering message", append(position(msg), "attempt", attempt, "next_delay", delay)...)
		if resilience.Wait(ctx, delay) != nil {
			return false
		}
	}
}

// dispatch runs the handler and reports whether msg should be committed.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) bool {
	err := c.handler(ctx, msg.Key, msg.Value)
	switch {
	case err == nil:
		c.handled.Add(1)
		return true
	case errors.Is(err, ErrSkip):
		c.skipped.Add(1)
		c.logger.Warn("message skipped", append(position(msg), "error", err)...)
		return true
	default:
		c.failed.Add(1)
		c.logger.Error("handler failed", append(position(msg), "error", err)...)
		return false
	}
}

func position(msg kafka.Message) []any {
	return []any{"partition", msg.Partition, "offset", msg.Offset}
}

// DecodeJSON unmarshals a message value into T. Decode failures wrap ErrSkip.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding message: %v", ErrSkip, err)
	}
	return result, nil
}

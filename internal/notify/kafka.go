package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
)

// Kafka header keys set on every queued email.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

// KafkaConfig describes the email topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender queues rendered emails for the mailer process.
type KafkaSender struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaSender builds a KafkaSender writing to cfg.Topic.
func NewKafkaSender(cfg KafkaConfig, log *logger.Logger) (*KafkaSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error("kafka writer", "error", fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaSender{writer: writer, now: time.Now}, nil
}

// Send publishes email keyed by recipient, so one recipient's mail stays ordered.
func (s *KafkaSender) Send(ctx context.Context, email Email) error {
	value, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(email.To),
		Value: value,
		Time:  s.now(),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(uuid.NewString())},
			{Key: HeaderEventType, Value: []byte("email." + string(email.Kind))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish email: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// Consumer drains the email topic into a Sender.
type Consumer struct {
	reader      messageReader
	sender      Sender
	log         *logger.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer builds a Consumer in cfg.GroupID.
func NewConsumer(cfg KafkaConfig, sender Sender, log *logger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group ID cannot be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
		Logger:         kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error("kafka reader", "error", fmt.Sprintf(msg, args...))
		}),
	})
	return newConsumer(reader, sender, log), nil
}

func newConsumer(reader messageReader, sender Sender, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:      reader,
		sender:      sender,
		log:         log,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

// Run consumes until ctx is cancelled. A message that cannot be delivered
// after maxAttempts is logged and committed so it does not block the partition.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("fetch email message", "error", err)
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("commit email message", "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	eventID := headerValue(msg, HeaderEventID)

	var email Email
	if err := json.Unmarshal(msg.Value, &email); err != nil {
		c.log.Error("decode email message", "event_id", eventID, "offset", msg.Offset, "error", err)
		return
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.sender.Send(ctx, email); err == nil {
			c.log.Debug("email delivered", "event_id", eventID, "kind", email.Kind, "session_id", email.SessionID)
			return
		}
		c.log.Warn("email delivery failed",
			"event_id", eventID,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err,
		)
		if attempt < c.maxAttempts && !sleep(ctx, c.backoff) {
			return
		}
	}
	c.log.Error("email dropped", "event_id", eventID, "kind", email.Kind, "session_id", email.SessionID, "user_id", email.UserID, "error", err)
}

// Close stops the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

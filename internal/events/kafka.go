package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka publisher and listener.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// GroupID is used by the listener only.
	GroupID string
	// WriteTimeout bounds one publish. Default 5s.
	WriteTimeout time.Duration
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes usage events as JSON, keyed by search ID so that all
// events of one search land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, logger zerolog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer:  w,
		timeout: timeout,
		logger:  logger.With().Str("component", "usage_publisher").Logger(),
	}
}

// Publish writes event. It ignores cancellation of ctx so that events for
// requests whose client went away are still delivered.
func (p *KafkaPublisher) Publish(ctx context.Context, event UsageEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid usage event: %w", err)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.SearchID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(event.Operation)},
			{Key: "content-type", Value: []byte(usageEventContentType)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("operation", event.Operation).
			Msg("failed to publish usage event")
		return fmt.Errorf("publish usage event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// messageReader is the subset of *kafka.Reader the listener uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler receives decoded usage events.
type Handler func(ctx context.Context, event UsageEvent) error

// Listener consumes usage events from Kafka. The searchctl events command
// uses it to tail the topic.
type Listener struct {
	reader  messageReader
	handler Handler
	logger  zerolog.Logger
}

// NewListener creates a Listener reading cfg.Topic as consumer group
// cfg.GroupID.
func NewListener(cfg KafkaConfig, handler Handler, logger zerolog.Logger) (*Listener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, handler, logger), nil
}

func newListener(reader messageReader, handler Handler, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("component", "usage_listener").Logger(),
	}
}

// Run reads until ctx is cancelled. Undecodable messages and handler errors
// are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting usage event listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("usage event listener stopped")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from kafka")
			continue
		}

		var event UsageEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.logger.Error().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to decode usage event")
			continue
		}

		if err := l.handler(ctx, event); err != nil {
			l.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("usage event handler failed")
		}
	}
}

// Close closes the reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}

package messaging

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/telemetry"
)

const tracerName = "github.com/davidleathers/betting-risk-engine/internal/infrastructure/messaging"

// Handler receives decoded events. *ingest.Service implements it.
type Handler interface {
	OnLoginEvent(ctx context.Context, e *events.LoginEvent) error
	OnBetPlaced(ctx context.Context, e *events.BetPlacedEvent) error
	OnTransaction(ctx context.Context, e *events.TransactionEvent) error
	OnProfileOrIdentityUpdate(ctx context.Context, e *events.ProfileUpdateEvent) error
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Parker takes messages the handler rejected.
type Parker interface {
	Park(ctx context.Context, msg kafka.Message, reason error) error
}

// Topics returns one inbound topic per event kind.
func Topics(prefix string) []string {
	kinds := events.Kinds()
	topics := make([]string, len(kinds))
	for i, k := range kinds {
		topics[i] = prefix + string(k)
	}
	return topics
}

// NewReader builds a consumer-group reader over every inbound topic.
func NewReader(cfg *config.KafkaConfig, logger *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: Topics(cfg.TopicPrefix),
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
}

// Consumer feeds Kafka messages to a Handler. Offsets are committed after the
// handler returns, so delivery is at least once.
type Consumer struct {
	reader  MessageReader
	handler Handler
	parker  Parker
	logger  *zap.Logger
	tracer  trace.Tracer
	backoff time.Duration
}

// NewConsumer builds a consumer. parker may be nil, in which case rejected
// messages are logged and skipped.
func NewConsumer(reader MessageReader, handler Handler, parker Parker, logger *zap.Logger) (*Consumer, error) {
	if reader == nil {
		return nil, errors.NewValidationError("INVALID_READER", "message reader cannot be nil")
	}
	if handler == nil {
		return nil, errors.NewValidationError("INVALID_HANDLER", "handler cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		parker:  parker,
		logger:  logger.Named("consumer"),
		tracer:  otel.Tracer(tracerName),
		backoff: time.Second,
	}, nil
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || goerrors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx, span := c.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	ev, err := Decode(msg.Value)
	if err == nil {
		err = c.dispatch(ctx, ev)
	}
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "message rejected")

	telemetry.WithTrace(ctx, c.logger).Warn("rejected message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))

	if c.parker == nil {
		return
	}
	if perr := c.parker.Park(ctx, msg, err); perr != nil {
		c.logger.Error("failed to park message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(perr))
	}
}

func (c *Consumer) dispatch(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.LoginEvent:
		return c.handler.OnLoginEvent(ctx, e)
	case *events.BetPlacedEvent:
		return c.handler.OnBetPlaced(ctx, e)
	case *events.TransactionEvent:
		return c.handler.OnTransaction(ctx, e)
	case *events.ProfileUpdateEvent:
		return c.handler.OnProfileOrIdentityUpdate(ctx, e)
	default:
		return errors.NewValidationError("UNSUPPORTED_EVENT_KIND", "unsupported event kind "+string(ev.Kind()))
	}
}

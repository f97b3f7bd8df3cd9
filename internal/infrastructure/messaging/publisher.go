package messaging

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/service/triage"
)

// AlertPublisher writes the full alert document on every change.
type AlertPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

var _ triage.AlertPublisher = (*AlertPublisher)(nil)

func NewAlertPublisher(writer MessageWriter, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{writer: writer, logger: logger.Named("alert_publisher")}
}

func (p *AlertPublisher) Publish(ctx context.Context, a *alert.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return errors.NewInternalError("failed to serialize alert").WithCause(err)
	}

	msg := kafka.Message{
		Key:   []byte(a.UserID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(a.ID.String())},
			{Key: "alert_type", Value: []byte(a.Type)},
			{Key: "status", Value: []byte(a.Status)},
			{Key: "version", Value: []byte(strconv.FormatInt(a.Version, 10))},
		},
		Time: a.UpdatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.NewExternalError("kafka", "failed to publish alert").WithCause(err)
	}

	p.logger.Debug("alert published",
		zap.String("alert_id", a.ID.String()),
		zap.String("status", string(a.Status)),
		zap.Int64("version", a.Version))
	return nil
}

func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

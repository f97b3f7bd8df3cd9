package messaging

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

// DeadLetter parks messages that cannot be decoded, with the reason and origin
// in headers, so the consumer can commit past them.
type DeadLetter struct {
	writer MessageWriter
	now    func() time.Time
}

func NewDeadLetter(writer MessageWriter) *DeadLetter {
	return &DeadLetter{writer: writer, now: time.Now}
}

func (d *DeadLetter) Park(ctx context.Context, msg kafka.Message, reason error) error {
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "dlq_reason", Value: []byte(reason.Error())},
			kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "dlq_source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: "dlq_source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		),
		Time: d.now().UTC(),
	}
	if err := d.writer.WriteMessages(ctx, out); err != nil {
		return errors.NewExternalError("kafka", "failed to park message").WithCause(err)
	}
	return nil
}

func (d *DeadLetter) Close() error {
	return d.writer.Close()
}

package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
)

// MessageWriter is the subset of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous writer for topic. Messages are keyed by user
// so that one user's changes land on one partition in order.
func NewWriter(cfg *config.KafkaConfig, topic string) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	if cfg.MaxBytes > 0 {
		w.BatchBytes = int64(cfg.MaxBytes)
	}
	w.Compression = compression(cfg.Compression)
	return w
}

func compression(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

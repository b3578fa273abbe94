package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/meter/internal/config"
)

const (
	defaultKafkaBatchTimeout = time.Second
	defaultKafkaMaxAttempts  = 3
)

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes task envelopes as JSON, keyed by encounter id so that one
// encounter stays on one partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a Kafka sink.
func NewKafka(cfg config.KafkaSinkConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchTimeout:     config.Duration(cfg.BatchTimeout, defaultKafkaBatchTimeout),
		MaxAttempts:      defaultKafkaMaxAttempts,
		CompressionCodec: codec,
	})

	slog.Info("kafka persist sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
	)
	return &Kafka{writer: writer, topic: cfg.Topic}, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(ctx context.Context, batch []Envelope) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, env := range batch {
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("persist: encode %s: %w", env.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(env.EncounterID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(env.Kind)},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("persist: write to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

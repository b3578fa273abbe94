package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/meter/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
//	{
//	  "version":    "v1",
//	  "target":     "desk-01",
//	  "command":    "reset",
//	  "timestamp":  "2025-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { ... }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // node name or "*" for broadcast
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// KafkaConsumer consumes commands from a topic and dispatches them to a Handler.
type KafkaConsumer struct {
	cfg     config.ControlKafkaConfig
	target  string
	reader  *kafka.Reader
	handler *Handler
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewKafkaConsumer creates a consumer from the control.kafka section. target
// is the local node name matched against a command's target.
func NewKafkaConsumer(cfg config.ControlKafkaConfig, target string, handler *Handler) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if cfg.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(cfg.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", cfg.CommandTTL, err)
		}
	}
	if cfg.Target != "" {
		target = cfg.Target
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})

	return &KafkaConsumer{
		cfg:     cfg,
		target:  target,
		reader:  reader,
		handler: handler,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "kafka_control"),
	}, nil
}

// Start consumes until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("kafka command consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"target", c.target,
		"ttl", c.ttl,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("kafka command consumer stopped", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg.Value); err != nil {
			c.logger.Error("command failed",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", "error", err)
		}
	}
}

// processMessage decodes one envelope, filters it and runs the command.
func (c *KafkaConsumer) processMessage(ctx context.Context, value []byte) error {
	var kc KafkaCommand
	if err := json.Unmarshal(value, &kc); err != nil {
		return fmt.Errorf("parse kafka command: %w", err)
	}

	if kc.Target != "*" && kc.Target != "" && kc.Target != c.target {
		c.logger.Debug("skipping command for another node", "target", kc.Target, "request_id", kc.RequestID)
		return nil
	}

	if !kc.Timestamp.IsZero() {
		if age := c.now().Sub(kc.Timestamp); age > c.ttl {
			c.logger.Warn("skipping stale command",
				"command", kc.Command,
				"request_id", kc.RequestID,
				"age", age,
				"ttl", c.ttl,
			)
			return nil
		}
	}

	resp := c.handler.Handle(ctx, Command{
		Method: kc.Command,
		Params: kc.Payload,
		ID:     kc.RequestID,
	})
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", kc.Command, resp.Error.Message)
	}

	c.logger.Info("kafka command executed", "command", kc.Command, "request_id", kc.RequestID)
	return nil
}

// Stop closes the reader. Safe to call more than once.
func (c *KafkaConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	return nil
}

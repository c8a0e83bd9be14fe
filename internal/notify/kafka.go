package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/config"
)

const defaultWriteTimeout = 10 * time.Second

// CloudEvent is the envelope published for every notification.
type CloudEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"datacontenttype"`
	Data        json.RawMessage `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer       messageWriter
	source       string
	writeTimeout time.Duration
	log          *zap.Logger
}

func NewKafkaNotifier(cfg config.KafkaConfig, source string, log *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaNotifier(writer, source, cfg.WriteTimeout, log), nil
}

func newKafkaNotifier(writer messageWriter, source string, timeout time.Duration, log *zap.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &KafkaNotifier{
		writer:       writer,
		source:       source,
		writeTimeout: timeout,
		log:          log.Named("notify_kafka"),
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	event := CloudEvent{
		ID:          uuid.NewString(),
		Source:      n.source,
		SpecVersion: "1.0",
		Type:        string(msg.Kind),
		Time:        time.Now().UTC(),
		Subject:     msg.Subject,
		ContentType: "application/json",
		Data:        data,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.writeTimeout)
	defer cancel()

	err = n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(msg.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(event.ID)},
			{Key: "ce_source", Value: []byte(event.Source)},
			{Key: "ce_specversion", Value: []byte(event.SpecVersion)},
			{Key: "ce_type", Value: []byte(event.Type)},
			{Key: "ce_time", Value: []byte(event.Time.Format(time.RFC3339))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Kind, err)
	}

	n.log.Debug("notification published",
		zap.String("kind", string(msg.Kind)),
		zap.String("subject", msg.Subject),
		zap.String("event_id", event.ID))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

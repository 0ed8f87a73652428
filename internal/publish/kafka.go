package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"controlroom/internal/export"
	"controlroom/internal/snapshot"
)

const (
	DefaultViewTopic = "control-room.view"
	DefaultDLQTopic  = "control-room.rejected"

	viewKey = "consolidated-view"
)

type KafkaConfig struct {
	Brokers   []string
	ViewTopic string
	DLQTopic  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes the JSON view export to the view topic and every
// rejection to the dead-letter topic keyed by its source key.
type KafkaPublisher struct {
	view messageWriter
	dlq  messageWriter
}

// Rejection is the dead-letter message body.
type Rejection struct {
	PassID     string             `json:"passId"`
	Source     snapshot.SourceRef `json:"sourceRef"`
	Reason     string             `json:"reason"`
	RawExcerpt string             `json:"rawExcerpt,omitempty"`
	RejectedAt time.Time          `json:"rejectedAt"`
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	viewTopic := firstNonEmpty(cfg.ViewTopic, DefaultViewTopic)
	dlqTopic := firstNonEmpty(cfg.DLQTopic, DefaultDLQTopic)
	return &KafkaPublisher{
		view: newWriter(brokers, viewTopic),
		dlq:  newWriter(brokers, dlqTopic),
	}, nil
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) PublishView(ctx context.Context, view *snapshot.ConsolidatedView) error {
	if view == nil {
		return nil
	}
	body, err := export.JSON(view)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(viewKey),
		Value: body,
		Time:  view.GeneratedAt,
		Headers: []kafka.Header{
			{Key: "pass-id", Value: []byte(view.PassID)},
			{Key: "overall", Value: []byte(view.Overall())},
		},
	}
	if err := p.view.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish view: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) PublishRejections(ctx context.Context, passID string, rejected []snapshot.SchemaError) error {
	if len(rejected) == 0 {
		return nil
	}
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(rejected))
	for _, r := range rejected {
		body, err := json.Marshal(Rejection{
			PassID:     passID,
			Source:     r.Ref,
			Reason:     r.Reason,
			RawExcerpt: r.RawExcerpt,
			RejectedAt: now,
		})
		if err != nil {
			return fmt.Errorf("kafka: marshal rejection: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r.Ref.Key), Value: body, Time: now})
	}
	if err := p.dlq.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish rejections: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.view.Close(), p.dlq.Close())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"adgenius/generator"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message published for every persisted draft.
type Event struct {
	Target       string    `json:"target"`
	Domain       string    `json:"domain"`
	Approved     bool      `json:"approved"`
	Headlines    []string  `json:"headlines"`
	Descriptions []string  `json:"descriptions"`
	CreatedAt    time.Time `json:"created_at"`
}

// KafkaSink publishes drafts as JSON events keyed by domain.
type KafkaSink struct {
	topic  string
	writer messageWriter
	now    func() time.Time
	logger *zap.Logger
}

func NewKafkaSink(broker, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	logger = logger.With(zap.String("component", "kafka_sink"))
	logger.Info("kafka producer initialized", zap.String("broker", broker), zap.String("topic", topic))
	return &KafkaSink{topic: topic, writer: w, now: time.Now, logger: logger}
}

func (s *KafkaSink) Persist(ctx context.Context, draft generator.Draft, label Label) (string, error) {
	domain := Domain(label.Target)
	now := s.now()
	ev := Event{
		Target:       label.Target,
		Domain:       domain,
		Approved:     label.Approved,
		Headlines:    draft.Headlines,
		Descriptions: draft.Descriptions,
		CreatedAt:    now,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	// 以域名为 key，同一网站的结果落在同一分区。
	msg := kafka.Message{Key: []byte(domain), Value: value, Time: now}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	s.logger.Info("produced draft event", zap.String("domain", domain), zap.Bool("approved", label.Approved))
	return fmt.Sprintf("kafka://%s/%s", s.topic, domain), nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

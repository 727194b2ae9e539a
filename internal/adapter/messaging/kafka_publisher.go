package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a writer for the sale events topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultSaleCreatedTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaPublisher(writer messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// PublishSaleCreated keys messages by sale ID so events for one sale keep order.
func (p *KafkaPublisher) PublishSaleCreated(ctx context.Context, sale *domain.Sale) error {
	body, err := json.Marshal(NewSaleCreatedEvent(sale))
	if err != nil {
		return fmt.Errorf("marshal sale created event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sale.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(SaleCreatedEventType)},
		},
		Time: sale.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("produce sale created event: %w", err)
	}
	p.logger.Debug("produced sale created event", zap.String("sale_id", sale.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

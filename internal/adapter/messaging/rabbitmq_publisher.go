package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
}

// DialRabbitMQ connects with retry and declares the sales topic exchange.
func DialRabbitMQ(url, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		retryTime := time.Duration(i*i)*time.Second + time.Second
		logger.Warn("failed to connect to rabbitmq, retrying", zap.Duration("retry_in", retryTime), zap.Error(err))
		time.Sleep(retryTime)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := NewRabbitMQPublisher(channel, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewRabbitMQPublisher(channel amqpChannel, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = SalesExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQPublisher{channel: channel, exchange: exchange, logger: logger}, nil
}

func (p *RabbitMQPublisher) PublishSaleCreated(ctx context.Context, sale *domain.Sale) error {
	body, err := json.Marshal(NewSaleCreatedEvent(sale))
	if err != nil {
		return fmt.Errorf("marshal sale created event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, SaleCreatedRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    sale.ID,
		Type:         SaleCreatedEventType,
		Timestamp:    sale.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", SaleCreatedRoutingKey, err)
	}
	p.logger.Debug("published sale created event", zap.String("sale_id", sale.ID), zap.String("exchange", p.exchange))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

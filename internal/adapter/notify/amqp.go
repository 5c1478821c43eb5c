package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// Publisher is the part of *amqp.Channel the channel publishes through.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type message struct {
	AttemptID   string `json:"attempt_id"`
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`
	Type        string `json:"type"`
	Recipient   string `json:"recipient"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// AMQPChannel hands notifications to the mail relay through a durable
// topic exchange. Routing keys are "notification.<type>".
type AMQPChannel struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	c := NewAMQPChannel(ch, exchange, logger)
	c.conn, c.ch = conn, ch
	return c, nil
}

func NewAMQPChannel(publisher Publisher, exchange string, logger *slog.Logger) *AMQPChannel {
	return &AMQPChannel{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger.With(slog.String("component", "amqp_channel")),
	}
}

func (c *AMQPChannel) Name() string { return "amqp" }

func (c *AMQPChannel) Deliver(ctx context.Context, n domain.Notification, attemptID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := json.Marshal(message{
		AttemptID:   attemptID,
		OrderID:     n.OrderID,
		OrderNumber: n.OrderNumber,
		Type:        string(n.Type),
		Recipient:   n.Recipient,
		Subject:     n.Subject,
		Body:        n.Body,
	})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}

	routingKey := "notification." + string(n.Type)
	err = c.publisher.Publish(
		c.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    attemptID,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"order_id":          n.OrderID,
				"notification_type": string(n.Type),
			},
		},
	)
	if err != nil {
		return "", &domain.ExternalError{Collaborator: "amqp", Retryable: isRetryable(err), Err: err}
	}

	c.logger.Debug("notification published",
		slog.String("routing_key", routingKey),
		slog.String("attempt_id", attemptID),
	)
	return attemptID, nil
}

// Close releases the broker connection opened by DialAMQP.
func (c *AMQPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
		c.ch = nil
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}

func isRetryable(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover
	}
	return true
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arena-registration/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PaymentOutcomeMessage is published for every cart that reaches paid
type PaymentOutcomeMessage struct {
	CartID        string                  `json:"cartId"`
	UserID        string                  `json:"userId"`
	State         models.TransactionState `json:"state"`
	Total         int                     `json:"total"`
	Beneficiaries []string                `json:"beneficiaries"`
	TransactionID *string                 `json:"transactionId,omitempty"`
	PaidAt        *time.Time              `json:"paidAt,omitempty"`
}

func newPaymentOutcomeMessage(cart *models.Cart) PaymentOutcomeMessage {
	return PaymentOutcomeMessage{
		CartID:        cart.ID,
		UserID:        cart.UserID,
		State:         cart.State,
		Total:         cart.Total(),
		Beneficiaries: cart.Beneficiaries(),
		TransactionID: cart.TransactionID,
		PaidAt:        cart.PaidAt,
	}
}

// LogNotifier only logs payment outcomes; used when no broker is configured
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyPaymentOutcome(_ context.Context, cart *models.Cart) error {
	n.logger.Info("payment outcome", "cart_id", cart.ID, "user_id", cart.UserID, "state", cart.State, "total", cart.Total())
	return nil
}

// AMQPNotifier publishes payment outcomes to a topic exchange. The email and
// ticket workers consume from it.
type AMQPNotifier struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewAMQPNotifier connects to the broker and declares the exchange
func NewAMQPNotifier(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
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
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// RoutingKey returns the routing key used for a cart state
func RoutingKey(state models.TransactionState) string {
	return "cart." + string(state)
}

func (n *AMQPNotifier) NotifyPaymentOutcome(ctx context.Context, cart *models.Cart) error {
	body, err := json.Marshal(newPaymentOutcomeMessage(cart))
	if err != nil {
		return fmt.Errorf("failed to encode payment outcome: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx,
		n.exchange,             // exchange
		RoutingKey(cart.State), // routing key
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    cart.ID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish payment outcome for cart %s: %w", cart.ID, err)
	}

	n.logger.Debug("payment outcome published", "cart_id", cart.ID, "exchange", n.exchange)
	return nil
}

// Close closes the channel and the connection
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.ch.Close(); err != nil && err != amqp.ErrClosed {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}

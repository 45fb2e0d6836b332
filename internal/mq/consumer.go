package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultTriggerQueue is the queue whose messages request an immediate sync run
const DefaultTriggerQueue = "irrigation.sync.trigger"

// ErrSkipped tells the consumer a trigger was dropped on purpose; the message is acked
var ErrSkipped = errors.New("trigger skipped")

// Trigger is the optional body of a trigger message. An empty body is a valid trigger.
type Trigger struct {
	Source      string    `json:"source"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// TriggerHandler runs a sync for a trigger message
type TriggerHandler func(ctx context.Context, trigger Trigger) error

// Consumer handles trigger consumption from RabbitMQ
type Consumer struct {
	channel       *amqp.Channel
	queue         string
	dlqQueue      string
	prefetchCount int
	logger        *zap.Logger
	handler       TriggerHandler
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Queue         string
	DLQQueue      string
	Exchange      string
	RoutingKey    string
	PrefetchCount int
	Logger        *zap.Logger
	Handler       TriggerHandler
}

// NewConsumer creates a new RabbitMQ trigger consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Set QoS (prefetch)
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopicExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Try to declare with DLX, if fails due to precondition, try without DLX
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		cfg.Logger.Warn("failed to declare trigger queue with DLX, trying without DLX", zap.Error(err))
		// a failed declare closes the channel
		ch, err = cfg.Connection.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to reopen channel: %w", err)
		}
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{
		channel:       ch,
		queue:         cfg.Queue,
		dlqQueue:      cfg.DLQQueue,
		prefetchCount: cfg.PrefetchCount,
		logger:        cfg.Logger,
		handler:       cfg.Handler,
	}, nil
}

// Start starts consuming trigger messages
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("trigger consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				handleDelivery(ctx, c.handler, msg, c.logger)
			}
		}
	}()

	return nil
}

// DecodeTrigger parses a trigger body; empty bodies yield a zero Trigger
func DecodeTrigger(body []byte) (Trigger, error) {
	var trigger Trigger
	if len(body) == 0 {
		return trigger, nil
	}
	if err := json.Unmarshal(body, &trigger); err != nil {
		return trigger, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	return trigger, nil
}

func handleDelivery(ctx context.Context, handler TriggerHandler, msg amqp.Delivery, logger *zap.Logger) {
	logger.Info("received sync trigger",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
	)

	trigger, err := DecodeTrigger(msg.Body)
	if err == nil {
		if trigger.Source == "" {
			trigger.Source = "amqp"
		}
		err = handler(ctx, trigger)
	}

	if err != nil && !errors.Is(err, ErrSkipped) {
		logger.Error("failed to process trigger",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)

		// NACK with requeue=false sends to DLQ
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("failed to ACK message", zap.Error(ackErr))
		return
	}
	if err != nil {
		logger.Info("trigger skipped and acknowledged", zap.String("reason", err.Error()))
		return
	}
	logger.Info("trigger processed and acknowledged", zap.String("source", trigger.Source))
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"go.uber.org/zap"
)

// DefaultCommandRoutingKey is used for command decisions when none is configured
const DefaultCommandRoutingKey = "irrigation.command.decided"

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	channel    amqpPublisher
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, routingKey, logger), nil
}

func newPublisher(ch amqpPublisher, exchange, routingKey string, logger *zap.Logger) *Publisher {
	if routingKey == "" {
		routingKey = DefaultCommandRoutingKey
	}
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// CommandDecidedEvent represents the event published after the automation decided a command
type CommandDecidedEvent struct {
	SystemID        int64   `json:"system_id"`
	SystemName      string  `json:"system_name"`
	Command         string  `json:"command"`
	PreviousCommand string  `json:"previous_command"`
	Changed         bool    `json:"changed"`
	SoilMoisture    float64 `json:"soil_moisture"`
	Threshold       float64 `json:"threshold"`
	ReadingAt       string  `json:"reading_timestamp"`
	DecidedAt       string  `json:"decided_at"`
	Reason          string  `json:"reason,omitempty"`
}

// NewCommandDecidedEvent builds the event for a decision
func NewCommandDecidedEvent(system db.System, d automation.Decision) CommandDecidedEvent {
	event := CommandDecidedEvent{
		SystemID:        system.ID,
		SystemName:      system.Name,
		Command:         string(d.Command),
		PreviousCommand: string(d.Previous),
		Changed:         d.Changed(),
		SoilMoisture:    d.Moisture,
		Threshold:       d.Threshold,
		ReadingAt:       d.ReadingAt.UTC().Format(time.RFC3339),
		DecidedAt:       d.DecidedAt.UTC().Format(time.RFC3339),
	}
	if d.Event != nil {
		event.Reason = d.Event.Reason
	}
	return event
}

// Notify publishes the decision of a system
func (p *Publisher) Notify(ctx context.Context, system db.System, d automation.Decision) error {
	return p.PublishCommandDecided(ctx, NewCommandDecidedEvent(system, d))
}

// PublishCommandDecided publishes a command decision event
func (p *Publisher) PublishCommandDecided(ctx context.Context, event CommandDecidedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published command event",
		zap.String("routing_key", p.routingKey),
		zap.Int64("system_id", event.SystemID),
		zap.String("command", event.Command),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

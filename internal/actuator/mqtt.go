package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"go.uber.org/zap"
)

// DefaultTopicTemplate is the command topic; {system_id} is replaced per system
const DefaultTopicTemplate = "irrigation/{system_id}/command"

const (
	qos            = 1
	publishTimeout = 5 * time.Second
	connectRetries = 5
)

// Config holds the MQTT broker settings
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	ClientID      string
	TopicTemplate string
}

// Publisher is the subset of the paho client used to push commands
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the retained payload read by the field controller
type Message struct {
	SystemID  int64   `json:"system_id"`
	Command   string  `json:"command"`
	Moisture  float64 `json:"soil_moisture"`
	Threshold float64 `json:"threshold"`
	DecidedAt string  `json:"decided_at"`
}

// Notifier pushes every decided command to the system's retained topic
type Notifier struct {
	client   Publisher
	template string
	logger   *zap.Logger
}

// NewNotifier creates a notifier over an already connected client
func NewNotifier(client Publisher, template string, logger *zap.Logger) *Notifier {
	if template == "" {
		template = DefaultTopicTemplate
	}
	return &Notifier{client: client, template: template, logger: logger}
}

// Topic returns the command topic of a system
func (n *Notifier) Topic(systemID int64) string {
	return strings.ReplaceAll(n.template, "{system_id}", strconv.FormatInt(systemID, 10))
}

// Notify publishes the command as a retained QoS 1 message
func (n *Notifier) Notify(ctx context.Context, system db.System, d automation.Decision) error {
	payload, err := json.Marshal(Message{
		SystemID:  system.ID,
		Command:   string(d.Command),
		Moisture:  d.Moisture,
		Threshold: d.Threshold,
		DecidedAt: d.DecidedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := n.Topic(system.ID)
	token := n.client.Publish(topic, qos, true, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.logger.Debug("command pushed to actuator",
		zap.String("topic", topic),
		zap.String("command", string(d.Command)),
	)
	return nil
}

// Connect dials the broker with exponential backoff and disconnects when ctx ends
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (mqtt.Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to mqtt broker", zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish mqtt connection after retries: %w", err)
	}

	logger.Info("connected to mqtt broker", zap.String("broker", addr))

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		logger.Info("mqtt connection closed")
	}()

	return client, nil
}

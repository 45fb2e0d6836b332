package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	Timezone    string
	Database    DatabaseConfig
	Sync        SyncConfig
	Feed        FeedConfig
	ET          ETConfig
	Automation  AutomationConfig
	RabbitMQ    RabbitMQConfig
	MQTT        MQTTConfig
	Influx      InfluxConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string
	URL    string
}

// SyncConfig holds scheduler settings
type SyncConfig struct {
	Interval   time.Duration
	RunOnStart bool
}

// FeedConfig holds telemetry feed client settings
type FeedConfig struct {
	BaseURL            string
	Results            int
	Timeout            time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

// ETConfig holds evapotranspiration settings
type ETConfig struct {
	Strategy string
}

// AutomationConfig holds decision engine settings
type AutomationConfig struct {
	TriggerParameter string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	WorkerExchange    string
	CommandRoutingKey string
	TriggerExchange   string
	TriggerQueue      string
	TriggerRoutingKey string
	TriggerDLQ        string
	PrefetchCount     int
}

// MQTTConfig holds the actuator broker settings
type MQTTConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	ClientID      string
	TopicTemplate string
}

// InfluxConfig holds the time series mirror settings
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "irrigation-sync-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Timezone:    getEnv("TIMEZONE", "America/Sao_Paulo"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Sync: SyncConfig{
			Interval:   getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute),
			RunOnStart: getEnvAsBool("SYNC_RUN_ON_START", true),
		},
		Feed: FeedConfig{
			BaseURL:            getEnv("FEED_BASE_URL", "https://api.thingspeak.com"),
			Results:            getEnvAsInt("FEED_RESULTS", 100),
			Timeout:            getEnvAsDuration("FEED_TIMEOUT", 30*time.Second),
			BreakerFailures:    getEnvAsInt("FEED_BREAKER_FAILURES", 3),
			BreakerOpenTimeout: getEnvAsDuration("FEED_BREAKER_OPEN_TIMEOUT", 15*time.Minute),
		},
		ET: ETConfig{
			Strategy: getEnv("ET_STRATEGY", "monthly-radiation"),
		},
		Automation: AutomationConfig{
			TriggerParameter: getEnv("AUTOMATION_TRIGGER_PARAM", "umidade_minima_gatilho"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			WorkerExchange:    getEnv("RABBITMQ_WORKER_EXCHANGE", "irrigation.worker.events.exchange"),
			CommandRoutingKey: getEnv("RABBITMQ_COMMAND_ROUTING_KEY", "irrigation.command.decided"),
			TriggerExchange:   getEnv("RABBITMQ_TRIGGER_EXCHANGE", "irrigation.sync.exchange"),
			TriggerQueue:      getEnv("RABBITMQ_TRIGGER_QUEUE", "irrigation.sync.trigger"),
			TriggerRoutingKey: getEnv("RABBITMQ_TRIGGER_ROUTING_KEY", "irrigation.sync.run"),
			TriggerDLQ:        getEnv("RABBITMQ_TRIGGER_DLQ", "irrigation.sync.trigger.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
		MQTT: MQTTConfig{
			Host:          getEnv("MQTT_HOST", ""),
			Port:          getEnvAsInt("MQTT_PORT", 1883),
			User:          getEnv("MQTT_USER", ""),
			Password:      getEnv("MQTT_PASSWORD", ""),
			ClientID:      getEnv("MQTT_CLIENT_ID", "irrigation-sync-worker"),
			TopicTemplate: getEnv("MQTT_TOPIC_TEMPLATE", "irrigation/{system_id}/command"),
		},
		Influx: InfluxConfig{
			URL:    getEnv("INFLUX_URL", ""),
			Token:  getEnv("INFLUX_TOKEN", ""),
			Org:    getEnv("INFLUX_ORG", ""),
			Bucket: getEnv("INFLUX_BUCKET", ""),
		},
	}

	// Validate required fields
	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER %q is not supported (postgres, sqlite, memory)", cfg.Database.Driver)
	}
	if cfg.Sync.Interval <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL must be positive, got %s", cfg.Sync.Interval)
	}

	return cfg, nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package events publishes validation run outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
)

// Event types.
const (
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"
)

const (
	defaultTopic        = "ilr.validation.runs"
	defaultWriteTimeout = 10 * time.Second
	defaultBatchTimeout = 10 * time.Millisecond
	headerEventType     = "event-type"
)

var (
	// ErrTopicEmpty is returned when brokers are configured without a topic.
	ErrTopicEmpty = errors.New("kafka topic cannot be empty")
	// ErrNoBrokers is returned when a Kafka publisher is created without brokers.
	ErrNoBrokers = errors.New("no kafka brokers configured")
	// ErrPublish is returned when an event cannot be written.
	ErrPublish = errors.New("failed to publish event")
)

// Event describes the outcome of one validation run.
type Event struct {
	Type               string    `json:"type"`
	RunID              string    `json:"runId"`
	JobID              string    `json:"jobId"`
	UKPRN              int       `json:"ukprn,omitempty"`
	Status             string    `json:"status,omitempty"`
	Stage              string    `json:"stage,omitempty"`
	Error              string    `json:"error,omitempty"`
	LearnerCount       int       `json:"learnerCount"`
	ShardCount         int       `json:"shardCount"`
	UnmatchedSecondary int       `json:"unmatchedSecondary"`
	ValidCount         int       `json:"validCount"`
	InvalidCount       int       `json:"invalidCount"`
	ErrorCount         int       `json:"errorCount"`
	DurationMs         int64     `json:"durationMs"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// Publisher sends run events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Config holds the Kafka publisher settings. Publishing is disabled when no brokers are set.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig loads the publisher configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.GetEnvList("ILR_KAFKA_BROKERS", nil),
		Topic:        config.GetEnvStr("ILR_KAFKA_TOPIC", defaultTopic),
		WriteTimeout: config.GetEnvDuration("ILR_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether any broker is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Enabled() && c.Topic == "" {
		return ErrTopicEmpty
	}

	return nil
}

// KafkaPublisher writes one message per event, keyed by run ID.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg *Config) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           defaultBatchTimeout,
			WriteTimeout:           timeout,
		},
	}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	msg := kafka.Message{
		Key:     []byte(event.RunID),
		Value:   value,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(event.Type)}},
		Time:    event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, event.Type, err)
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)

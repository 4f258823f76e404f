package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/log"
)

// Publisher defines the interface for publishing recovery events
type Publisher interface {
	// PublishRecoveryEvent publishes a recovery lifecycle event
	PublishRecoveryEvent(ctx context.Context, event *RecoveryEvent) error

	// PublishNotificationRequest hands a campaign communication to the
	// delivery transport
	PublishNotificationRequest(ctx context.Context, req *NotificationRequest) error

	// Close closes the publisher
	Close() error
}

// KafkaPublisher publishes recovery events to Kafka.
type KafkaPublisher struct {
	producer          sarama.SyncProducer
	eventTopic        string
	notificationTopic string
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(brokers []string, eventTopic, notificationTopic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaPublisher{
		producer:          producer,
		eventTopic:        eventTopic,
		notificationTopic: notificationTopic,
	}, nil
}

// PublishRecoveryEvent publishes a recovery lifecycle event
func (p *KafkaPublisher) PublishRecoveryEvent(ctx context.Context, event *RecoveryEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}

	if err := p.send(p.eventTopic, event.CustomerID, event); err != nil {
		return err
	}

	log.Debug(ctx, "Recovery event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// PublishNotificationRequest hands a campaign communication to the
// delivery transport
func (p *KafkaPublisher) PublishNotificationRequest(ctx context.Context, req *NotificationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt == 0 {
		req.RequestedAt = time.Now().Unix()
	}

	if err := p.send(p.notificationTopic, req.CustomerID, req); err != nil {
		return err
	}

	log.Debug(ctx, "Notification request published",
		zap.String("request_id", req.ID),
		zap.String("channel", req.Channel))
	return nil
}

// send marshals the payload and produces it keyed by customer so events
// for one customer stay ordered within a partition.
func (p *KafkaPublisher) send(topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to topic %q: %w", topic, err)
	}
	return nil
}

// Close closes the publisher
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher discards events. Used in tests and when Kafka is not
// configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that discards everything.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) PublishRecoveryEvent(ctx context.Context, event *RecoveryEvent) error {
	return nil
}

func (p *NoopPublisher) PublishNotificationRequest(ctx context.Context, req *NotificationRequest) error {
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventTransferOTP       = "transfer.otp_requested"
	EventTransferCompleted = "transfer.completed"
)

// Envelope is the JSON document written to Kafka. The mailer service on the
// other side renders the payload into an email.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes OTP requests and transfer notices to Kafka.
// It implements both OTPSender and Notifier.
type KafkaPublisher struct {
	writer            MessageWriter
	otpTopic          string
	notificationTopic string
	logger            *zap.Logger
}

// NewKafkaWriter builds the writer used in production. Each message names
// its own topic.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, otpTopic, notificationTopic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:            writer,
		otpTopic:          otpTopic,
		notificationTopic: notificationTopic,
		logger:            logger,
	}
}

func (p *KafkaPublisher) SendOTP(ctx context.Context, msg OTPMessage) error {
	return p.publish(ctx, p.otpTopic, msg.Email, EventTransferOTP, msg)
}

func (p *KafkaPublisher) Notify(ctx context.Context, n TransferNotice) error {
	return p.publish(ctx, p.notificationTopic, n.Email, EventTransferCompleted, n)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	value, err := json.Marshal(Envelope{Type: eventType, OccurredAt: time.Now().UTC(), Payload: body})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka topic",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err))
		return fmt.Errorf("failed to produce message: %w", err)
	}
	p.logger.Debug("Produced message to topic", zap.String("topic", topic), zap.String("event_type", eventType))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka producer closed.")
	return nil
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/config"
	"github.com/avelain/credential-service/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, principalID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		PrincipalID: principalID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata: envelopeMetadata{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(principalID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishCredentialCreated publishes credentials.credential.created events.
func (p *EventPublisher) PublishCredentialCreated(ctx context.Context, event domain.CredentialCreatedEvent) error {
	payload := struct {
		PrincipalID string    `json:"principal_id"`
		Login       string    `json:"login"`
		CreatedAt   time.Time `json:"created_at"`
	}{
		PrincipalID: event.PrincipalID,
		Login:       logger.MaskLogin(event.Login),
		CreatedAt:   event.CreatedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "credentials.credential.created", event.PrincipalID, event.CreatedAt, payload)
}

// PublishCredentialUpdated publishes credentials.credential.updated events.
func (p *EventPublisher) PublishCredentialUpdated(ctx context.Context, event domain.CredentialUpdatedEvent) error {
	payload := struct {
		PrincipalID   string    `json:"principal_id"`
		Login         string    `json:"login"`
		SecretRotated bool      `json:"secret_rotated"`
		Renamed       bool      `json:"renamed"`
		PreviousLogin string    `json:"previous_login,omitempty"`
		UpdatedAt     time.Time `json:"updated_at"`
	}{
		PrincipalID:   event.PrincipalID,
		Login:         logger.MaskLogin(event.Login),
		SecretRotated: event.SecretRotated,
		Renamed:       event.Renamed,
		UpdatedAt:     event.UpdatedAt.UTC(),
	}
	if event.Renamed {
		payload.PreviousLogin = logger.MaskLogin(event.PreviousLogin)
	}

	return p.publish(ctx, event.EventID, "credentials.credential.updated", event.PrincipalID, event.UpdatedAt, payload)
}

// PublishCredentialDeleted publishes credentials.credential.deleted events.
func (p *EventPublisher) PublishCredentialDeleted(ctx context.Context, event domain.CredentialDeletedEvent) error {
	payload := struct {
		PrincipalID string    `json:"principal_id"`
		Login       string    `json:"login"`
		DeletedAt   time.Time `json:"deleted_at"`
	}{
		PrincipalID: event.PrincipalID,
		Login:       logger.MaskLogin(event.Login),
		DeletedAt:   event.DeletedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "credentials.credential.deleted", event.PrincipalID, event.DeletedAt, payload)
}

// PublishResetTokenIssued publishes credentials.reset_token.issued events.
// The token itself never enters the event stream.
func (p *EventPublisher) PublishResetTokenIssued(ctx context.Context, event domain.ResetTokenIssuedEvent) error {
	payload := struct {
		PrincipalID string     `json:"principal_id"`
		IssuedAt    time.Time  `json:"issued_at"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		IssuedAt:    event.IssuedAt.UTC(),
		ExpiresAt:   event.ExpiresAt,
	}

	return p.publish(ctx, event.EventID, "credentials.reset_token.issued", event.PrincipalID, event.IssuedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

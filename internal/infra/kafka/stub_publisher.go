package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) PublishCredentialCreated(_ context.Context, event domain.CredentialCreatedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", "credentials.credential.created"),
		zap.String("principal_id", event.PrincipalID),
		zap.String("login", logger.MaskLogin(event.Login)),
	)
	return nil
}

func (p *StubPublisher) PublishCredentialUpdated(_ context.Context, event domain.CredentialUpdatedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", "credentials.credential.updated"),
		zap.String("principal_id", event.PrincipalID),
		zap.Bool("secret_rotated", event.SecretRotated),
		zap.Bool("renamed", event.Renamed),
	)
	return nil
}

func (p *StubPublisher) PublishCredentialDeleted(_ context.Context, event domain.CredentialDeletedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", "credentials.credential.deleted"),
		zap.String("principal_id", event.PrincipalID),
	)
	return nil
}

func (p *StubPublisher) PublishResetTokenIssued(_ context.Context, event domain.ResetTokenIssuedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", "credentials.reset_token.issued"),
		zap.String("principal_id", event.PrincipalID),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)

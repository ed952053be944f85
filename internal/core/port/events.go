package port

import (
	"context"

	"github.com/avelain/credential-service/internal/core/domain"
)

// EventPublisher publishes credential lifecycle events to the message bus.
type EventPublisher interface {
	PublishCredentialCreated(ctx context.Context, event domain.CredentialCreatedEvent) error
	PublishCredentialUpdated(ctx context.Context, event domain.CredentialUpdatedEvent) error
	PublishCredentialDeleted(ctx context.Context, event domain.CredentialDeletedEvent) error
	PublishResetTokenIssued(ctx context.Context, event domain.ResetTokenIssuedEvent) error
}

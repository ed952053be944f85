package port

import (
	"context"

	"github.com/avelain/credential-service/internal/core/domain"
)

// IdentityDirectory is the read-only external service holding principals,
// their profiles, and the roles attached through those profiles.
type IdentityDirectory interface {
	GetPrincipal(ctx context.Context, principalID string) (*domain.Principal, error)
	GetProfiles(ctx context.Context, profileIDs []string) ([]domain.Profile, error)
}

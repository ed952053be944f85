package port

import (
	"context"

	"github.com/avelain/credential-service/internal/core/domain"
)

// WriteOptions tunes visibility of store mutations.
type WriteOptions struct {
	// Refresh asks the store to make the write visible to subsequent reads
	// before returning. Callers set it after every secret rotation; backends
	// with read-after-write consistency may treat it as a no-op.
	Refresh bool
}

// CredentialQuery filters credential searches. Only exact principal-id
// matching is required of implementations.
type CredentialQuery struct {
	PrincipalID string
}

// CredentialSearchResult mirrors the document store's search envelope.
type CredentialSearchResult struct {
	Total int
	Hits  []domain.Credential
}

// CredentialStore persists credentials keyed by login name. Single-document
// operations are atomic; nothing larger is.
type CredentialStore interface {
	Get(ctx context.Context, login string) (*domain.Credential, error)
	Search(ctx context.Context, query CredentialQuery) (*CredentialSearchResult, error)
	Create(ctx context.Context, credential domain.Credential, opts WriteOptions) (*domain.Credential, error)
	Update(ctx context.Context, credential domain.Credential, opts WriteOptions) error
	Delete(ctx context.Context, login string, opts WriteOptions) error
}

package domain

import "time"

// CredentialCreatedEvent is published after a credential is first registered.
type CredentialCreatedEvent struct {
	EventID     string
	PrincipalID string
	Login       string
	CreatedAt   time.Time
}

// CredentialUpdatedEvent is published after a credential mutation.
type CredentialUpdatedEvent struct {
	EventID       string
	PrincipalID   string
	Login         string
	SecretRotated bool
	Renamed       bool
	PreviousLogin string
	UpdatedAt     time.Time
}

// CredentialDeletedEvent is published after a credential is removed.
type CredentialDeletedEvent struct {
	EventID     string
	PrincipalID string
	Login       string
	DeletedAt   time.Time
}

// ResetTokenIssuedEvent is published when a reset token is handed out.
type ResetTokenIssuedEvent struct {
	EventID     string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   *time.Time
}

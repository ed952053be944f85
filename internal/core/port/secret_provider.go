package port

import "context"

// SecretProvider hands out the process-wide reset-token signing secret.
// Implementations bootstrap the secret idempotently: attempt to create it and,
// on an already-exists conflict, read back the value another writer won with.
// This is the only place concurrent bootstrap races are expected and tolerated.
type SecretProvider interface {
	ResetTokenSecret(ctx context.Context) (string, error)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/logger"
	"github.com/avelain/credential-service/internal/infra/security"
	"github.com/avelain/credential-service/internal/repository"
)

// BadRequestError flags malformed client input. The transport layer maps it
// to a 400 response.
type BadRequestError struct {
	msg string
}

func (e *BadRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &BadRequestError{msg: fmt.Sprintf(format, args...)}
}

// CredentialCandidate is the client-supplied shape of a credential mutation.
// PrincipalID must stay empty; the authoritative principal id always comes
// from the route, never from the body.
type CredentialCandidate struct {
	Login         string
	Secret        string
	PrincipalID   string
	CurrentSecret string
}

// CredentialProjection is the public view returned by mutations.
type CredentialProjection struct {
	Login       string `json:"username"`
	PrincipalID string `json:"kuid"`
}

// CredentialInfo is the public read view. It never carries secret material.
type CredentialInfo struct {
	Login       string    `json:"username"`
	PrincipalID string    `json:"kuid"`
	Updater     string    `json:"updater,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LifecycleSettings carries the global switches of the lifecycle service.
type LifecycleSettings struct {
	// RequirePassword demands the current secret on update and delete.
	RequirePassword bool
}

// CredentialService drives the credential state machine: creation, rotation,
// rename, deletion, login verification, and the reset flow.
type CredentialService struct {
	settings    LifecycleSettings
	store       port.CredentialStore
	policies    *PolicyService
	cipher      *security.PasswordCipher
	resetTokens *security.ResetTokenIssuer
	events      port.EventPublisher
	log         *zap.Logger
	now         func() time.Time
}

func NewCredentialService(
	settings LifecycleSettings,
	store port.CredentialStore,
	policies *PolicyService,
	cipher *security.PasswordCipher,
	resetTokens *security.ResetTokenIssuer,
	events port.EventPublisher,
	log *zap.Logger,
) *CredentialService {
	return &CredentialService{
		settings:    settings,
		store:       store,
		policies:    policies,
		cipher:      cipher,
		resetTokens: resetTokens,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, primarily for tests.
func (s *CredentialService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Validate checks a candidate against structural rules and the principal's
// password policies without persisting anything.
func (s *CredentialService) Validate(ctx context.Context, candidate CredentialCandidate, principalID string, isUpdate bool) error {
	if candidate.PrincipalID != "" {
		return badRequest("the principal id cannot be supplied by the client")
	}

	if candidate.Login != "" {
		existing, err := s.store.Get(ctx, candidate.Login)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("look up login %s: %w", candidate.Login, err)
		}
		if existing != nil && existing.PrincipalID != principalID {
			return domain.ErrLoginTaken
		}
	}

	policies, err := s.policies.ResolvePolicies(ctx, principalID)
	if err != nil {
		return err
	}

	if !isUpdate {
		if candidate.Login == "" || candidate.Secret == "" {
			return badRequest("login and password are both required")
		}
		return s.policies.ValidateCandidate(ctx, candidate.Login, candidate.Secret, nil, policies)
	}

	if candidate.Login == "" && candidate.Secret == "" {
		return badRequest("at least one of login or password is required")
	}

	current, err := s.getByPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrCredentialNotFound
	}

	return s.policies.ValidateCandidate(ctx, candidate.Login, candidate.Secret, current, policies)
}

// Create registers a credential for a principal that has none.
func (s *CredentialService) Create(ctx context.Context, candidate CredentialCandidate, principalID, requester string) (*CredentialProjection, error) {
	if candidate.Secret == "" {
		return nil, badRequest("a password is required")
	}
	if candidate.Login == "" {
		return nil, badRequest("a login is required")
	}

	existing, err := s.getByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrCredentialExists
	}

	salt, err := security.GenerateSalt()
	if err != nil {
		return nil, err
	}
	encoded, err := s.cipher.EncodeDefault(candidate.Secret, salt)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	defaults := s.cipher.Defaults()
	credential := domain.Credential{
		Login:       candidate.Login,
		PrincipalID: principalID,
		SecretHash:  encoded,
		Salt:        salt,
		Algorithm:   defaults.Algorithm,
		Stretching:  defaults.Stretching,
		Mode:        defaults.Mode,
		Updater:     requester,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.store.Create(ctx, credential, port.WriteOptions{Refresh: true})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, domain.ErrLoginTaken
		}
		return nil, fmt.Errorf("create credential: %w", err)
	}

	s.publishCreated(ctx, created)

	return &CredentialProjection{Login: created.Login, PrincipalID: created.PrincipalID}, nil
}

// Update rotates the secret, renames the login, or both. Renames are a
// two-phase create-then-delete: the store's atomicity unit is a single
// document, so a crash between the phases can leave both documents behind.
// The old document is then an orphan a reconciliation job has to remove.
func (s *CredentialService) Update(ctx context.Context, candidate CredentialCandidate, principalID, requester string) (*CredentialProjection, error) {
	existing, err := s.getByPrincipal(ctx, principalID)

	if confirmErr := s.confirmCurrentSecret(ctx, candidate.CurrentSecret, existing); confirmErr != nil {
		return nil, confirmErr
	}

	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrCredentialNotFound
	}

	return s.applyUpdate(ctx, existing, candidate, requester)
}

// applyUpdate performs the mutation without current-secret confirmation. The
// reset flow and the transparent login-time migration enter here directly.
func (s *CredentialService) applyUpdate(ctx context.Context, existing *domain.Credential, candidate CredentialCandidate, requester string) (*CredentialProjection, error) {
	next := *existing
	now := s.now().UTC()
	rotated := candidate.Secret != ""

	if rotated {
		salt, err := security.GenerateSalt()
		if err != nil {
			return nil, err
		}
		encoded, err := s.cipher.EncodeDefault(candidate.Secret, salt)
		if err != nil {
			return nil, err
		}

		policies, err := s.policies.ResolvePolicies(ctx, existing.PrincipalID)
		if err != nil {
			return nil, err
		}
		retention := s.policies.PasswordRetention(policies)
		next.History = s.archiveActive(existing, retention, now)

		defaults := s.cipher.Defaults()
		next.SecretHash = encoded
		next.Salt = salt
		next.Algorithm = defaults.Algorithm
		next.Stretching = defaults.Stretching
		next.Mode = defaults.Mode
	}

	next.UpdatedAt = now
	next.Updater = requester

	renamed := candidate.Login != "" && candidate.Login != existing.Login
	if renamed {
		next.Login = candidate.Login
		if _, err := s.store.Create(ctx, next, port.WriteOptions{Refresh: true}); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return nil, domain.ErrLoginTaken
			}
			return nil, fmt.Errorf("create renamed credential: %w", err)
		}
		if err := s.store.Delete(ctx, existing.Login, port.WriteOptions{Refresh: true}); err != nil {
			return nil, fmt.Errorf("delete previous login %s after rename: %w", existing.Login, err)
		}
	} else {
		if err := s.store.Update(ctx, next, port.WriteOptions{Refresh: rotated}); err != nil {
			return nil, fmt.Errorf("update credential: %w", err)
		}
	}

	s.publishUpdated(ctx, &next, existing.Login, rotated, renamed)

	return &CredentialProjection{Login: next.Login, PrincipalID: next.PrincipalID}, nil
}

// archiveActive prepends the active secret to the history and truncates it to
// the retention window. The active secret occupies one retention slot itself,
// so the history keeps at most retention-1 entries.
func (s *CredentialService) archiveActive(existing *domain.Credential, retention int, now time.Time) []domain.PasswordVersion {
	bound := retention - 1
	if bound <= 0 {
		return nil
	}

	archived := existing.ActiveVersion()
	archived.ArchivedAt = now

	history := make([]domain.PasswordVersion, 0, bound)
	history = append(history, archived)
	for _, version := range existing.History {
		if len(history) == bound {
			break
		}
		history = append(history, version)
	}
	return history
}

// Delete removes the principal's credential.
func (s *CredentialService) Delete(ctx context.Context, principalID, currentSecret string) error {
	existing, err := s.getByPrincipal(ctx, principalID)

	if confirmErr := s.confirmCurrentSecret(ctx, currentSecret, existing); confirmErr != nil {
		return confirmErr
	}

	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrCredentialNotFound
	}

	if err := s.store.Delete(ctx, existing.Login, port.WriteOptions{Refresh: true}); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	s.publishDeleted(ctx, existing)

	return nil
}

// Exists reports whether the principal has a credential.
func (s *CredentialService) Exists(ctx context.Context, principalID string) (bool, error) {
	existing, err := s.getByPrincipal(ctx, principalID)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// GetInfo returns the public view of the principal's credential.
func (s *CredentialService) GetInfo(ctx context.Context, principalID string) (*CredentialInfo, error) {
	existing, err := s.getByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrCredentialNotFound
	}
	return infoOf(existing), nil
}

// GetByLogin returns the public view of the credential stored under a login.
func (s *CredentialService) GetByLogin(ctx context.Context, login string) (*CredentialInfo, error) {
	existing, err := s.store.Get(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential %s: %w", login, err)
	}
	return infoOf(existing), nil
}

// Verify authenticates a login attempt and returns the principal id.
//
// Absent logins and wrong secrets fail identically so callers cannot
// enumerate accounts. A valid secret can still fail the login when an expiry
// or forced-rotation policy holds; those failures carry a fresh reset token.
func (s *CredentialService) Verify(ctx context.Context, login, secret string) (string, error) {
	credential, err := s.store.Get(ctx, login)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("get credential %s: %w", login, err)
	}

	ok, err := s.cipher.Verify(secret, credential)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrInvalidCredentials
	}

	policies, err := s.policies.ResolvePolicies(ctx, credential.PrincipalID)
	if err != nil {
		return "", err
	}

	if s.policies.IsExpired(credential, policies, s.now().UTC()) {
		token, err := s.issueResetToken(ctx, credential.PrincipalID)
		if err != nil {
			return "", err
		}
		return "", &domain.ExpiredPasswordError{ResetToken: token}
	}

	mustRotate, err := s.policies.MustRotate(ctx, credential, policies)
	if err != nil {
		return "", err
	}
	if mustRotate {
		token, err := s.issueResetToken(ctx, credential.PrincipalID)
		if err != nil {
			return "", err
		}
		return "", &domain.MustChangePasswordError{ResetToken: token}
	}

	if credential.Descriptor() != s.cipher.Defaults() {
		s.migrateEncoding(ctx, credential, secret)
	}

	return credential.PrincipalID, nil
}

// migrateEncoding re-encodes a credential under the current defaults using
// the plaintext just verified. Best effort: the login already succeeded, so
// failures are logged and swallowed.
func (s *CredentialService) migrateEncoding(ctx context.Context, credential *domain.Credential, secret string) {
	_, err := s.applyUpdate(ctx, credential, CredentialCandidate{Secret: secret}, credential.PrincipalID)
	if err != nil {
		logger.WithContext(ctx).Warn("encoding migration failed",
			zap.String("login", logger.MaskLogin(credential.Login)),
			zap.Error(err))
	}
}

// ResetPassword rotates a secret authorized by a reset token instead of the
// current secret, then performs a normal login with the new secret.
func (s *CredentialService) ResetPassword(ctx context.Context, secret, token string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", badRequest("a new password is required")
	}
	if strings.TrimSpace(token) == "" {
		return "", badRequest("a reset token is required")
	}

	principalID, err := s.resetTokens.Verify(token)
	if err != nil {
		return "", err
	}

	if err := s.Validate(ctx, CredentialCandidate{Secret: secret}, principalID, true); err != nil {
		return "", err
	}

	existing, err := s.getByPrincipal(ctx, principalID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", domain.ErrCredentialNotFound
	}

	// The principal rotates its own secret here, which also clears a pending
	// forced-rotation state.
	if _, err := s.applyUpdate(ctx, existing, CredentialCandidate{Secret: secret}, principalID); err != nil {
		return "", err
	}

	return s.Verify(ctx, existing.Login, secret)
}

// IssueResetToken hands out a reset token for an existing credential.
func (s *CredentialService) IssueResetToken(ctx context.Context, principalID string) (string, error) {
	if strings.TrimSpace(principalID) == "" {
		return "", badRequest("a principal id is required")
	}

	exists, err := s.Exists(ctx, principalID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", domain.ErrCredentialNotFound
	}

	return s.issueResetToken(ctx, principalID)
}

func (s *CredentialService) issueResetToken(ctx context.Context, principalID string) (string, error) {
	token, err := s.resetTokens.Issue(principalID)
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}

	now := s.now().UTC()
	event := domain.ResetTokenIssuedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: principalID,
		IssuedAt:    now,
	}
	if expiresIn := s.resetTokens.ExpiresIn(); expiresIn != security.NoTokenExpiry {
		expiresAt := now.Add(expiresIn)
		event.ExpiresAt = &expiresAt
	}
	if err := s.events.PublishResetTokenIssued(ctx, event); err != nil {
		s.log.Warn("publish reset token event failed", zap.Error(err))
	}

	return token, nil
}

// confirmCurrentSecret enforces the global require-password switch. It runs
// before existence checks and fails the same way for absent credentials so
// the confirmation path cannot be used to probe for accounts.
func (s *CredentialService) confirmCurrentSecret(ctx context.Context, currentSecret string, existing *domain.Credential) error {
	if !s.settings.RequirePassword {
		return nil
	}

	if strings.TrimSpace(currentSecret) == "" {
		return domain.ErrPasswordConfirmationRequired
	}

	ok, err := s.cipher.Verify(currentSecret, existing)
	if err != nil || !ok {
		return domain.ErrPasswordConfirmationFailed
	}
	return nil
}

func (s *CredentialService) getByPrincipal(ctx context.Context, principalID string) (*domain.Credential, error) {
	result, err := s.store.Search(ctx, port.CredentialQuery{PrincipalID: principalID})
	if err != nil {
		return nil, fmt.Errorf("search credentials of %s: %w", principalID, err)
	}
	if len(result.Hits) == 0 {
		return nil, nil
	}
	credential := result.Hits[0]
	return &credential, nil
}

func (s *CredentialService) publishCreated(ctx context.Context, credential *domain.Credential) {
	err := s.events.PublishCredentialCreated(ctx, domain.CredentialCreatedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: credential.PrincipalID,
		Login:       credential.Login,
		CreatedAt:   credential.CreatedAt,
	})
	if err != nil {
		s.log.Warn("publish credential created event failed", zap.Error(err))
	}
}

func (s *CredentialService) publishUpdated(ctx context.Context, credential *domain.Credential, previousLogin string, rotated, renamed bool) {
	event := domain.CredentialUpdatedEvent{
		EventID:       uuid.NewString(),
		PrincipalID:   credential.PrincipalID,
		Login:         credential.Login,
		SecretRotated: rotated,
		Renamed:       renamed,
		UpdatedAt:     credential.UpdatedAt,
	}
	if renamed {
		event.PreviousLogin = previousLogin
	}
	if err := s.events.PublishCredentialUpdated(ctx, event); err != nil {
		s.log.Warn("publish credential updated event failed", zap.Error(err))
	}
}

func (s *CredentialService) publishDeleted(ctx context.Context, credential *domain.Credential) {
	err := s.events.PublishCredentialDeleted(ctx, domain.CredentialDeletedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: credential.PrincipalID,
		Login:       credential.Login,
		DeletedAt:   s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("publish credential deleted event failed", zap.Error(err))
	}
}

func infoOf(credential *domain.Credential) *CredentialInfo {
	return &CredentialInfo{
		Login:       credential.Login,
		PrincipalID: credential.PrincipalID,
		Updater:     credential.Updater,
		CreatedAt:   credential.CreatedAt,
		UpdatedAt:   credential.UpdatedAt,
	}
}

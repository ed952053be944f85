package domain

import "errors"

// Candidate-secret policy violations. Messages deliberately avoid echoing the
// offending value.
var (
	// ErrLoginInPassword indicates the candidate secret contains the login name.
	ErrLoginInPassword = errors.New("login must not be part of the password")
	// ErrWeakPassword indicates the candidate secret failed a complexity rule.
	ErrWeakPassword = errors.New("password is too weak")
	// ErrReusedPassword indicates the candidate secret matches a recent one.
	ErrReusedPassword = errors.New("password was used too recently")
)

// Cipher descriptor violations. The invalid descriptor value is never echoed
// to avoid acting as an algorithm oracle.
var (
	// ErrUnknownAlgorithm indicates the requested or stored digest algorithm is unsupported.
	ErrUnknownAlgorithm = errors.New("unsupported encryption algorithm")
	// ErrUnknownEncryptionMode indicates the requested or stored encoding mode is unsupported.
	ErrUnknownEncryptionMode = errors.New("unsupported encryption mode")
)

// Reset-token verification failures.
var (
	// ErrInvalidToken indicates a malformed or tampered reset token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a reset token past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// Login outcomes that carry a freshly issued reset token.
var (
	// ErrExpiredPassword indicates the secret aged past an applicable expiry policy.
	ErrExpiredPassword = errors.New("expired password")
	// ErrMustChangePassword indicates an admin-set secret must be rotated before login.
	ErrMustChangePassword = errors.New("password change required")
)

// Lifecycle preconditions and login outcomes.
var (
	// ErrInvalidCredentials is the uniform login failure. It never discloses
	// whether the login exists or the secret was wrong.
	ErrInvalidCredentials = errors.New("wrong username or password")
	// ErrCredentialExists indicates the principal already has a credential.
	ErrCredentialExists = errors.New("a credential already exists for this principal")
	// ErrCredentialNotFound indicates the principal has no credential.
	ErrCredentialNotFound = errors.New("no credential found for this principal")
	// ErrLoginTaken indicates the login is bound to a different principal.
	ErrLoginTaken = errors.New("login is already in use")
	// ErrPasswordConfirmationRequired indicates the current password must
	// accompany the request and was missing.
	ErrPasswordConfirmationRequired = errors.New("current password is required")
	// ErrPasswordConfirmationFailed indicates the supplied current password
	// did not verify. It never discloses whether the credential exists.
	ErrPasswordConfirmationFailed = errors.New("current password verification failed")
)

// ExpiredPasswordError fails a login whose secret expired and attaches a reset
// token the principal can use to rotate it.
type ExpiredPasswordError struct {
	ResetToken string
}

func (e *ExpiredPasswordError) Error() string { return ErrExpiredPassword.Error() }

// Is matches the ErrExpiredPassword sentinel.
func (e *ExpiredPasswordError) Is(target error) bool { return target == ErrExpiredPassword }

// MustChangePasswordError fails a login whose secret was set by an
// administrator and attaches a reset token for the forced rotation.
type MustChangePasswordError struct {
	ResetToken string
}

func (e *MustChangePasswordError) Error() string { return ErrMustChangePassword.Error() }

// Is matches the ErrMustChangePassword sentinel.
func (e *MustChangePasswordError) Is(target error) bool { return target == ErrMustChangePassword }

package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avelain/credential-service/internal/core/domain"
)

// NoTokenExpiry is the configuration sentinel disabling reset-token expiry.
const NoTokenExpiry = time.Duration(-1)

const resetSecretBytes = 512

// ResetTokenClaims binds a principal id into a signed reset assertion.
type ResetTokenClaims struct {
	PrincipalID string `json:"principalId"`
	jwt.RegisteredClaims
}

// ResetTokenIssuer issues and validates signed, time-bounded reset tokens.
type ResetTokenIssuer struct {
	secret    []byte
	issuer    string
	expiresIn time.Duration
	now       func() time.Time
}

// NewResetTokenIssuer builds an issuer signing with the supplied secret.
// expiresIn may be NoTokenExpiry, in which case tokens never expire.
func NewResetTokenIssuer(secret, issuer string, expiresIn time.Duration) (*ResetTokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("reset token secret is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("reset token issuer is required")
	}

	return &ResetTokenIssuer{
		secret:    []byte(secret),
		issuer:    issuer,
		expiresIn: expiresIn,
		now:       time.Now,
	}, nil
}

// WithClock overrides the issuer's clock, primarily for tests.
func (i *ResetTokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// ExpiresIn returns the configured token lifetime, or NoTokenExpiry.
func (i *ResetTokenIssuer) ExpiresIn() time.Duration {
	return i.expiresIn
}

// Issue signs a token binding the principal id.
func (i *ResetTokenIssuer) Issue(principalID string) (string, error) {
	if strings.TrimSpace(principalID) == "" {
		return "", fmt.Errorf("principal id is required")
	}

	now := i.now().UTC()
	claims := ResetTokenClaims{
		PrincipalID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.expiresIn != NoTokenExpiry {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.expiresIn))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}

	return signed, nil
}

// Verify validates the token and returns the bound principal id. Expired
// tokens surface domain.ErrExpiredToken; every other verification failure
// surfaces domain.ErrInvalidToken.
func (i *ResetTokenIssuer) Verify(token string) (string, error) {
	claims := &ResetTokenClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.ErrExpiredToken
		}
		return "", domain.ErrInvalidToken
	}

	if !parsed.Valid || strings.TrimSpace(claims.PrincipalID) == "" {
		return "", domain.ErrInvalidToken
	}

	return claims.PrincipalID, nil
}

// GenerateResetSecret produces the process-wide signing secret material.
func GenerateResetSecret() (string, error) {
	buf := make([]byte, resetSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

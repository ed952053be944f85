package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"

	"github.com/avelain/credential-service/internal/core/domain"
)

const kdfIterations = 10000

type algorithmSpec struct {
	constructor func() hash.Hash
	// bits is the digest strength; it doubles as the KDF output length in
	// bytes, a quirk inherited from older deployments that must be preserved
	// so stored hashes keep verifying.
	bits int
}

// Closed algorithm table. Unknown names are rejected at construction and at
// encode time; the table is never extended dynamically.
var algorithms = map[string]algorithmSpec{
	"sha224":                  {sha256.New224, 224},
	"sha256":                  {sha256.New, 256},
	"sha384":                  {sha512.New384, 384},
	"sha512":                  {sha512.New, 512},
	"RSA-SHA224":              {sha256.New224, 224},
	"RSA-SHA256":              {sha256.New, 256},
	"RSA-SHA384":              {sha512.New384, 384},
	"RSA-SHA512":              {sha512.New, 512},
	"sha224WithRSAEncryption": {sha256.New224, 224},
	"sha256WithRSAEncryption": {sha256.New, 256},
	"sha384WithRSAEncryption": {sha512.New384, 384},
	"sha512WithRSAEncryption": {sha512.New, 512},
}

// SupportedAlgorithm reports whether name is in the closed algorithm table.
func SupportedAlgorithm(name string) bool {
	_, ok := algorithms[name]
	return ok
}

// AlgorithmStrength returns the digest bit strength for a supported algorithm.
func AlgorithmStrength(name string) (int, error) {
	spec, ok := algorithms[name]
	if !ok {
		return 0, domain.ErrUnknownAlgorithm
	}
	return spec.bits, nil
}

// PasswordCipher encodes and verifies secrets under a configurable descriptor.
// It is stateless apart from the process-wide default descriptor; Encode and
// Verify are pure functions over their inputs.
type PasswordCipher struct {
	defaults domain.EncodingDescriptor
}

// NewPasswordCipher validates the default descriptor and builds a cipher.
func NewPasswordCipher(defaults domain.EncodingDescriptor) (*PasswordCipher, error) {
	if !SupportedAlgorithm(defaults.Algorithm) {
		return nil, domain.ErrUnknownAlgorithm
	}
	switch defaults.Mode {
	case domain.EncryptionModeHash, domain.EncryptionModeHMAC:
	default:
		return nil, domain.ErrUnknownEncryptionMode
	}
	return &PasswordCipher{defaults: defaults}, nil
}

// Defaults returns the process-wide descriptor new secrets are encoded under.
func (c *PasswordCipher) Defaults() domain.EncodingDescriptor {
	return c.defaults
}

// Encode renders the secret under the supplied descriptor in hex.
//
// When the descriptor has stretching set, the secret always goes through the
// key-derivation function; the Mode only decides the fallthrough family used
// for non-stretched descriptors.
func (c *PasswordCipher) Encode(secret, salt string, d domain.EncodingDescriptor) (string, error) {
	spec, ok := algorithms[d.Algorithm]
	if !ok {
		return "", domain.ErrUnknownAlgorithm
	}

	if d.Stretching {
		derived := pbkdf2.Key([]byte(secret), []byte(salt), kdfIterations, spec.bits, spec.constructor)
		return hex.EncodeToString(derived), nil
	}

	switch d.Mode {
	case domain.EncryptionModeHMAC:
		mac := hmac.New(spec.constructor, []byte(salt))
		mac.Write([]byte(secret))
		return hex.EncodeToString(mac.Sum(nil)), nil
	case domain.EncryptionModeHash:
		h := spec.constructor()
		if salt != "" {
			h.Write([]byte(salt + ":" + secret))
		} else {
			h.Write([]byte(secret))
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		return "", domain.ErrUnknownEncryptionMode
	}
}

// EncodeDefault renders the secret under the current default descriptor.
func (c *PasswordCipher) EncodeDefault(secret, salt string) (string, error) {
	return c.Encode(secret, salt, c.defaults)
}

// Verify re-encodes the secret under the credential's own recorded descriptor
// and compares it to the stored hash in constant time. A nil credential
// verifies false without error so callers cannot probe for existence through
// error shapes.
func (c *PasswordCipher) Verify(secret string, credential *domain.Credential) (bool, error) {
	if credential == nil {
		return false, nil
	}

	encoded, err := c.Encode(secret, credential.Salt, credential.Descriptor())
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(encoded), []byte(credential.SecretHash)) == 1, nil
}

// GenerateSalt produces a fresh random salt, hex-encoded.
func GenerateSalt() (string, error) {
	buf := make([]byte, 128)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package domain

import "time"

// EncryptionMode selects the encoding family applied to a secret before storage.
type EncryptionMode string

const (
	// EncryptionModeHash hashes the salted secret in a single pass.
	EncryptionModeHash EncryptionMode = "hash"
	// EncryptionModeHMAC computes an HMAC of the secret keyed by the salt.
	EncryptionModeHMAC EncryptionMode = "hmac"
)

// EncodingDescriptor captures everything needed to re-encode a secret the way
// it was originally encoded. Stretching takes precedence over Mode: when set,
// the secret goes through the key-derivation function regardless of Mode.
type EncodingDescriptor struct {
	Algorithm  string
	Stretching bool
	Mode       EncryptionMode
}

// PasswordVersion is a superseded secret kept for reuse checks.
type PasswordVersion struct {
	SecretHash   string         `json:"secretHash"`
	Salt         string         `json:"salt"`
	Algorithm    string         `json:"algorithm"`
	Stretching   bool           `json:"stretching"`
	Mode         EncryptionMode `json:"mode"`
	Pepper       bool           `json:"pepper"`
	ArchivedAt   time.Time      `json:"archivedAt"`
	SupersededAt time.Time      `json:"supersededAt"`
}

// Credential binds a login name and an encoded secret to an external principal.
//
// History holds previously active secrets, most recent first. Its length is
// bounded at write time by the maximum reuse-retention of the policies that
// apply to the principal, minus one: the active secret also counts toward the
// reuse window and is never duplicated inside History.
type Credential struct {
	Login       string
	PrincipalID string
	SecretHash  string
	Salt        string
	Algorithm   string
	Stretching  bool
	Mode        EncryptionMode
	// Pepper is reserved for a future peppering scheme and is always false today.
	Pepper    bool
	History   []PasswordVersion
	Updater   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Descriptor returns the encoding descriptor recorded on the credential.
func (c *Credential) Descriptor() EncodingDescriptor {
	return EncodingDescriptor{
		Algorithm:  c.Algorithm,
		Stretching: c.Stretching,
		Mode:       c.Mode,
	}
}

// ActiveVersion projects the currently active secret as a PasswordVersion so
// reuse checks can treat it uniformly with historical entries.
func (c *Credential) ActiveVersion() PasswordVersion {
	return PasswordVersion{
		SecretHash:   c.SecretHash,
		Salt:         c.Salt,
		Algorithm:    c.Algorithm,
		Stretching:   c.Stretching,
		Mode:         c.Mode,
		Pepper:       c.Pepper,
		SupersededAt: c.UpdatedAt,
	}
}

// ReferenceTime returns the timestamp expiry computations are anchored to.
func (c *Credential) ReferenceTime() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

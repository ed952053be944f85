package domain

import "time"

// PolicySelector scopes a password policy to an explicit set of principals,
// profiles, or roles. At least one list must be non-empty.
type PolicySelector struct {
	Users    []string
	Profiles []string
	Roles    []string
}

// Empty reports whether the selector matches nothing.
func (s PolicySelector) Empty() bool {
	return len(s.Users) == 0 && len(s.Profiles) == 0 && len(s.Roles) == 0
}

// PasswordPolicy is a configuration-defined constraint on credentials.
// A policy either applies to everyone (AppliesToAll) or to the principals
// selected by AppliesTo; the two forms are mutually exclusive.
type PasswordPolicy struct {
	AppliesToAll bool
	AppliesTo    PolicySelector

	// ExpiresAfter is the maximum age of the active secret; zero disables expiry.
	ExpiresAfter time.Duration

	// ForbidReusedPasswordCount is the number of most recent secrets, the
	// active one included, a new secret must not match. Zero disables the check.
	ForbidReusedPasswordCount int

	// MustChangePasswordIfSetByAdmin forces rotation of secrets that were last
	// set by someone other than the principal. Administrators are exempt.
	MustChangePasswordIfSetByAdmin bool

	// ForbidLoginInPassword rejects secrets containing the login name,
	// case-insensitively.
	ForbidLoginInPassword bool

	// PasswordRegex is a pattern the secret must match, either a bare pattern
	// or the /pattern/flags form.
	PasswordRegex string

	// MinPasswordStrength is the minimum zxcvbn score (0-4) a new secret must
	// reach. Zero disables the check.
	MinPasswordStrength int
}

// Principal is the read-only identity-directory view of a user.
type Principal struct {
	ID         string
	ProfileIDs []string
}

// Profile groups role assignments in the identity directory.
type Profile struct {
	ID       string
	Policies []ProfilePolicy
}

// ProfilePolicy attaches a role to a profile.
type ProfilePolicy struct {
	RoleID string `json:"roleId"`
}

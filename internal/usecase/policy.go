package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/security"
	"github.com/avelain/credential-service/internal/repository"
)

// adminRoleID marks principals exempt from forced rotation.
const adminRoleID = "admin"

// PolicyService resolves which password policies apply to a principal and
// evaluates them against credentials and candidate secrets.
type PolicyService struct {
	directory port.IdentityDirectory
	cipher    *security.PasswordCipher
	policies  []domain.PasswordPolicy
}

func NewPolicyService(directory port.IdentityDirectory, cipher *security.PasswordCipher, policies []domain.PasswordPolicy) *PolicyService {
	return &PolicyService{
		directory: directory,
		cipher:    cipher,
		policies:  policies,
	}
}

// principalView lazily loads a principal and its profiles from the identity
// directory, memoizing both so one resolution pass performs at most one
// lookup per resource. A missing principal memoizes as nil.
type principalView struct {
	directory port.IdentityDirectory
	id        string

	principal       *domain.Principal
	principalLoaded bool
	profiles        []domain.Profile
	profilesLoaded  bool
}

func (v *principalView) Principal(ctx context.Context) (*domain.Principal, error) {
	if v.principalLoaded {
		return v.principal, nil
	}

	principal, err := v.directory.GetPrincipal(ctx, v.id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			v.principalLoaded = true
			return nil, nil
		}
		return nil, fmt.Errorf("load principal %s: %w", v.id, err)
	}

	v.principal = principal
	v.principalLoaded = true
	return v.principal, nil
}

func (v *principalView) Profiles(ctx context.Context) ([]domain.Profile, error) {
	if v.profilesLoaded {
		return v.profiles, nil
	}

	principal, err := v.Principal(ctx)
	if err != nil {
		return nil, err
	}
	if principal == nil || len(principal.ProfileIDs) == 0 {
		v.profilesLoaded = true
		return nil, nil
	}

	profiles, err := v.directory.GetProfiles(ctx, principal.ProfileIDs)
	if err != nil {
		return nil, fmt.Errorf("load profiles of %s: %w", v.id, err)
	}

	v.profiles = profiles
	v.profilesLoaded = true
	return v.profiles, nil
}

func (s *PolicyService) view(principalID string) *principalView {
	return &principalView{directory: s.directory, id: principalID}
}

// ResolvePolicies returns the policies matching the principal, in
// configuration order. A policy matching through several selector lists
// appears once per match; downstream evaluation is idempotent so the
// duplicates are harmless and deliberately kept.
func (s *PolicyService) ResolvePolicies(ctx context.Context, principalID string) ([]domain.PasswordPolicy, error) {
	if principalID == "" {
		return nil, nil
	}

	view := s.view(principalID)
	matched := make([]domain.PasswordPolicy, 0, len(s.policies))

	for _, policy := range s.policies {
		if policy.AppliesToAll {
			matched = append(matched, policy)
			continue
		}

		if containsString(policy.AppliesTo.Users, principalID) {
			matched = append(matched, policy)
		}

		principal, err := view.Principal(ctx)
		if err != nil {
			return nil, err
		}
		if principal == nil {
			continue
		}

		if len(policy.AppliesTo.Profiles) > 0 {
			profiles, err := view.Profiles(ctx)
			if err != nil {
				return nil, err
			}
			for _, profile := range profiles {
				if containsString(policy.AppliesTo.Profiles, profile.ID) {
					matched = append(matched, policy)
				}
			}
		}

		if len(policy.AppliesTo.Roles) > 0 {
			profiles, err := view.Profiles(ctx)
			if err != nil {
				return nil, err
			}
			for _, profile := range profiles {
				for _, attached := range profile.Policies {
					if containsString(policy.AppliesTo.Roles, attached.RoleID) {
						matched = append(matched, policy)
					}
				}
			}
		}
	}

	return matched, nil
}

// PasswordRetention returns how many recent secrets, the active one included,
// reuse checks must cover: the maximum forbidReusedPasswordCount across the
// matching policies. Zero means reuse is unrestricted.
func (s *PolicyService) PasswordRetention(policies []domain.PasswordPolicy) int {
	retention := 0
	for _, policy := range policies {
		if policy.ForbidReusedPasswordCount > retention {
			retention = policy.ForbidReusedPasswordCount
		}
	}
	return retention
}

// IsExpired reports whether the credential's active secret outlived any
// matching expiry policy at the given instant.
func (s *PolicyService) IsExpired(credential *domain.Credential, policies []domain.PasswordPolicy, now time.Time) bool {
	reference := credential.ReferenceTime()
	if reference.IsZero() {
		return false
	}

	for _, policy := range policies {
		if policy.ExpiresAfter > 0 && now.After(reference.Add(policy.ExpiresAfter)) {
			return true
		}
	}
	return false
}

// MustRotate reports whether the credential must be rotated before a login
// can succeed: some matching policy forces rotation of admin-set secrets and
// the secret was last set by someone else. Principals holding the
// administrative role are never forced to rotate.
func (s *PolicyService) MustRotate(ctx context.Context, credential *domain.Credential, policies []domain.PasswordPolicy) (bool, error) {
	profiles, err := s.view(credential.PrincipalID).Profiles(ctx)
	if err != nil {
		return false, err
	}
	for _, profile := range profiles {
		for _, attached := range profile.Policies {
			if attached.RoleID == adminRoleID {
				return false, nil
			}
		}
	}

	for _, policy := range policies {
		if policy.MustChangePasswordIfSetByAdmin && credential.Updater != credential.PrincipalID {
			return true, nil
		}
	}

	return false, nil
}

// ValidateCandidate checks a candidate plaintext secret against every
// matching policy. current carries the stored credential whose history feeds
// the reuse check; it is nil on first-time creation. login is the name being
// set, falling back to the stored one when the caller does not rename.
func (s *PolicyService) ValidateCandidate(ctx context.Context, login, secret string, current *domain.Credential, policies []domain.PasswordPolicy) error {
	if login == "" && current != nil {
		login = current.Login
	}

	for _, policy := range policies {
		if policy.ForbidLoginInPassword && secret != "" && login != "" &&
			strings.Contains(strings.ToLower(secret), strings.ToLower(login)) {
			return domain.ErrLoginInPassword
		}

		if policy.PasswordRegex != "" && secret != "" {
			re, err := compilePolicyRegex(policy.PasswordRegex)
			if err != nil {
				return fmt.Errorf("invalid password regex %q: %w", policy.PasswordRegex, err)
			}
			if !re.MatchString(secret) {
				return domain.ErrWeakPassword
			}
		}

		if policy.MinPasswordStrength > 0 && secret != "" {
			score := zxcvbn.PasswordStrength(secret, []string{login}).Score
			if score < policy.MinPasswordStrength {
				return domain.ErrWeakPassword
			}
		}

		if policy.ForbidReusedPasswordCount > 0 && secret != "" && current != nil {
			if err := s.checkReuse(secret, current, policy.ForbidReusedPasswordCount); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkReuse re-encodes the candidate under each retained version's own
// descriptor and rejects it on any match. The active secret occupies slot
// zero of the probe window.
func (s *PolicyService) checkReuse(secret string, current *domain.Credential, count int) error {
	probes := make([]domain.PasswordVersion, 0, len(current.History)+1)
	if current.SecretHash != "" {
		probes = append(probes, current.ActiveVersion())
	}
	probes = append(probes, current.History...)

	if count > len(probes) {
		count = len(probes)
	}

	for i := 0; i < count; i++ {
		probe := probes[i]
		encoded, err := s.cipher.Encode(secret, probe.Salt, domain.EncodingDescriptor{
			Algorithm:  probe.Algorithm,
			Stretching: probe.Stretching,
			Mode:       probe.Mode,
		})
		if err != nil {
			return fmt.Errorf("re-encode historical secret: %w", err)
		}
		if encoded == probe.SecretHash {
			return domain.ErrReusedPassword
		}
	}

	return nil
}

// policyRegexForm recognizes the delimited /pattern/flags notation.
var policyRegexForm = regexp.MustCompile(`^/(.*?)/([gismuy]+)$`)

// compilePolicyRegex accepts either a bare pattern or the delimited
// /pattern/flags form. The i, m and s flags map onto Go inline flags; g, u
// and y alter matching iteration only and are ignored.
func compilePolicyRegex(raw string) (*regexp.Regexp, error) {
	matches := policyRegexForm.FindStringSubmatch(raw)
	if matches == nil {
		return regexp.Compile(raw)
	}

	pattern := strings.ReplaceAll(matches[1], `\/`, "/")

	var inline strings.Builder
	for _, flag := range matches[2] {
		switch flag {
		case 'i', 'm', 's':
			inline.WriteRune(flag)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}

	return regexp.Compile(pattern)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

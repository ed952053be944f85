package config

import (
	"testing"
	"time"

	"github.com/avelain/credential-service/internal/infra/security"
)

func validAuth() AuthSettings {
	return AuthSettings{
		Algorithm:              "sha512",
		Digest:                 "hex",
		Encryption:             "hmac",
		Stretching:             true,
		ResetPasswordExpiresIn: "2h",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &AppConfig{Auth: validAuth()}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	auth := validAuth()
	auth.Algorithm = "md5"
	cfg := &AppConfig{Auth: auth}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported algorithm")
	}
}

func TestValidateRejectsStretchedHash(t *testing.T) {
	auth := validAuth()
	auth.Encryption = "hash"
	auth.Stretching = true
	cfg := &AppConfig{Auth: auth}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for stretching combined with hash encryption")
	}

	auth.Stretching = false
	cfg = &AppConfig{Auth: auth}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected unstretched hash to be accepted, got %v", err)
	}
}

func TestResetPasswordExpiry(t *testing.T) {
	auth := validAuth()

	auth.ResetPasswordExpiresIn = "-1"
	d, err := auth.ResetPasswordExpiry()
	if err != nil {
		t.Fatalf("ResetPasswordExpiry: %v", err)
	}
	if d != security.NoTokenExpiry {
		t.Fatalf("expected the no-expiry sentinel, got %v", d)
	}

	auth.ResetPasswordExpiresIn = "36h"
	if d, err = auth.ResetPasswordExpiry(); err != nil || d != 36*time.Hour {
		t.Fatalf("expected 36h, got %v (%v)", d, err)
	}

	auth.ResetPasswordExpiresIn = "0s"
	if _, err = auth.ResetPasswordExpiry(); err == nil {
		t.Fatal("expected an error for a non-positive duration")
	}

	auth.ResetPasswordExpiresIn = "soon"
	if _, err = auth.ResetPasswordExpiry(); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}

func TestParseLongDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"90m", 90 * time.Minute},
		{"30d", 30 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"0.5d", 12 * time.Hour},
	}

	for _, tc := range cases {
		got, err := parseLongDuration(tc.raw)
		if err != nil {
			t.Fatalf("parseLongDuration(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseLongDuration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := parseLongDuration("5y"); err == nil {
		t.Fatal("expected an error for an unknown suffix")
	}
}

func TestPolicySettingsWildcard(t *testing.T) {
	settings := PasswordPolicySettings{
		AppliesTo:    "*",
		ExpiresAfter: "90d",
	}

	policy, err := settings.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if !policy.AppliesToAll {
		t.Fatal("expected a wildcard policy")
	}
	if policy.ExpiresAfter != 90*24*time.Hour {
		t.Fatalf("unexpected expiry %v", policy.ExpiresAfter)
	}
}

func TestPolicySettingsSelector(t *testing.T) {
	settings := PasswordPolicySettings{
		AppliesTo: map[string]any{
			"users":    []any{"kuid-1"},
			"profiles": []any{"editors"},
			"roles":    []any{"admin"},
		},
		ForbidReusedPasswordCount: 5,
	}

	policy, err := settings.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.AppliesToAll {
		t.Fatal("expected a scoped policy")
	}
	if len(policy.AppliesTo.Users) != 1 || len(policy.AppliesTo.Profiles) != 1 || len(policy.AppliesTo.Roles) != 1 {
		t.Fatalf("unexpected selector %+v", policy.AppliesTo)
	}
}

func TestPolicySettingsRejectsBadSelectors(t *testing.T) {
	cases := []PasswordPolicySettings{
		{AppliesTo: "everyone"},
		{AppliesTo: 42},
		{AppliesTo: map[string]any{}},
		{AppliesTo: map[string]any{"users": []any{}}},
		{AppliesTo: map[string]any{"users": "kuid-1"}},
		{AppliesTo: map[string]any{"groups": []any{"g1"}}},
		{AppliesTo: "*", MinPasswordStrength: 7},
		{AppliesTo: "*", ForbidReusedPasswordCount: -1},
		{AppliesTo: "*", ExpiresAfter: "never"},
	}

	for i, settings := range cases {
		if _, err := settings.Policy(); err == nil {
			t.Fatalf("case %d: expected an error for %+v", i, settings)
		}
	}
}

func TestAuthPoliciesPropagatesErrors(t *testing.T) {
	auth := validAuth()
	auth.PasswordPolicies = []PasswordPolicySettings{{AppliesTo: "nope"}}

	if _, err := auth.Policies(); err == nil {
		t.Fatal("expected an error for an invalid policy")
	}
}

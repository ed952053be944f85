package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/infra/security"
)

type lifecycleFixture struct {
	store     *fakeStore
	directory *fakeDirectory
	events    *fakePublisher
	service   *CredentialService
}

func newLifecycleFixture(t *testing.T, settings LifecycleSettings, policies []domain.PasswordPolicy) *lifecycleFixture {
	t.Helper()

	cipher := newTestCipher(t)
	store := newFakeStore()
	directory := newFakeDirectory()
	events := &fakePublisher{}

	secret, err := security.GenerateResetSecret()
	if err != nil {
		t.Fatalf("GenerateResetSecret: %v", err)
	}
	issuer, err := security.NewResetTokenIssuer(secret, "credential-service", time.Hour)
	if err != nil {
		t.Fatalf("NewResetTokenIssuer: %v", err)
	}

	service := NewCredentialService(
		settings,
		store,
		NewPolicyService(directory, cipher, policies),
		cipher,
		issuer,
		events,
		zap.NewNop(),
	)

	return &lifecycleFixture{
		store:     store,
		directory: directory,
		events:    events,
		service:   service,
	}
}

func TestCreateAndVerify(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	projection, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", "kuid-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if projection.Login != "alice" || projection.PrincipalID != "kuid-1" {
		t.Fatalf("unexpected projection %+v", projection)
	}

	principalID, err := f.service.Verify(ctx, "alice", "S1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if principalID != "kuid-1" {
		t.Fatalf("expected kuid-1, got %q", principalID)
	}

	if len(f.events.created) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(f.events.created))
	}
}

func TestVerifyFailsUniformly(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, wrongSecret := f.service.Verify(ctx, "alice", "not-it")
	_, unknownLogin := f.service.Verify(ctx, "nobody", "S1")

	if !errors.Is(wrongSecret, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for a wrong secret, got %v", wrongSecret)
	}
	if !errors.Is(unknownLogin, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for an unknown login, got %v", unknownLogin)
	}
	if wrongSecret.Error() != unknownLogin.Error() {
		t.Fatal("expected identical failure messages for both causes")
	}
}

func TestCreatePreconditions(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.service.Create(ctx, CredentialCandidate{Login: "alice2", Secret: "S1"}, "kuid-1", "")
	if !errors.Is(err, domain.ErrCredentialExists) {
		t.Fatalf("expected ErrCredentialExists, got %v", err)
	}

	_, err = f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-2", "")
	if !errors.Is(err, domain.ErrLoginTaken) {
		t.Fatalf("expected ErrLoginTaken, got %v", err)
	}

	var badReq *BadRequestError
	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "bob"}, "kuid-3", ""); !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError for a missing password, got %v", err)
	}
}

func TestValidateRejectsClientPrincipalID(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)

	err := f.service.Validate(context.Background(), CredentialCandidate{
		Login:       "alice",
		Secret:      "S1",
		PrincipalID: "kuid-spoofed",
	}, "kuid-1", false)

	var badReq *BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError, got %v", err)
	}
}

func TestValidateLoginConflict(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := f.service.Validate(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-2", false)
	if !errors.Is(err, domain.ErrLoginTaken) {
		t.Fatalf("expected ErrLoginTaken, got %v", err)
	}

	// The same login under its own principal is not a conflict.
	if err := f.service.Validate(ctx, CredentialCandidate{Secret: "S2", Login: "alice"}, "kuid-1", true); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestUpdateRotationTruncatesHistory(t *testing.T) {
	policies := []domain.PasswordPolicy{{AppliesToAll: true, ForbidReusedPasswordCount: 3}}
	f := newLifecycleFixture(t, LifecycleSettings{}, policies)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S0"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	secrets := []string{"S1", "S2", "S3", "S4"}
	for k, secret := range secrets {
		if _, err := f.service.Update(ctx, CredentialCandidate{Secret: secret}, "kuid-1", "kuid-1"); err != nil {
			t.Fatalf("Update #%d: %v", k+1, err)
		}

		doc, ok := f.store.get("alice")
		if !ok {
			t.Fatal("credential disappeared")
		}

		// Retention 3 keeps the active secret plus 2 history entries.
		want := k + 1
		if want > 2 {
			want = 2
		}
		if len(doc.History) != want {
			t.Fatalf("after %d rotations expected %d history entries, got %d", k+1, want, len(doc.History))
		}
	}
}

func TestReuseCycle(t *testing.T) {
	policies := []domain.PasswordPolicy{{AppliesToAll: true, ForbidReusedPasswordCount: 3}}
	f := newLifecycleFixture(t, LifecycleSettings{}, policies)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.service.Update(ctx, CredentialCandidate{Secret: "S2"}, "kuid-1", "kuid-1"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := f.service.Validate(ctx, CredentialCandidate{Secret: "S1"}, "kuid-1", true)
	if !errors.Is(err, domain.ErrReusedPassword) {
		t.Fatalf("expected ErrReusedPassword inside the window, got %v", err)
	}

	for _, secret := range []string{"S3", "S4"} {
		if _, err := f.service.Update(ctx, CredentialCandidate{Secret: secret}, "kuid-1", "kuid-1"); err != nil {
			t.Fatalf("Update(%s): %v", secret, err)
		}
	}

	if err := f.service.Validate(ctx, CredentialCandidate{Secret: "S1"}, "kuid-1", true); err != nil {
		t.Fatalf("expected S1 to fall out of the window, got %v", err)
	}
}

func TestUpdateRenameIsTwoPhase(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.store.calls = nil
	projection, err := f.service.Update(ctx, CredentialCandidate{Login: "alice@corp"}, "kuid-1", "kuid-1")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if projection.Login != "alice@corp" {
		t.Fatalf("unexpected projection %+v", projection)
	}

	if _, ok := f.store.get("alice"); ok {
		t.Fatal("expected the old login to be deleted")
	}
	doc, ok := f.store.get("alice@corp")
	if !ok {
		t.Fatal("expected the new login to exist")
	}
	if doc.PrincipalID != "kuid-1" {
		t.Fatalf("unexpected principal %q", doc.PrincipalID)
	}

	// The rename writes the new document before deleting the old one.
	var createIdx, deleteIdx = -1, -1
	for i, call := range f.store.calls {
		switch call {
		case "create":
			createIdx = i
		case "delete":
			deleteIdx = i
		}
	}
	if createIdx == -1 || deleteIdx == -1 || createIdx > deleteIdx {
		t.Fatalf("unexpected call order %v", f.store.calls)
	}

	// The secret must survive a pure rename.
	if _, err := f.service.Verify(ctx, "alice@corp", "S1"); err != nil {
		t.Fatalf("Verify after rename: %v", err)
	}

	if len(f.events.updated) != 1 || !f.events.updated[0].Renamed || f.events.updated[0].PreviousLogin != "alice" {
		t.Fatalf("unexpected updated events %+v", f.events.updated)
	}
}

func TestUpdateAndDeleteNotFound(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Update(ctx, CredentialCandidate{Secret: "S1"}, "ghost", ""); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound on update, got %v", err)
	}
	if err := f.service.Delete(ctx, "ghost", ""); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound on delete, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.service.Delete(ctx, "kuid-1", ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, err := f.service.Exists(ctx, "kuid-1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected credential to be gone")
	}
	if len(f.events.deleted) != 1 {
		t.Fatalf("expected 1 deleted event, got %d", len(f.events.deleted))
	}
}

func TestGetInfoOmitsSecretMaterial(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", "kuid-9"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	info, err := f.service.GetInfo(ctx, "kuid-1")
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Login != "alice" || info.PrincipalID != "kuid-1" || info.Updater != "kuid-9" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := f.service.GetInfo(ctx, "ghost"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestVerifyExpiredPasswordAttachesResetToken(t *testing.T) {
	policies := []domain.PasswordPolicy{{AppliesToAll: true, ExpiresAfter: 24 * time.Hour}}
	f := newLifecycleFixture(t, LifecycleSettings{}, policies)
	ctx := context.Background()

	createdAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f.service.WithClock(func() time.Time { return createdAt })

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", "kuid-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.service.WithClock(func() time.Time { return createdAt.Add(48 * time.Hour) })

	_, err := f.service.Verify(ctx, "alice", "S1")
	var expired *domain.ExpiredPasswordError
	if !errors.As(err, &expired) {
		t.Fatalf("expected ExpiredPasswordError, got %v", err)
	}
	if expired.ResetToken == "" {
		t.Fatal("expected an attached reset token")
	}
	if !errors.Is(err, domain.ErrExpiredPassword) {
		t.Fatal("expected the sentinel to match")
	}
	if len(f.events.tokens) != 1 {
		t.Fatalf("expected 1 token event, got %d", len(f.events.tokens))
	}
}

func TestVerifyForcedRotationAttachesResetToken(t *testing.T) {
	policies := []domain.PasswordPolicy{{AppliesToAll: true, MustChangePasswordIfSetByAdmin: true}}
	f := newLifecycleFixture(t, LifecycleSettings{}, policies)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", "kuid-admin"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.service.Verify(ctx, "alice", "S1")
	var mustChange *domain.MustChangePasswordError
	if !errors.As(err, &mustChange) {
		t.Fatalf("expected MustChangePasswordError, got %v", err)
	}
	if mustChange.ResetToken == "" {
		t.Fatal("expected an attached reset token")
	}

	// Rotating through the reset flow clears the forced-rotation state.
	if _, err := f.service.ResetPassword(ctx, "S2", mustChange.ResetToken); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.service.Verify(ctx, "alice", "S2"); err != nil {
		t.Fatalf("Verify after reset: %v", err)
	}
}

func TestVerifyMigratesLegacyEncoding(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	legacy := domain.EncodingDescriptor{Algorithm: "sha512", Mode: domain.EncryptionModeHash}
	cipher := newTestCipher(t)
	encoded, err := cipher.Encode("S1", "legacy-salt", legacy)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f.store.docs["alice"] = domain.Credential{
		Login:       "alice",
		PrincipalID: "kuid-1",
		SecretHash:  encoded,
		Salt:        "legacy-salt",
		Algorithm:   legacy.Algorithm,
		Mode:        legacy.Mode,
	}

	if _, err := f.service.Verify(ctx, "alice", "S1"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	doc, ok := f.store.get("alice")
	if !ok {
		t.Fatal("credential disappeared")
	}
	if doc.Algorithm != "sha256" || doc.Mode != domain.EncryptionModeHMAC {
		t.Fatalf("expected re-encoding under current defaults, got %s/%s", doc.Algorithm, doc.Mode)
	}

	// The migrated document still verifies and is not migrated twice.
	f.store.calls = nil
	if _, err := f.service.Verify(ctx, "alice", "S1"); err != nil {
		t.Fatalf("Verify after migration: %v", err)
	}
	for _, call := range f.store.calls {
		if call == "update" || call == "create" {
			t.Fatalf("unexpected write during an up-to-date login: %v", f.store.calls)
		}
	}
}

func TestResetPasswordValidatesInput(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	var badReq *BadRequestError
	if _, err := f.service.ResetPassword(ctx, " ", "token"); !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError for a blank password, got %v", err)
	}
	if _, err := f.service.ResetPassword(ctx, "S2", ""); !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError for a blank token, got %v", err)
	}
	if _, err := f.service.ResetPassword(ctx, "S2", "not-a-token"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssueResetToken(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{}, nil)
	ctx := context.Background()

	if _, err := f.service.IssueResetToken(ctx, "ghost"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	token, err := f.service.IssueResetToken(ctx, "kuid-1")
	if err != nil {
		t.Fatalf("IssueResetToken: %v", err)
	}

	principalID, err := f.service.ResetPassword(ctx, "S2", token)
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if principalID != "kuid-1" {
		t.Fatalf("expected kuid-1, got %q", principalID)
	}

	if _, err := f.service.Verify(ctx, "alice", "S1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected the old secret to be rejected, got %v", err)
	}
	if _, err := f.service.Verify(ctx, "alice", "S2"); err != nil {
		t.Fatalf("Verify with the new secret: %v", err)
	}
}

func TestCurrentSecretConfirmation(t *testing.T) {
	f := newLifecycleFixture(t, LifecycleSettings{RequirePassword: true}, nil)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CredentialCandidate{Login: "alice", Secret: "S1"}, "kuid-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.service.Update(ctx, CredentialCandidate{Secret: "S2"}, "kuid-1", "kuid-1")
	if !errors.Is(err, domain.ErrPasswordConfirmationRequired) {
		t.Fatalf("expected ErrPasswordConfirmationRequired, got %v", err)
	}

	_, err = f.service.Update(ctx, CredentialCandidate{Secret: "S2", CurrentSecret: "wrong"}, "kuid-1", "kuid-1")
	if !errors.Is(err, domain.ErrPasswordConfirmationFailed) {
		t.Fatalf("expected ErrPasswordConfirmationFailed, got %v", err)
	}

	if _, err := f.service.Update(ctx, CredentialCandidate{Secret: "S2", CurrentSecret: "S1"}, "kuid-1", "kuid-1"); err != nil {
		t.Fatalf("Update with confirmation: %v", err)
	}

	// Confirmation fails identically whether or not the target exists.
	err = f.service.Delete(ctx, "ghost", "anything")
	if !errors.Is(err, domain.ErrPasswordConfirmationFailed) {
		t.Fatalf("expected ErrPasswordConfirmationFailed for an absent target, got %v", err)
	}
}

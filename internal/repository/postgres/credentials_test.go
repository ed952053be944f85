package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/repository"
)

func newCredentialFixture(t *testing.T) (pgxmock.PgxPoolIface, *CredentialRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return mock, NewCredentialRepository(mock)
}

func sampleCredential() domain.Credential {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Credential{
		Login:       "alice",
		PrincipalID: "kuid-1",
		SecretHash:  "deadbeef",
		Salt:        "salty",
		Algorithm:   "sha512",
		Stretching:  true,
		Mode:        domain.EncryptionModeHMAC,
		Updater:     "kuid-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCredentialRepository_Create(t *testing.T) {
	mock, repo := newCredentialFixture(t)
	credential := sampleCredential()

	mock.ExpectExec(`INSERT INTO credentials`).
		WithArgs(
			credential.Login,
			credential.PrincipalID,
			credential.SecretHash,
			credential.Salt,
			credential.Algorithm,
			credential.Stretching,
			credential.Mode,
			credential.Pepper,
			[]byte(`[]`),
			credential.Updater,
			credential.CreatedAt,
			credential.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := repo.Create(context.Background(), credential, port.WriteOptions{Refresh: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Login != credential.Login {
		t.Fatalf("unexpected created credential %+v", created)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRepository_GetNotFound(t *testing.T) {
	mock, repo := newCredentialFixture(t)

	mock.ExpectQuery(`SELECT .+ FROM credentials`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRepository_Get(t *testing.T) {
	mock, repo := newCredentialFixture(t)
	credential := sampleCredential()

	rows := pgxmock.NewRows(credentialColumns).AddRow(
		credential.Login,
		credential.PrincipalID,
		credential.SecretHash,
		credential.Salt,
		credential.Algorithm,
		credential.Stretching,
		credential.Mode,
		credential.Pepper,
		[]byte(`[{"secretHash":"old","salt":"s","algorithm":"sha256","stretching":false,"mode":"hash","pepper":false,"archivedAt":"2026-02-01T00:00:00Z","supersededAt":"2026-01-01T00:00:00Z"}]`),
		credential.Updater,
		credential.CreatedAt,
		credential.UpdatedAt,
	)

	mock.ExpectQuery(`SELECT .+ FROM credentials`).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.PrincipalID != "kuid-1" {
		t.Fatalf("unexpected credential %+v", got)
	}
	if len(got.History) != 1 || got.History[0].SecretHash != "old" {
		t.Fatalf("unexpected history %+v", got.History)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRepository_UpdateNotFound(t *testing.T) {
	mock, repo := newCredentialFixture(t)
	credential := sampleCredential()

	mock.ExpectExec(`UPDATE credentials`).
		WithArgs(
			credential.PrincipalID,
			credential.SecretHash,
			credential.Salt,
			credential.Algorithm,
			credential.Stretching,
			credential.Mode,
			credential.Pepper,
			[]byte(`[]`),
			credential.Updater,
			credential.UpdatedAt,
			credential.Login,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), credential, port.WriteOptions{})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRepository_Search(t *testing.T) {
	mock, repo := newCredentialFixture(t)
	credential := sampleCredential()

	rows := pgxmock.NewRows(credentialColumns).AddRow(
		credential.Login,
		credential.PrincipalID,
		credential.SecretHash,
		credential.Salt,
		credential.Algorithm,
		credential.Stretching,
		credential.Mode,
		credential.Pepper,
		[]byte(`[]`),
		credential.Updater,
		credential.CreatedAt,
		credential.UpdatedAt,
	)

	mock.ExpectQuery(`SELECT .+ FROM credentials`).
		WithArgs("kuid-1").
		WillReturnRows(rows)

	result, err := repo.Search(context.Background(), port.CredentialQuery{PrincipalID: "kuid-1"})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Total != 1 || len(result.Hits) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Hits[0].Login != "alice" {
		t.Fatalf("unexpected hit %+v", result.Hits[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRepository_Delete(t *testing.T) {
	mock, repo := newCredentialFixture(t)

	mock.ExpectExec(`DELETE FROM credentials`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := repo.Delete(context.Background(), "alice", port.WriteOptions{Refresh: true}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/repository"
)

const uniqueViolation = "23505"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var credentialColumns = []string{
	"login",
	"principal_id",
	"secret_hash",
	"salt",
	"algorithm",
	"stretching",
	"mode",
	"pepper",
	"history",
	"updater",
	"created_at",
	"updated_at",
}

// CredentialRepository implements port.CredentialStore using PostgreSQL.
// Documents are keyed by login; reads are consistent with committed writes,
// so WriteOptions.Refresh is a no-op here.
type CredentialRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCredentialRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewCredentialRepository(exec pgExecutor) *CredentialRepository {
	repo := &CredentialRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the
// supplied transaction.
func (r *CredentialRepository) WithTx(tx pgx.Tx) *CredentialRepository {
	if tx == nil {
		return r
	}
	return &CredentialRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Get retrieves the credential stored under a login.
func (r *CredentialRepository) Get(ctx context.Context, login string) (*domain.Credential, error) {
	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From("credentials").
		Where(squirrel.Eq{"login": login}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential sql: %w", err)
	}

	credential, err := scanCredential(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select credential: %w", err)
	}

	return credential, nil
}

// Search returns the credentials matching the query. Only exact principal-id
// matching is supported.
func (r *CredentialRepository) Search(ctx context.Context, query port.CredentialQuery) (*port.CredentialSearchResult, error) {
	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From("credentials").
		Where(squirrel.Eq{"principal_id": query.PrincipalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search credentials sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search credentials: %w", err)
	}
	defer rows.Close()

	result := &port.CredentialSearchResult{}
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		result.Hits = append(result.Hits, *credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	result.Total = len(result.Hits)
	return result, nil
}

// Create inserts a new credential row.
func (r *CredentialRepository) Create(ctx context.Context, credential domain.Credential, _ port.WriteOptions) (*domain.Credential, error) {
	history, err := marshalHistory(credential.History)
	if err != nil {
		return nil, err
	}

	stmt, args, err := r.builder.
		Insert("credentials").
		Columns(credentialColumns...).
		Values(
			credential.Login,
			credential.PrincipalID,
			credential.SecretHash,
			credential.Salt,
			credential.Algorithm,
			credential.Stretching,
			credential.Mode,
			credential.Pepper,
			history,
			credential.Updater,
			credential.CreatedAt,
			credential.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert credential sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	return &credential, nil
}

// Update replaces the credential row stored under the credential's login.
func (r *CredentialRepository) Update(ctx context.Context, credential domain.Credential, _ port.WriteOptions) error {
	history, err := marshalHistory(credential.History)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.
		Update("credentials").
		Set("principal_id", credential.PrincipalID).
		Set("secret_hash", credential.SecretHash).
		Set("salt", credential.Salt).
		Set("algorithm", credential.Algorithm).
		Set("stretching", credential.Stretching).
		Set("mode", credential.Mode).
		Set("pepper", credential.Pepper).
		Set("history", history).
		Set("updater", credential.Updater).
		Set("updated_at", credential.UpdatedAt).
		Where(squirrel.Eq{"login": credential.Login}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes the credential stored under a login.
func (r *CredentialRepository) Delete(ctx context.Context, login string, _ port.WriteOptions) error {
	stmt, args, err := r.builder.
		Delete("credentials").
		Where(squirrel.Eq{"login": login}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete credential sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var (
		credential domain.Credential
		history    []byte
	)

	if err := row.Scan(
		&credential.Login,
		&credential.PrincipalID,
		&credential.SecretHash,
		&credential.Salt,
		&credential.Algorithm,
		&credential.Stretching,
		&credential.Mode,
		&credential.Pepper,
		&history,
		&credential.Updater,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &credential.History); err != nil {
			return nil, fmt.Errorf("decode password history: %w", err)
		}
	}

	return &credential, nil
}

func marshalHistory(history []domain.PasswordVersion) ([]byte, error) {
	if history == nil {
		history = []domain.PasswordVersion{}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode password history: %w", err)
	}
	return encoded, nil
}

var _ port.CredentialStore = (*CredentialRepository)(nil)

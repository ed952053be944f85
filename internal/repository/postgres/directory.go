package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/repository"
)

// DirectoryRepository implements port.IdentityDirectory against the replicated
// principal and profile tables. The directory is read-only from this service.
type DirectoryRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewDirectoryRepository(exec pgExecutor) *DirectoryRepository {
	repo := &DirectoryRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// GetPrincipal retrieves a principal and its profile memberships.
func (r *DirectoryRepository) GetPrincipal(ctx context.Context, principalID string) (*domain.Principal, error) {
	stmt, args, err := r.builder.
		Select("id", "profile_ids").
		From("principals").
		Where(squirrel.Eq{"id": principalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	var principal domain.Principal
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&principal.ID, &principal.ProfileIDs); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select principal: %w", err)
	}

	return &principal, nil
}

// GetProfiles retrieves the profiles with the given ids. Missing ids are
// silently skipped.
func (r *DirectoryRepository) GetProfiles(ctx context.Context, profileIDs []string) ([]domain.Profile, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}

	stmt, args, err := r.builder.
		Select("id", "policies").
		From("profiles").
		Where(squirrel.Eq{"id": profileIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profiles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var (
			profile  domain.Profile
			policies []byte
		)
		if err := rows.Scan(&profile.ID, &policies); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if len(policies) > 0 {
			if err := json.Unmarshal(policies, &profile.Policies); err != nil {
				return nil, fmt.Errorf("decode profile policies: %w", err)
			}
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return profiles, nil
}

var _ port.IdentityDirectory = (*DirectoryRepository)(nil)

package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/security"
)

const resetSecretSetting = "reset_token_secret"

// SettingsRepository implements port.SecretProvider on top of a settings
// table keyed by name.
type SettingsRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewSettingsRepository(exec pgExecutor) *SettingsRepository {
	repo := &SettingsRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// ResetTokenSecret returns the deployment-wide reset-token signing secret,
// generating and persisting it on first use. Bootstrap is optimistic: insert
// a fresh secret, and when a concurrent writer got there first the insert
// affects no row and the winning value is read back instead.
func (r *SettingsRepository) ResetTokenSecret(ctx context.Context) (string, error) {
	if secret, err := r.read(ctx); err == nil {
		return secret, nil
	} else if err != pgx.ErrNoRows {
		return "", fmt.Errorf("read reset token secret: %w", err)
	}

	secret, err := security.GenerateResetSecret()
	if err != nil {
		return "", err
	}

	stmt, args, err := r.builder.
		Insert("service_settings").
		Columns("name", "value").
		Values(resetSecretSetting, secret).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert setting sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return "", fmt.Errorf("insert reset token secret: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return secret, nil
	}

	winner, err := r.read(ctx)
	if err != nil {
		return "", fmt.Errorf("read reset token secret after conflict: %w", err)
	}
	return winner, nil
}

func (r *SettingsRepository) read(ctx context.Context) (string, error) {
	stmt, args, err := r.builder.
		Select("value").
		From("service_settings").
		Where(squirrel.Eq{"name": resetSecretSetting}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build select setting sql: %w", err)
	}

	var value string
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

var _ port.SecretProvider = (*SettingsRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Upsert はaccount_idをキーにプロフィールを冪等に作成または更新する。
// 同じアカウントで複数回呼ばれても行は1件のまま維持される。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, account_id, role, full_name, role_in_clinic, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (account_id) DO UPDATE SET
		     role = EXCLUDED.role,
		     full_name = EXCLUDED.full_name,
		     role_in_clinic = EXCLUDED.role_in_clinic,
		     updated_at = now()
		 RETURNING id, created_at, updated_at`,
		profile.ID, profile.AccountID, profile.Role, profile.FullName, profile.RoleInClinic,
	).Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// FindByAccountID はアカウントIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Profile, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, nil
	}

	profile := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, role, full_name, role_in_clinic, created_at, updated_at
		 FROM profiles WHERE account_id = $1`,
		accountID,
	).Scan(
		&profile.ID, &profile.AccountID, &profile.Role, &profile.FullName,
		&profile.RoleInClinic, &profile.CreatedAt, &profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	return profile, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

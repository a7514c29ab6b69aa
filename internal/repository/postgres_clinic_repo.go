package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// PostgresClinicRepo はPostgreSQLを使用したクリニックリポジトリ。
type PostgresClinicRepo struct {
	db *sql.DB
}

// NewPostgresClinicRepo はPostgresClinicRepoを生成する。
func NewPostgresClinicRepo(db *sql.DB) *PostgresClinicRepo {
	return &PostgresClinicRepo{db: db}
}

// FindByID は指定IDのクリニックを取得する。見つからない場合はnilを返す。
func (r *PostgresClinicRepo) FindByID(ctx context.Context, id string) (*model.Clinic, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var (
		clinic       model.Clinic
		claimToken   sql.NullString
		ownerAccount sql.NullString
		email        sql.NullString
		phone        sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, claim_token, claimed, owner_account_id, email, phone, created_at, updated_at
		 FROM clinics
		 WHERE id = $1`,
		id,
	).Scan(
		&clinic.ID, &clinic.Name, &claimToken, &clinic.Claimed, &ownerAccount,
		&email, &phone, &clinic.CreatedAt, &clinic.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find clinic: %w", err)
	}

	if claimToken.Valid {
		clinic.ClaimToken = &claimToken.String
	}
	if ownerAccount.Valid {
		clinic.OwnerAccountID = &ownerAccount.String
	}
	clinic.Email = email.String
	clinic.Phone = phone.String

	return &clinic, nil
}

// ClaimIfUnclaimed は未クレームかつトークン一致の場合のみクリニックを所有アカウントに紐付ける。
func (r *PostgresClinicRepo) ClaimIfUnclaimed(ctx context.Context, clinicID, expectedToken, ownerAccountID string) error {
	if _, err := uuid.Parse(clinicID); err != nil {
		return ErrConflict
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE clinics
		 SET claimed = true, owner_account_id = $3, claim_token = NULL, updated_at = now()
		 WHERE id = $1 AND claimed = false AND claim_token = $2`,
		clinicID, expectedToken, ownerAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to claim clinic: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// IssueClaimToken は未クレームのクリニックにクレームトークンを設定する。
func (r *PostgresClinicRepo) IssueClaimToken(ctx context.Context, clinicID, token string) error {
	if _, err := uuid.Parse(clinicID); err != nil {
		return ErrConflict
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE clinics SET claim_token = $2, updated_at = now()
		 WHERE id = $1 AND claimed = false`,
		clinicID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to issue claim token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// compile-time interface check
var _ ClinicRepository = (*PostgresClinicRepo)(nil)

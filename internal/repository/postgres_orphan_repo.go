package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// PostgresOrphanRepo はPostgreSQLを使用した孤立アカウントリポジトリ。
type PostgresOrphanRepo struct {
	db *sql.DB
}

// NewPostgresOrphanRepo はPostgresOrphanRepoを生成する。
func NewPostgresOrphanRepo(db *sql.DB) *PostgresOrphanRepo {
	return &PostgresOrphanRepo{db: db}
}

// Record は孤立アカウントを記録する。
func (r *PostgresOrphanRepo) Record(ctx context.Context, orphan *model.OrphanedAccount) error {
	if orphan.ID == "" {
		orphan.ID = uuid.New().String()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO orphaned_accounts (id, account_id, clinic_id, reason, detail)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		orphan.ID, orphan.AccountID, orphan.ClinicID, string(orphan.Reason), orphan.Detail,
	).Scan(&orphan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record orphaned account: %w", err)
	}
	return nil
}

// ListUnresolved は未解決の孤立アカウントを古い順に返す。
func (r *PostgresOrphanRepo) ListUnresolved(ctx context.Context, limit int) ([]*model.OrphanedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, clinic_id, reason, detail, created_at
		 FROM orphaned_accounts
		 WHERE resolved_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned accounts: %w", err)
	}
	defer rows.Close()

	var orphans []*model.OrphanedAccount
	for rows.Next() {
		o := &model.OrphanedAccount{}
		var reason string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.ClinicID, &reason, &o.Detail, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphaned account: %w", err)
		}
		o.Reason = model.OrphanReason(reason)
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orphaned accounts: %w", err)
	}

	return orphans, nil
}

// compile-time interface check
var _ OrphanRepository = (*PostgresOrphanRepo)(nil)

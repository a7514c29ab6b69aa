package codestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// PostgresStore はverification_codesテーブルに確認コードを保持するStore。
// 複数インスタンスでコードを共有できる。
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore はPostgresStoreを生成する。nowがnilの場合はtime.Nowを使用する。
func NewPostgresStore(db *sql.DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

// Put は(clinic_id, channel)をキーにコードをUPSERTする。
func (s *PostgresStore) Put(ctx context.Context, clinicID string, channel model.Channel, code string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_codes (clinic_id, channel, code, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (clinic_id, channel) DO UPDATE SET
		     code = EXCLUDED.code,
		     expires_at = EXCLUDED.expires_at,
		     created_at = now()`,
		clinicID, string(channel), code, s.now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// TakeIfValid はチャネルごとに条件付きDELETEを行い、最初に削除できたチャネルを返す。
func (s *PostgresStore) TakeIfValid(ctx context.Context, clinicID, code string) (model.Channel, bool, error) {
	now := s.now()
	for _, ch := range model.Channels {
		var taken string
		err := s.db.QueryRowContext(ctx,
			`DELETE FROM verification_codes
			 WHERE clinic_id = $1 AND channel = $2 AND code = $3 AND expires_at > $4
			 RETURNING channel`,
			clinicID, string(ch), code, now,
		).Scan(&taken)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to take verification code: %w", err)
		}
		return ch, true, nil
	}
	return "", false, nil
}

// PurgeExpired は期限切れのコードを削除する。
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE expires_at <= $1`,
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge verification codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)

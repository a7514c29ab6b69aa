// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/clinicclaim/internal/model"
)

var (
	// ErrConflict は条件付き更新の前提条件が満たされず、1行も更新されなかったことを示す。
	ErrConflict = errors.New("repository: conditional update matched no rows")

	// ErrDuplicateEmail はメールアドレスが既に登録済みであることを示す。
	ErrDuplicateEmail = errors.New("repository: email already registered")
)

// ClinicRepository はクリニックレジストリの永続化インターフェース。
type ClinicRepository interface {
	// FindByID は指定IDのクリニックを取得する。見つからない場合はnilを返す。
	// IDの形式が不正な場合も見つからない扱いとする。
	FindByID(ctx context.Context, id string) (*model.Clinic, error)

	// ClaimIfUnclaimed はクリニックが未クレームかつクレームトークンが一致する場合のみ、
	// claimed=true、所有アカウント設定、トークン消去を1回の更新で行う。
	// 条件に一致する行がない場合はErrConflictを返す。
	ClaimIfUnclaimed(ctx context.Context, clinicID, expectedToken, ownerAccountID string) error

	// IssueClaimToken は未クレームのクリニックにクレームトークンを設定する。
	// 既存のトークンは上書きされる。クレーム済みの場合はErrConflictを返す。
	IssueClaimToken(ctx context.Context, clinicID, token string) error
}

// AccountRepository は認証アカウントの永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.Account) error

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// Upsert はaccount_idをキーにプロフィールを冪等に作成または更新する。
	// profileのID、CreatedAt、UpdatedAtは保存後の値で上書きされる。
	Upsert(ctx context.Context, profile *model.Profile) error

	// FindByAccountID はアカウントIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByAccountID(ctx context.Context, accountID string) (*model.Profile, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// OrphanRepository はクリニックに紐付かなかったアカウントの記録インターフェース。
type OrphanRepository interface {
	// Record は孤立アカウントを記録する。IDが空の場合は採番する。
	Record(ctx context.Context, orphan *model.OrphanedAccount) error

	// ListUnresolved は未解決の孤立アカウントを古い順に最大limit件返す。
	ListUnresolved(ctx context.Context, limit int) ([]*model.OrphanedAccount, error)
}

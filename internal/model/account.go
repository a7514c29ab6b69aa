// Package model はドメインモデルを定義する。
package model

import "time"

// Account は認証アカウントを表す。
// クレームワークフローを通じて最大1件のクリニックを所有する。
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string // 作成時に申告された氏名
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountAttributes はアカウント作成時に渡すプロフィール属性。
type AccountAttributes struct {
	FullName     string
	RoleInClinic string
}

// ProfileRoleClinic はクリニック運営者のプロフィールロール。
const ProfileRoleClinic = "clinic"

// Profile はアカウントに紐づくユーザープロフィール。
// account_idごとに1件のみ存在する。
type Profile struct {
	ID           string
	AccountID    string
	Role         string
	FullName     string
	RoleInClinic string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はアカウントのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// OrphanReason はクリニックに紐づかなかったアカウントが発生した理由。
type OrphanReason string

const (
	// OrphanReasonConflict は条件付き更新で他のリクエストに先を越された場合。
	OrphanReasonConflict OrphanReason = "claim_conflict"
	// OrphanReasonUpdateFailed はクリニック更新そのものが失敗した場合。
	OrphanReasonUpdateFailed OrphanReason = "claim_update_failed"
)

// OrphanedAccount はアカウント作成後にクリニックへの紐付けに失敗したレコード。
// 自動削除はせず、運用者による手動照合の対象とする。
type OrphanedAccount struct {
	ID         string
	AccountID  string
	ClinicID   string
	Reason     OrphanReason
	Detail     string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

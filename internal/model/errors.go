// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, claim, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidClaimLink       = "INVALID_CLAIM_LINK"
	ErrCodeChannelUnavailable     = "CHANNEL_UNAVAILABLE"
	ErrCodeDeliveryFailed         = "DELIVERY_FAILED"
	ErrCodeInvalidOrExpiredCode   = "INVALID_OR_EXPIRED_CODE"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeAccountCreationFailed  = "ACCOUNT_CREATION_FAILED"
	ErrCodeClaimUpdateFailed      = "CLAIM_UPDATE_FAILED"
	ErrCodeVerificationRequired   = "VERIFICATION_REQUIRED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeCSRFValidation         = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewInvalidClaimLinkError はクレームリンクが無効な場合のエラーを生成する。
// クリニックの存在有無やクレーム済みかどうかは区別しない。
func NewInvalidClaimLinkError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClaimLink,
		Message:  "このクレームリンクは無効か、有効期限が切れています。",
		Category: "claim",
		Action:   "クリニック宛てに届いた最新のリンクを開き直すか、サポートにお問い合わせください。",
	}
}

// NewChannelUnavailableError は指定チャネルの連絡先が未登録の場合のエラーを生成する。
func NewChannelUnavailableError(channel Channel) *APIError {
	return &APIError{
		Code:     ErrCodeChannelUnavailable,
		Message:  fmt.Sprintf("このクリニックには%sの連絡先が登録されていません。", channel),
		Category: "claim",
		Action:   "別の確認方法を選択してください。",
	}
}

// NewDeliveryFailedError は確認コードの送信に失敗した場合のエラーを生成する。
func NewDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryFailed,
		Message:  "確認コードを送信できませんでした。",
		Category: "claim",
		Action:   "しばらく待ってから、確認コードを再送信してください。",
	}
}

// NewInvalidOrExpiredCodeError は確認コードが一致しないか期限切れの場合のエラーを生成する。
func NewInvalidOrExpiredCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredCode,
		Message:  "確認コードが正しくないか、有効期限が切れています。",
		Category: "claim",
		Action:   "コードを確認して再入力するか、新しいコードを送信してください。",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレスが登録済みの場合のエラーを生成する。
// クレームの再試行ではなくサインインを案内する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "クレームをやり直さず、既存のアカウントでサインインしてください。",
	}
}

// NewAccountCreationFailedError はアカウント作成に失敗した場合のエラーを生成する。
func NewAccountCreationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountCreationFailed,
		Message:  "アカウントを作成できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewClaimUpdateFailedError はアカウント作成後のクリニック紐付けに失敗した場合のエラーを生成する。
// アカウントは作成済みのため、再試行ではなくサポートへの連絡を案内する。
func NewClaimUpdateFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeClaimUpdateFailed,
		Message:  "アカウントは作成されましたが、クリニックとの紐付けに失敗しました。",
		Category: "system",
		Action:   "再試行せずにサポートへお問い合わせください。担当者が紐付けを完了します。",
	}
}

// NewVerificationRequiredError は確認コードによる本人確認が済んでいない場合のエラーを生成する。
func NewVerificationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationRequired,
		Message:  "連絡先の確認が完了していないか、確認の有効期限が切れています。",
		Category: "claim",
		Action:   "確認コードを再送信し、確認を完了してからお試しください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError はサインイン失敗時のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証の場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "サインインしてください。",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFValidationError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidation,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーの統一エラーを生成する。
// 詳細は返さず、問い合わせ用にリクエストIDを案内する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。解決しない場合はリクエストIDを添えてお問い合わせください。",
	}
}

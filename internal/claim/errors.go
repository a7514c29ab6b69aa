package claim

import (
	"errors"
	"fmt"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// クレームワークフローのエラー。いずれもリクエスト単位で終端し、内部で再試行はしない。
var (
	ErrNotFound               = errors.New("claim: clinic not found")
	ErrAlreadyClaimed         = errors.New("claim: clinic already claimed")
	ErrInvalidToken           = errors.New("claim: invalid claim token")
	ErrChannelUnavailable     = errors.New("claim: channel unavailable")
	ErrDeliveryFailed         = errors.New("claim: verification code delivery failed")
	ErrInvalidOrExpiredCode   = errors.New("claim: invalid or expired code")
	ErrEmailAlreadyRegistered = errors.New("claim: email already registered")
	ErrAccountCreationFailed  = errors.New("claim: account creation failed")
	ErrClaimUpdateFailed      = errors.New("claim: clinic update failed")
	ErrVerificationRequired   = errors.New("claim: verification proof required")
	ErrInvalidInput           = errors.New("claim: invalid input")
)

// InputError は入力値の検証エラー。errors.Is(err, ErrInvalidInput)で判定できる。
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is はErrInvalidInputとの比較でtrueを返す。
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ChannelUnavailableError は指定チャネルの連絡先が未登録であることを示す。
// errors.Is(err, ErrChannelUnavailable)で判定できる。
type ChannelUnavailableError struct {
	Channel model.Channel
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("%v: %s", ErrChannelUnavailable, e.Channel)
}

// Is はErrChannelUnavailableとの比較でtrueを返す。
func (e *ChannelUnavailableError) Is(target error) bool {
	return target == ErrChannelUnavailable
}

// IsInvalidLink はエラーがクレームリンク自体の無効を示すかを判定する。
// 利用者にはクリニックの存在有無やクレーム状態を区別せずに伝える。
func IsInvalidLink(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrInvalidToken)
}

// resultLabel はメトリクス用にエラーを短いラベルへ変換する。
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrChannelUnavailable):
		return "channel_unavailable"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return "invalid_code"
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return "email_registered"
	case errors.Is(err, ErrAccountCreationFailed):
		return "account_failed"
	case errors.Is(err, ErrClaimUpdateFailed):
		return "update_failed"
	case errors.Is(err, ErrVerificationRequired):
		return "verification_required"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

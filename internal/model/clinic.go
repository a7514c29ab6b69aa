// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Clinic はクレーム対象となるクリニックのレコードを表す。
// クレームに関係するフィールドのみを保持する。
type Clinic struct {
	ID             string
	Name           string
	ClaimToken     *string // 未クレームの間のみ存在する。クレーム後はnil
	Claimed        bool    // false→trueの一方向のみ遷移する
	OwnerAccountID *string // クレーム時に1回だけ設定される
	Email          string  // 空の場合はemailチャネル利用不可
	Phone          string  // 空の場合はphoneチャネル利用不可
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContactFor は指定チャネルの連絡先を返す。未登録の場合は空文字列を返す。
func (c *Clinic) ContactFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(c.Email)
	case ChannelPhone:
		return strings.TrimSpace(c.Phone)
	default:
		return ""
	}
}

// ClinicSnapshot はトークン検証済みのクリニック情報。
// クレーム画面の表示と後続ステップで使用する。連絡先はマスク済み。
type ClinicSnapshot struct {
	ClinicID     string
	ClinicName   string
	EmailEnabled bool
	PhoneEnabled bool
	MaskedEmail  string
	MaskedPhone  string
}

// NewClinicSnapshot はClinicからスナップショットを生成する。
func NewClinicSnapshot(c *Clinic) *ClinicSnapshot {
	email := c.ContactFor(ChannelEmail)
	phone := c.ContactFor(ChannelPhone)
	return &ClinicSnapshot{
		ClinicID:     c.ID,
		ClinicName:   c.Name,
		EmailEnabled: email != "",
		PhoneEnabled: phone != "",
		MaskedEmail:  MaskEmail(email),
		MaskedPhone:  MaskPhone(phone),
	}
}

// Channel は検証コードの送信チャネルを表す。
type Channel string

const (
	// ChannelEmail はメールでの送信を示す。
	ChannelEmail Channel = "email"
	// ChannelPhone はSMSでの送信を示す。
	ChannelPhone Channel = "phone"
)

// Channels は照合順序どおりに並べた全チャネル。
// コード照合はemail→phoneの順で行う。
var Channels = []Channel{ChannelEmail, ChannelPhone}

// ParseChannel は文字列をChannelに変換する。
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelPhone:
		return ChannelPhone, true
	default:
		return "", false
	}
}

// VerificationMethod はクレーム確定時に申告される本人確認方法。
type VerificationMethod string

const (
	VerificationMethodEmail  VerificationMethod = "email"
	VerificationMethodPhone  VerificationMethod = "phone"
	VerificationMethodManual VerificationMethod = "manual"
)

// ParseVerificationMethod は文字列をVerificationMethodに変換する。
func ParseVerificationMethod(s string) (VerificationMethod, bool) {
	switch VerificationMethod(strings.ToLower(strings.TrimSpace(s))) {
	case VerificationMethodEmail:
		return VerificationMethodEmail, true
	case VerificationMethodPhone:
		return VerificationMethodPhone, true
	case VerificationMethodManual:
		return VerificationMethodManual, true
	default:
		return "", false
	}
}

// VerificationCode は(clinicID, channel)ごとに1件だけ有効なワンタイムコード。
type VerificationCode struct {
	ClinicID  string
	Channel   Channel
	Code      string
	ExpiresAt time.Time
}

// ClaimResult はクレーム確定の結果。
type ClaimResult struct {
	ClinicID   string
	AccountID  string
	ClinicName string
}

// MaskEmail はメールアドレスのローカル部を先頭1文字を残してマスクする。
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at:]
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// MaskPhone は電話番号の末尾2桁以外をマスクする。
func MaskPhone(phone string) string {
	if len(phone) < 3 {
		return ""
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}

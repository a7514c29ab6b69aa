// Package claim はクリニックのクレームワークフローを提供する。
//
// 未クレームのクリニックに対し、クレームトークンの検証、連絡先への確認コード送信と照合、
// アカウント作成とクリニックへの所有者の紐付けまでを扱う。
// クリニックの更新は「未クレームかつトークン一致」を条件とする1回の条件付き更新で行い、
// 同じトークンで並行にクレームされても成功するのは1件だけになる。
package claim

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/clinicclaim/internal/codestore"
	"github.com/hitoshi/clinicclaim/internal/model"
	"github.com/hitoshi/clinicclaim/internal/notify"
	"github.com/hitoshi/clinicclaim/internal/repository"
)

const instrumentationName = "github.com/hitoshi/clinicclaim/internal/claim"

const (
	minPasswordLength = 8
	// bcryptが扱える入力の上限
	maxPasswordBytes  = 72
	minFullNameLength = 2
)

// Registry はクリニックレジストリへの読み書き。
type Registry interface {
	FindByID(ctx context.Context, id string) (*model.Clinic, error)
	ClaimIfUnclaimed(ctx context.Context, clinicID, expectedToken, ownerAccountID string) error
}

// AccountProvider はアカウント作成とプロフィール作成を行う。
type AccountProvider interface {
	CreateAccount(ctx context.Context, email, password string, attrs model.AccountAttributes) (string, error)
	EnsureProfile(ctx context.Context, accountID string, attrs model.AccountAttributes) error
}

// OrphanRecorder はクリニックに紐付かなかったアカウントを記録する。
type OrphanRecorder interface {
	Record(ctx context.Context, orphan *model.OrphanedAccount) error
}

// TextSanitizer はプロフィール入力からマークアップを取り除く。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// accountDuplicateChecker はアカウント作成エラーがメールアドレス重複かを判定する。
// AccountProviderの実装ごとに重複エラーが異なるため、Depsで差し替えられるようにする。
type accountDuplicateChecker func(err error) bool

// Recorder はワークフローの結果を記録するメトリクスのインターフェース。
type Recorder interface {
	ObserveCodeRequest(channel model.Channel, result string)
	ObserveVerification(result string)
	ObserveFinalize(result string)
	ObserveOrphan(reason model.OrphanReason)
	ObserveNotifyDuration(channel model.Channel, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCodeRequest(model.Channel, string)            {}
func (nopRecorder) ObserveVerification(string)                          {}
func (nopRecorder) ObserveFinalize(string)                              {}
func (nopRecorder) ObserveOrphan(model.OrphanReason)                    {}
func (nopRecorder) ObserveNotifyDuration(model.Channel, time.Duration) {}

// Config はクレームワークフローの設定。
type Config struct {
	CodeTTL                 time.Duration    // 確認コードの有効期間（デフォルト: 10分）
	RequireProof            bool             // 確定時に確認済み証明トークンを必須とするか
	AllowManualVerification bool             // verificationMethod=manualでの確定を許可するか
	Now                     func() time.Time // nilの場合はtime.Now
}

// Deps はServiceの依存関係。
type Deps struct {
	Registry  Registry
	Codes     codestore.Store
	Notifier  notify.Notifier
	Accounts  AccountProvider
	Orphans   OrphanRecorder
	Sanitizer TextSanitizer
	Proofs    *ProofIssuer
	Metrics   Recorder     // nilの場合は記録しない
	Logger    *slog.Logger // nilの場合はslog.Default()

	// IsDuplicateEmail はアカウント作成エラーがメールアドレス重複かを判定する。
	IsDuplicateEmail accountDuplicateChecker
}

// Service はクレームワークフローのオーケストレーター。
// 各メソッドは独立したリクエストとして並行に呼ばれることを前提とする。
type Service struct {
	deps   Deps
	config Config
	tracer trace.Tracer
}

// NewService はServiceを生成する。
func NewService(deps Deps, config Config) *Service {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.IsDuplicateEmail == nil {
		deps.IsDuplicateEmail = func(error) bool { return false }
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = 10 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		deps:   deps,
		config: config,
		tracer: otel.Tracer(instrumentationName),
	}
}

// VerifyResult は確認コード照合の結果。
type VerifyResult struct {
	Channel        model.Channel
	Proof          string
	ProofExpiresAt time.Time
}

// FinalizeInput はクレーム確定の入力。
type FinalizeInput struct {
	ClinicID           string
	Token              string
	Email              string
	Password           string
	FullName           string
	RoleInClinic       string
	VerificationMethod string
	Proof              string
}

// BeginClaim はクレームトークンを検証し、クリニックのスナップショットを返す。副作用はない。
func (s *Service) BeginClaim(ctx context.Context, clinicID, token string) (snap *model.ClinicSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "claim.begin", clinicID)
	defer func() { endSpan(span, err) }()

	clinic, err := s.validate(ctx, clinicID, token)
	if err != nil {
		return nil, err
	}
	return model.NewClinicSnapshot(clinic), nil
}

// RequestCode は確認コードを生成・保存し、クリニックの連絡先へ送信する。
// 送信に失敗してもコードは保存されたまま残り、再要求で上書きされる。
func (s *Service) RequestCode(ctx context.Context, clinicID string, channel model.Channel, token string) (err error) {
	ctx, span := s.startSpan(ctx, "claim.request_code", clinicID)
	span.SetAttributes(attribute.String("channel", string(channel)))
	defer func() {
		s.deps.Metrics.ObserveCodeRequest(channel, resultLabel(err))
		endSpan(span, err)
	}()

	clinic, err := s.validate(ctx, clinicID, token)
	if err != nil {
		return err
	}

	address := clinic.ContactFor(channel)
	if address == "" {
		return &ChannelUnavailableError{Channel: channel}
	}

	code, err := GenerateCode(nil)
	if err != nil {
		return err
	}

	if err := s.deps.Codes.Put(ctx, clinic.ID, channel, code, s.config.CodeTTL); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	start := time.Now()
	sendErr := s.deps.Notifier.Send(ctx, channel, address, code)
	s.deps.Metrics.ObserveNotifyDuration(channel, time.Since(start))
	if sendErr != nil {
		s.deps.Logger.WarnContext(ctx, "verification code delivery failed",
			slog.String("clinic_id", clinic.ID),
			slog.String("channel", string(channel)),
			slog.String("error", sendErr.Error()),
		)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
	}

	s.deps.Logger.InfoContext(ctx, "verification code sent",
		slog.String("clinic_id", clinic.ID),
		slog.String("channel", string(channel)),
	)
	return nil
}

// VerifyCode は確認コードをemail、phoneの順に照合する。
// 一致したエントリは削除され、同じコードは2回成功しない。
// どちらのチャネルにも一致しない場合、どのチャネルが試されたかは返さない。
func (s *Service) VerifyCode(ctx context.Context, clinicID, token, code string) (result *VerifyResult, err error) {
	ctx, span := s.startSpan(ctx, "claim.verify_code", clinicID)
	defer func() {
		s.deps.Metrics.ObserveVerification(resultLabel(err))
		endSpan(span, err)
	}()

	clinic, err := s.validate(ctx, clinicID, token)
	if err != nil {
		return nil, err
	}

	if !isCodeFormat(code) {
		return nil, ErrInvalidOrExpiredCode
	}

	channel, ok, err := s.deps.Codes.TakeIfValid(ctx, clinic.ID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check verification code: %w", err)
	}
	if !ok {
		return nil, ErrInvalidOrExpiredCode
	}

	result = &VerifyResult{Channel: channel}
	if s.deps.Proofs != nil {
		proof, expiresAt, err := s.deps.Proofs.Issue(clinic.ID, channel)
		if err != nil {
			return nil, err
		}
		result.Proof = proof
		result.ProofExpiresAt = expiresAt
	}

	s.deps.Logger.InfoContext(ctx, "verification code accepted",
		slog.String("clinic_id", clinic.ID),
		slog.String("channel", string(channel)),
	)
	return result, nil
}

// FinalizeClaim はアカウントを作成し、クリニックをそのアカウントに紐付ける。
//
// トークン検証、入力検証、証明トークンの検証の順に行う。いずれもアカウント作成より前で、失敗時は何も変更しない。
// アカウント作成後に紐付けができなかった場合、アカウントは削除せず孤立アカウントとして記録する。
func (s *Service) FinalizeClaim(ctx context.Context, in FinalizeInput) (result *model.ClaimResult, err error) {
	ctx, span := s.startSpan(ctx, "claim.finalize", in.ClinicID)
	defer func() {
		s.deps.Metrics.ObserveFinalize(resultLabel(err))
		endSpan(span, err)
	}()

	clinic, err := s.validate(ctx, in.ClinicID, in.Token)
	if err != nil {
		return nil, err
	}

	attrs, method, err := s.normalizeFinalizeInput(&in)
	if err != nil {
		return nil, err
	}

	if err := s.checkVerification(clinic.ID, method, in.Proof); err != nil {
		return nil, err
	}

	accountID, err := s.deps.Accounts.CreateAccount(ctx, in.Email, in.Password, attrs)
	if err != nil {
		if s.deps.IsDuplicateEmail(err) {
			return nil, ErrEmailAlreadyRegistered
		}
		s.deps.Logger.ErrorContext(ctx, "account creation failed",
			slog.String("clinic_id", clinic.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrAccountCreationFailed, err)
	}
	span.SetAttributes(attribute.String("account_id", accountID))

	if err := s.deps.Accounts.EnsureProfile(ctx, accountID, attrs); err != nil {
		s.deps.Logger.WarnContext(ctx, "profile creation failed, continuing claim",
			slog.String("clinic_id", clinic.ID),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.deps.Registry.ClaimIfUnclaimed(ctx, clinic.ID, in.Token, accountID); err != nil {
		reason := model.OrphanReasonUpdateFailed
		failure := ErrClaimUpdateFailed
		if errors.Is(err, repository.ErrConflict) {
			reason = model.OrphanReasonConflict
			failure = ErrAlreadyClaimed
		}
		s.recordOrphan(ctx, accountID, clinic.ID, reason, err)
		return nil, fmt.Errorf("%w: account %s: %v", failure, accountID, err)
	}

	s.deps.Logger.InfoContext(ctx, "clinic claimed",
		slog.String("clinic_id", clinic.ID),
		slog.String("account_id", accountID),
		slog.String("verification_method", string(method)),
	)

	return &model.ClaimResult{
		ClinicID:   clinic.ID,
		AccountID:  accountID,
		ClinicName: clinic.Name,
	}, nil
}

// validate はクリニックの存在、クレーム状態、トークンの順に検証する。
func (s *Service) validate(ctx context.Context, clinicID, token string) (*model.Clinic, error) {
	clinic, err := s.deps.Registry.FindByID(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load clinic: %w", err)
	}
	if clinic == nil {
		return nil, ErrNotFound
	}
	if clinic.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if clinic.ClaimToken == nil || !tokensEqual(*clinic.ClaimToken, token) {
		return nil, ErrInvalidToken
	}
	return clinic, nil
}

// checkVerification は申告された確認方法と証明トークンを検証する。
func (s *Service) checkVerification(clinicID string, method model.VerificationMethod, proof string) error {
	if method == model.VerificationMethodManual {
		if !s.config.AllowManualVerification {
			return fmt.Errorf("%w: manual verification is disabled", ErrVerificationRequired)
		}
		return nil
	}
	if !s.config.RequireProof {
		return nil
	}
	if proof == "" || s.deps.Proofs == nil {
		return ErrVerificationRequired
	}

	channel, err := s.deps.Proofs.Verify(proof, clinicID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRequired, err)
	}
	if string(channel) != string(method) {
		return fmt.Errorf("%w: proof channel %s does not match %s", ErrVerificationRequired, channel, method)
	}
	return nil
}

// normalizeFinalizeInput は確定入力を検証し、サニタイズ済みのプロフィール属性を返す。
func (s *Service) normalizeFinalizeInput(in *FinalizeInput) (model.AccountAttributes, model.VerificationMethod, error) {
	var attrs model.AccountAttributes

	in.Email = strings.TrimSpace(in.Email)
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return attrs, "", &InputError{Field: "email", Reason: "must be a valid email address"}
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return attrs, "", &InputError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if len(in.Password) > maxPasswordBytes {
		return attrs, "", &InputError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)}
	}

	fullName, role := in.FullName, in.RoleInClinic
	if s.deps.Sanitizer != nil {
		fullName = s.deps.Sanitizer.SanitizeText(fullName)
		role = s.deps.Sanitizer.SanitizeText(role)
	}
	if utf8.RuneCountInString(fullName) < minFullNameLength {
		return attrs, "", &InputError{Field: "fullName", Reason: fmt.Sprintf("must be at least %d characters", minFullNameLength)}
	}
	if role == "" {
		return attrs, "", &InputError{Field: "roleInClinic", Reason: "is required"}
	}

	method, ok := model.ParseVerificationMethod(in.VerificationMethod)
	if !ok {
		return attrs, "", &InputError{Field: "verificationMethod", Reason: "must be one of email, phone, manual"}
	}

	attrs.FullName = fullName
	attrs.RoleInClinic = role
	return attrs, method, nil
}

// recordOrphan は紐付けに失敗したアカウントを記録する。
// リクエストがキャンセルされていても記録は行う。
func (s *Service) recordOrphan(ctx context.Context, accountID, clinicID string, reason model.OrphanReason, cause error) {
	s.deps.Metrics.ObserveOrphan(reason)
	s.deps.Logger.ErrorContext(ctx, "account created but clinic binding failed",
		slog.String("clinic_id", clinicID),
		slog.String("account_id", accountID),
		slog.String("reason", string(reason)),
		slog.String("error", cause.Error()),
	)

	if s.deps.Orphans == nil {
		return
	}
	orphan := &model.OrphanedAccount{
		AccountID: accountID,
		ClinicID:  clinicID,
		Reason:    reason,
		Detail:    cause.Error(),
	}
	if err := s.deps.Orphans.Record(context.WithoutCancel(ctx), orphan); err != nil {
		s.deps.Logger.ErrorContext(ctx, "failed to record orphaned account",
			slog.String("clinic_id", clinicID),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name, clinicID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("clinic_id", clinicID))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
	}
	span.End()
}

// tokensEqual はトークンを定数時間で比較する。
// 長さの違いも比較時間に現れないよう、ハッシュ値同士を比較する。
func tokensEqual(stored, presented string) bool {
	if presented == "" {
		return false
	}
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

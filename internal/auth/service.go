// Package auth はアカウント作成、パスワード認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/idna"

	"github.com/hitoshi/clinicclaim/internal/model"
	"github.com/hitoshi/clinicclaim/internal/repository"
)

var (
	// ErrDuplicateEmail はメールアドレスが既に登録されていることを示す。
	ErrDuplicateEmail = errors.New("auth: email already registered")

	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを示す。
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrSessionNotFound はセッションが存在しないか期限切れであることを示す。
	ErrSessionNotFound = errors.New("auth: session not found or expired")
)

// dummyHash は存在しないアカウントへのサインイン時にも比較処理を行うためのハッシュ。
// アカウントの有無で応答時間が変わらないようにする。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("clinicclaim-dummy-password"), bcrypt.MinCost)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accountRepo repository.AccountRepository
	profileRepo repository.ProfileRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	profileRepo repository.ProfileRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		accountRepo: accountRepo,
		profileRepo: profileRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// NormalizeEmail はメールアドレスの前後空白を除去し小文字に揃える。
// 国際化ドメインはPunycodeに変換する。変換できない場合は小文字化のみ行う。
func NormalizeEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(normalized, '@')
	if at < 0 || at == len(normalized)-1 {
		return normalized
	}
	domain, err := idna.Lookup.ToASCII(normalized[at+1:])
	if err != nil {
		return normalized
	}
	return normalized[:at+1] + domain
}

// CreateAccount はアカウントを作成し、そのIDを返す。
// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
func (s *Service) CreateAccount(ctx context.Context, email, password string, attrs model.AccountAttributes) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        NormalizeEmail(email),
		PasswordHash: string(hash),
		FullName:     attrs.FullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return "", ErrDuplicateEmail
		}
		return "", fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created", slog.String("account_id", account.ID))
	return account.ID, nil
}

// EnsureProfile はアカウントのプロフィールを冪等に作成し、保存されたことを確認する。
// 同じアカウントで何度呼ばれてもプロフィールは1件に保たれる。
func (s *Service) EnsureProfile(ctx context.Context, accountID string, attrs model.AccountAttributes) error {
	profile := &model.Profile{
		AccountID:    accountID,
		Role:         model.ProfileRoleClinic,
		FullName:     attrs.FullName,
		RoleInClinic: attrs.RoleInClinic,
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	saved, err := s.profileRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to verify profile: %w", err)
	}
	if saved == nil {
		return fmt.Errorf("profile not found after upsert: account_id=%s", accountID)
	}
	return nil
}

// SignIn はメールアドレスとパスワードを検証し、セッションを発行する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	account, err := s.accountRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if account == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("account signed in", slog.String("account_id", account.ID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("account logged out")
	return nil
}

// GetCurrentAccount はセッションから現在のアカウントを取得する。
func (s *Service) GetCurrentAccount(ctx context.Context, sessionID string) (*model.Account, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	account, err := s.accountRepo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, ErrSessionNotFound
	}

	return account, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, accountID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		AccountID: accountID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

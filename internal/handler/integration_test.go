package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/clinicclaim/internal/claim"
	"github.com/hitoshi/clinicclaim/internal/codestore"
	"github.com/hitoshi/clinicclaim/internal/middleware"
	"github.com/hitoshi/clinicclaim/internal/model"
	"github.com/hitoshi/clinicclaim/internal/repository"
	"github.com/hitoshi/clinicclaim/internal/security"
)

// --- 統合テスト用のステートフルモック ---

// integrationState は統合テスト用の共有状態を保持する。
type integrationState struct {
	mu       sync.Mutex
	clinics  map[string]*model.Clinic
	accounts map[string]string // email -> accountID
	orphans  []*model.OrphanedAccount
	sent     map[model.Channel]string
}

func newIntegrationState() *integrationState {
	token := "integration-claim-token"
	return &integrationState{
		clinics: map[string]*model.Clinic{
			handlerClinicID: {
				ID:         handlerClinicID,
				Name:       "Sunrise Clinic",
				ClaimToken: &token,
				Email:      "front@sunrise.example",
				Phone:      "+819012345678",
			},
		},
		accounts: make(map[string]string),
		sent:     make(map[model.Channel]string),
	}
}

func (s *integrationState) FindByID(_ context.Context, id string) (*model.Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clinics[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *integrationState) ClaimIfUnclaimed(_ context.Context, clinicID, expectedToken, ownerAccountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clinics[clinicID]
	if !ok || c.Claimed || c.ClaimToken == nil || *c.ClaimToken != expectedToken {
		return repository.ErrConflict
	}
	c.Claimed = true
	c.ClaimToken = nil
	c.OwnerAccountID = &ownerAccountID
	return nil
}

func (s *integrationState) CreateAccount(_ context.Context, email, _ string, _ model.AccountAttributes) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		return "", errIntegrationDuplicate
	}
	id := "account-" + email
	s.accounts[email] = id
	return id, nil
}

func (s *integrationState) EnsureProfile(context.Context, string, model.AccountAttributes) error {
	return nil
}

func (s *integrationState) Record(_ context.Context, o *model.OrphanedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = append(s.orphans, o)
	return nil
}

func (s *integrationState) Send(_ context.Context, channel model.Channel, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[channel] = code
	return nil
}

func (s *integrationState) lastCode(channel model.Channel) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[channel]
}

var errIntegrationDuplicate = &duplicateError{}

type duplicateError struct{}

func (*duplicateError) Error() string { return "duplicate email" }

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(t *testing.T, state *integrationState) http.Handler {
	t.Helper()

	svc := claim.NewService(claim.Deps{
		Registry:         state,
		Codes:            codestore.NewMemoryStore(nil),
		Notifier:         state,
		Accounts:         state,
		Orphans:          state,
		Sanitizer:        security.NewTextSanitizer(),
		Proofs:           claim.NewProofIssuer([]byte("integration-secret"), 15*time.Minute, nil),
		IsDuplicateEmail: func(err error) bool { return err == errIntegrationDuplicate },
	}, claim.Config{
		CodeTTL:      10 * time.Minute,
		RequireProof: true,
	})

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		SessionFinder:     &mockSessionFinderForRouter{sessions: map[string]*model.Session{}},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		ClaimService:      svc,
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- 統合テスト ---

// クレームリンクを開いてからクリニックの紐付けまでの一連の流れ
func TestIntegration_ClaimFlow(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(t, state)
	base := "/api/claims/" + handlerClinicID
	token := "integration-claim-token"

	// 1. リンクの検証
	w := doJSON(t, router, http.MethodGet, base+"?token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("begin: status = %d, body=%s", w.Code, w.Body.String())
	}
	var begin beginClaimResponse
	json.NewDecoder(w.Body).Decode(&begin)
	if !begin.Channels.Email || !begin.Channels.Phone {
		t.Errorf("channels = %+v, want both enabled", begin.Channels)
	}
	if begin.MaskedEmail == "front@sunrise.example" {
		t.Error("email must be masked")
	}

	// 2. 確認コードの送信
	w = doJSON(t, router, http.MethodPost, base+"/code", map[string]string{"channel": "email", "token": token})
	if w.Code != http.StatusOK {
		t.Fatalf("code: status = %d, body=%s", w.Code, w.Body.String())
	}
	code := state.lastCode(model.ChannelEmail)
	if len(code) != 6 {
		t.Fatalf("sent code = %q, want 6 digits", code)
	}

	// 3. 確認コードの照合
	w = doJSON(t, router, http.MethodPost, base+"/verify", map[string]string{"token": token, "code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status = %d, body=%s", w.Code, w.Body.String())
	}
	var verified verifyCodeResponse
	json.NewDecoder(w.Body).Decode(&verified)
	if verified.Proof == "" {
		t.Fatal("proof should be issued")
	}

	// 同じコードは再利用できない
	w = doJSON(t, router, http.MethodPost, base+"/verify", map[string]string{"token": token, "code": code})
	if w.Code != http.StatusBadRequest {
		t.Errorf("reuse: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// 4. クレームの確定
	finalize := map[string]string{
		"token":              token,
		"email":              "owner@sunrise.example",
		"password":           "s3cret-pass",
		"fullName":           "Jane Doe",
		"roleInClinic":       "owner",
		"verificationMethod": "email",
		"proof":              verified.Proof,
	}
	w = doJSON(t, router, http.MethodPost, base+"/finalize", finalize)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: status = %d, body=%s", w.Code, w.Body.String())
	}
	var result finalizeClaimResponse
	json.NewDecoder(w.Body).Decode(&result)
	if result.AccountID != "account-owner@sunrise.example" || result.ClinicName != "Sunrise Clinic" {
		t.Errorf("unexpected result: %+v", result)
	}

	// 5. クレーム後はリンクが無効になる
	w = doJSON(t, router, http.MethodGet, base+"?token="+token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after claim: status = %d, want %d", w.Code, http.StatusNotFound)
	}
	w = doJSON(t, router, http.MethodPost, base+"/finalize", finalize)
	if w.Code != http.StatusNotFound {
		t.Errorf("second finalize: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.accounts) != 1 {
		t.Errorf("accounts created = %d, want 1", len(state.accounts))
	}
	if len(state.orphans) != 0 {
		t.Errorf("orphans = %d, want 0", len(state.orphans))
	}
}

// 確認なしでの確定は拒否され、アカウントは作成されないこと
func TestIntegration_FinalizeWithoutProofRejected(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(t, state)

	w := doJSON(t, router, http.MethodPost, "/api/claims/"+handlerClinicID+"/finalize", map[string]string{
		"token":              "integration-claim-token",
		"email":              "owner@sunrise.example",
		"password":           "s3cret-pass",
		"fullName":           "Jane Doe",
		"roleInClinic":       "owner",
		"verificationMethod": "email",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusForbidden, w.Body.String())
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.accounts) != 0 {
		t.Errorf("accounts created = %d, want 0", len(state.accounts))
	}
}

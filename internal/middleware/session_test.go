package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/clinicclaim/internal/model"
)

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

var _ SessionFinder = (*mockSessionFinder)(nil)

func sessionFor(accountID string) *mockSessionFinder {
	return &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "valid-session" {
				return nil, nil
			}
			return &model.Session{ID: id, AccountID: accountID, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
}

func TestSessionMiddleware_ValidSession_InjectsAccountID(t *testing.T) {
	var got string
	handler := NewSessionMiddleware(sessionFor("account-1"), CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != "account-1" {
		t.Errorf("accountID = %q, want %q", got, "account-1")
	}
}

func TestSessionMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		cookie      *http.Cookie
		finder      *mockSessionFinder
		wantCleared bool
	}{
		{
			name:   "Cookieなし",
			finder: sessionFor("account-1"),
		},
		{
			name:   "空のCookie",
			cookie: &http.Cookie{Name: SessionCookieName, Value: ""},
			finder: sessionFor("account-1"),
		},
		{
			name:        "期限切れまたは削除済みのセッション",
			cookie:      &http.Cookie{Name: SessionCookieName, Value: "stale-session"},
			finder:      sessionFor("account-1"),
			wantCleared: true,
		},
		{
			name:   "リポジトリエラー",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "valid-session"},
			finder: &mockSessionFinder{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, errors.New("connection refused")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewSessionMiddleware(tt.finder, CookieConfig{Domain: "claims.example.com", Secure: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if called {
				t.Error("next handler should not be called")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decodeErrorBody(t, w.Body.Bytes()).Code; got != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", got, model.ErrCodeUnauthorized)
			}

			var cleared *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == SessionCookieName {
					cleared = c
				}
			}
			if tt.wantCleared {
				if cleared == nil || cleared.MaxAge >= 0 {
					t.Fatalf("expected session cookie to be cleared, got %+v", cleared)
				}
				if cleared.Domain != "claims.example.com" || !cleared.Secure || !cleared.HttpOnly {
					t.Errorf("cleared cookie attributes = %+v", cleared)
				}
			} else if cleared != nil {
				t.Errorf("unexpected Set-Cookie: %+v", cleared)
			}
		})
	}
}

func TestAccountIDFromContext(t *testing.T) {
	if _, err := AccountIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without account ID")
	}

	ctx := ContextWithAccountID(context.Background(), "account-42")
	got, err := AccountIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "account-42" {
		t.Errorf("accountID = %q, want %q", got, "account-42")
	}
}

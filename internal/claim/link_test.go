package claim

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/clinicclaim/internal/repository"
)

type mockTokenWriter struct {
	clinicID string
	token    string
	err      error
}

func (m *mockTokenWriter) IssueClaimToken(ctx context.Context, clinicID, token string) error {
	m.clinicID = clinicID
	m.token = token
	return m.err
}

func TestLinkIssuer_Issue(t *testing.T) {
	w := &mockTokenWriter{}
	issuer := NewLinkIssuer(w, "https://claims.example.com/")

	link, err := issuer.Issue(context.Background(), testClinicID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if w.clinicID != testClinicID {
		t.Errorf("clinicID = %q, want %q", w.clinicID, testClinicID)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link is not a URL: %v", err)
	}
	if u.Path != "/claim/"+testClinicID {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("token"); got != w.token || got == "" {
		t.Errorf("token in link = %q, stored = %q", got, w.token)
	}
}

func TestLinkIssuer_Issue_AlreadyClaimed(t *testing.T) {
	issuer := NewLinkIssuer(&mockTokenWriter{err: repository.ErrConflict}, "https://claims.example.com")

	_, err := issuer.Issue(context.Background(), testClinicID)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("Issue() error = %v, want ErrAlreadyClaimed", err)
	}
}

func TestLinkIssuer_Issue_StoreError(t *testing.T) {
	storeErr := errors.New("db down")
	issuer := NewLinkIssuer(&mockTokenWriter{err: storeErr}, "https://claims.example.com")

	_, err := issuer.Issue(context.Background(), testClinicID)
	if !errors.Is(err, storeErr) {
		t.Errorf("Issue() error = %v, want wrapping %v", err, storeErr)
	}
}

func TestGenerateClaimToken(t *testing.T) {
	a, err := GenerateClaimToken(nil)
	if err != nil {
		t.Fatalf("GenerateClaimToken() error = %v", err)
	}
	b, _ := GenerateClaimToken(nil)
	if a == b {
		t.Error("two tokens should differ")
	}
	if len(a) != 43 {
		t.Errorf("len(token) = %d, want 43", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q should be URL safe", a)
	}

	if _, err := GenerateClaimToken(bytes.NewReader([]byte("short"))); err == nil {
		t.Error("expected error for short reader")
	}
}

func TestClaimLink_EscapesToken(t *testing.T) {
	link := ClaimLink("https://claims.example.com", "c1", "a b&c")
	if link != "https://claims.example.com/claim/c1?token=a+b%26c" {
		t.Errorf("ClaimLink() = %q", link)
	}
}

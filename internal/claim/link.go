package claim

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/hitoshi/clinicclaim/internal/repository"
)

// claimTokenBytes はクレームトークンの乱数バイト数。
const claimTokenBytes = 32

// TokenWriter はクリニックにクレームトークンを設定する。
type TokenWriter interface {
	IssueClaimToken(ctx context.Context, clinicID, token string) error
}

// LinkIssuer はクリニック宛てのクレームリンクを発行する。
type LinkIssuer struct {
	writer  TokenWriter
	baseURL string
	rand    io.Reader
}

// NewLinkIssuer はLinkIssuerを生成する。baseURLはフロントエンドのURL。
func NewLinkIssuer(writer TokenWriter, baseURL string) *LinkIssuer {
	return &LinkIssuer{
		writer:  writer,
		baseURL: strings.TrimRight(baseURL, "/"),
		rand:    rand.Reader,
	}
}

// Issue は新しいクレームトークンを設定し、クレームリンクを返す。
// 以前に発行したリンクは無効になる。クリニックが存在しないかクレーム済みの場合はErrAlreadyClaimedを返す。
func (l *LinkIssuer) Issue(ctx context.Context, clinicID string) (string, error) {
	token, err := GenerateClaimToken(l.rand)
	if err != nil {
		return "", err
	}

	if err := l.writer.IssueClaimToken(ctx, clinicID, token); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return "", ErrAlreadyClaimed
		}
		return "", fmt.Errorf("failed to store claim token: %w", err)
	}

	return ClaimLink(l.baseURL, clinicID, token), nil
}

// GenerateClaimToken はURLセーフなランダムのクレームトークンを返す。
// rがnilの場合はcrypto/randを使用する。
func GenerateClaimToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, claimTokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate claim token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ClaimLink はクレーム画面のURLを組み立てる。
func ClaimLink(baseURL, clinicID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s/claim/%s?%s", strings.TrimRight(baseURL, "/"), url.PathEscape(clinicID), q.Encode())
}

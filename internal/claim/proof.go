package claim

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/clinicclaim/internal/model"
)

const (
	proofIssuer   = "clinicclaim"
	proofAudience = "claim-finalize"
)

// ErrInvalidProof は確認済み証明トークンが無効であることを示す。
var ErrInvalidProof = errors.New("claim: invalid verification proof")

// proofClaims は確認コード照合に成功したことを示す証明トークンのクレーム。
// subjectにクリニックIDを持ち、照合したチャネルを含む。
type proofClaims struct {
	Channel string `json:"chn"`
	jwt.RegisteredClaims
}

// ProofIssuer は確認済み証明トークン（HS256のJWT）を発行・検証する。
type ProofIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProofIssuer はProofIssuerを生成する。nowがnilの場合はtime.Nowを使用する。
func NewProofIssuer(secret []byte, ttl time.Duration, now func() time.Time) *ProofIssuer {
	if now == nil {
		now = time.Now
	}
	return &ProofIssuer{secret: secret, ttl: ttl, now: now}
}

// Issue はclinicIDとchannelに束縛された証明トークンと有効期限を返す。
func (p *ProofIssuer) Issue(clinicID string, channel model.Channel) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := proofClaims{
		Channel: string(channel),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    proofIssuer,
			Subject:   clinicID,
			Audience:  jwt.ClaimStrings{proofAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign verification proof: %w", err)
	}
	return token, expiresAt, nil
}

// Verify は証明トークンを検証し、照合されたチャネルを返す。
// 署名、発行者、宛先、有効期限、クリニックIDのいずれかが一致しない場合はErrInvalidProofを返す。
func (p *ProofIssuer) Verify(tokenString, clinicID string) (model.Channel, error) {
	claims := &proofClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(proofIssuer),
		jwt.WithAudience(proofAudience),
		jwt.WithSubject(clinicID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	channel, ok := model.ParseChannel(claims.Channel)
	if !ok {
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidProof, claims.Channel)
	}
	return channel, nil
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clinicclaim/internal/claim"
	"github.com/hitoshi/clinicclaim/internal/middleware"
	"github.com/hitoshi/clinicclaim/internal/model"
)

// ClaimServiceInterface はクレームハンドラーが必要とするサービスインターフェース。
type ClaimServiceInterface interface {
	BeginClaim(ctx context.Context, clinicID, token string) (*model.ClinicSnapshot, error)
	RequestCode(ctx context.Context, clinicID string, channel model.Channel, token string) error
	VerifyCode(ctx context.Context, clinicID, token, code string) (*claim.VerifyResult, error)
	FinalizeClaim(ctx context.Context, in claim.FinalizeInput) (*model.ClaimResult, error)
}

var _ ClaimServiceInterface = (*claim.Service)(nil)

// ClaimHandler はクリニッククレームのHTTPハンドラー。
type ClaimHandler struct {
	service ClaimServiceInterface
}

// NewClaimHandler はClaimHandlerを生成する。
func NewClaimHandler(service ClaimServiceInterface) *ClaimHandler {
	return &ClaimHandler{service: service}
}

type channelsResponse struct {
	Email bool `json:"email"`
	Phone bool `json:"phone"`
}

// beginClaimResponse はクレーム画面の表示に使うクリニック情報。
type beginClaimResponse struct {
	ClinicID    string           `json:"clinicId"`
	ClinicName  string           `json:"clinicName"`
	Channels    channelsResponse `json:"channels"`
	MaskedEmail string           `json:"maskedEmail,omitempty"`
	MaskedPhone string           `json:"maskedPhone,omitempty"`
}

type requestCodeRequest struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

type requestCodeResponse struct {
	Success bool   `json:"success"`
	Channel string `json:"channel"`
}

type verifyCodeRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type verifyCodeResponse struct {
	Verified       bool       `json:"verified"`
	Channel        string     `json:"channel"`
	Proof          string     `json:"proof,omitempty"`
	ProofExpiresAt *time.Time `json:"proofExpiresAt,omitempty"`
}

type finalizeClaimRequest struct {
	Token              string `json:"token"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	FullName           string `json:"fullName"`
	RoleInClinic       string `json:"roleInClinic"`
	VerificationMethod string `json:"verificationMethod"`
	Proof              string `json:"proof"`
}

type finalizeClaimResponse struct {
	ClinicID   string `json:"clinicId"`
	AccountID  string `json:"accountId"`
	ClinicName string `json:"clinicName"`
}

// BeginClaim はクレームリンクを検証し、クリニック情報を返す。
// GET /api/claims/{clinicID}?token=xxx
func (h *ClaimHandler) BeginClaim(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	token := r.URL.Query().Get("token")

	snap, err := h.service.BeginClaim(r.Context(), clinicID, token)
	if err != nil {
		writeClaimError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, beginClaimResponse{
		ClinicID:   snap.ClinicID,
		ClinicName: snap.ClinicName,
		Channels: channelsResponse{
			Email: snap.EmailEnabled,
			Phone: snap.PhoneEnabled,
		},
		MaskedEmail: snap.MaskedEmail,
		MaskedPhone: snap.MaskedPhone,
	})
}

// RequestCode は確認コードを指定チャネルへ送信する。
// POST /api/claims/{clinicID}/code
func (h *ClaimHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")

	var req requestCodeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	channel, ok := model.ParseChannel(req.Channel)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("channelはemailまたはphoneを指定してください"))
		return
	}

	if err := h.service.RequestCode(r.Context(), clinicID, channel, req.Token); err != nil {
		writeClaimError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, requestCodeResponse{
		Success: true,
		Channel: string(channel),
	})
}

// VerifyCode は確認コードを照合する。
// POST /api/claims/{clinicID}/verify
func (h *ClaimHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")

	var req verifyCodeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.service.VerifyCode(r.Context(), clinicID, req.Token, req.Code)
	if err != nil {
		writeClaimError(w, r, err)
		return
	}

	resp := verifyCodeResponse{
		Verified: true,
		Channel:  string(res.Channel),
		Proof:    res.Proof,
	}
	if !res.ProofExpiresAt.IsZero() {
		resp.ProofExpiresAt = &res.ProofExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// FinalizeClaim はアカウントを作成し、クリニックのクレームを確定する。
// POST /api/claims/{clinicID}/finalize
func (h *ClaimHandler) FinalizeClaim(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")

	var req finalizeClaimRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.service.FinalizeClaim(r.Context(), claim.FinalizeInput{
		ClinicID:           clinicID,
		Token:              req.Token,
		Email:              req.Email,
		Password:           req.Password,
		FullName:           req.FullName,
		RoleInClinic:       req.RoleInClinic,
		VerificationMethod: req.VerificationMethod,
		Proof:              req.Proof,
	})
	if err != nil {
		writeClaimError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, finalizeClaimResponse{
		ClinicID:   res.ClinicID,
		AccountID:  res.AccountID,
		ClinicName: res.ClinicName,
	})
}

// writeClaimError はクレームワークフローのエラーをHTTPレスポンスに変換する。
// リンク無効系のエラーは理由を区別せず同じ404を返す。
func writeClaimError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		inputErr   *claim.InputError
		channelErr *claim.ChannelUnavailableError
	)

	switch {
	case claim.IsInvalidLink(err):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewInvalidClaimLinkError())
	case errors.As(err, &inputErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(inputErr.Error()))
	case errors.As(err, &channelErr):
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewChannelUnavailableError(channelErr.Channel))
	case errors.Is(err, claim.ErrDeliveryFailed):
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewDeliveryFailedError())
	case errors.Is(err, claim.ErrInvalidOrExpiredCode):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidOrExpiredCodeError())
	case errors.Is(err, claim.ErrVerificationRequired):
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewVerificationRequiredError())
	case errors.Is(err, claim.ErrEmailAlreadyRegistered):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewEmailAlreadyRegisteredError())
	case errors.Is(err, claim.ErrAccountCreationFailed):
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewAccountCreationFailedError())
	case errors.Is(err, claim.ErrClaimUpdateFailed):
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewClaimUpdateFailedError())
	default:
		slog.ErrorContext(r.Context(), "internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SMSGatewaySender はSMSゲートウェイのOTPルートで確認コードを送信するSender。
type SMSGatewaySender struct {
	endpoint   string
	apiKey     string
	sender     string
	httpClient *http.Client
}

// NewSMSGatewaySender はSMSGatewaySenderを生成する。
func NewSMSGatewaySender(endpoint, apiKey, sender string, httpClient *http.Client) *SMSGatewaySender {
	return &SMSGatewaySender{
		endpoint:   endpoint,
		apiKey:     apiKey,
		sender:     sender,
		httpClient: httpClient,
	}
}

type smsRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	Sender    string `json:"sender_id,omitempty"`
}

// Send は電話番号へ確認コードを送信する。
// 番号は数字のみに正規化してからゲートウェイへ渡す。
func (s *SMSGatewaySender) Send(ctx context.Context, address, code string) error {
	if s.apiKey == "" {
		return fmt.Errorf("%w: sms API key not configured", ErrDeliveryFailed)
	}

	number := digitsOnly(address)
	if number == "" {
		return fmt.Errorf("%w: phone number has no digits", ErrDeliveryFailed)
	}

	raw, err := json.Marshal(smsRequest{
		Route:     "otp",
		Numbers:   number,
		Variables: code,
		Sender:    s.sender,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: sms gateway status=%d body=%s", ErrDeliveryFailed, resp.StatusCode, string(b))
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// compile-time interface check
var _ Sender = (*SMSGatewaySender)(nil)

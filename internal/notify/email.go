package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// emailSubject は確認コードメールの件名。
const emailSubject = "クリニック登録の確認コード"

// EmailAPISender はHTTPのメール送信APIを使用するSender。
type EmailAPISender struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewEmailAPISender はEmailAPISenderを生成する。
// httpClientには本番ではSSRF防止付きクライアントを渡す。
func NewEmailAPISender(endpoint, apiKey, from string, httpClient *http.Client) *EmailAPISender {
	return &EmailAPISender{
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		httpClient: httpClient,
	}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send は確認コードを含むメールを送信する。コードはログに出力しない。
func (s *EmailAPISender) Send(ctx context.Context, address, code string) error {
	if s.apiKey == "" {
		return fmt.Errorf("%w: email API key not configured", ErrDeliveryFailed)
	}

	raw, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      address,
		Subject: emailSubject,
		Text:    fmt.Sprintf("確認コード: %s\nこのコードの有効期限は10分です。", code),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: email API status=%d body=%s", ErrDeliveryFailed, resp.StatusCode, string(b))
	}
	return nil
}

// compile-time interface check
var _ Sender = (*EmailAPISender)(nil)

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// decodeErrorBody はレスポンスボディを統一エラーフォーマットとしてデコードする。
func decodeErrorBody(t *testing.T, b []byte) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, b)
	}
	return body
}

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewChannelUnavailableError(model.ChannelPhone))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	body := decodeErrorBody(t, w.Body.Bytes())
	if body.Code != model.ErrCodeChannelUnavailable {
		t.Errorf("code = %q", body.Code)
	}
	if body.Category != "claim" {
		t.Errorf("category = %q, want claim", body.Category)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message and action must be set: %+v", body)
	}
	if body.RequestID != "" {
		t.Errorf("requestId = %q, want empty without request ID middleware", body.RequestID)
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["requestId"]; ok {
		t.Error("requestId should be omitted when empty")
	}
}

func TestWriteErrorResponse_CopiesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-123")

	WriteErrorResponse(w, http.StatusInternalServerError, model.NewClaimUpdateFailedError())

	body := decodeErrorBody(t, w.Body.Bytes())
	if body.RequestID != "req-123" {
		t.Errorf("requestId = %q, want req-123", body.RequestID)
	}
	if body.Code != model.ErrCodeClaimUpdateFailed {
		t.Errorf("code = %q", body.Code)
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	body := decodeErrorBody(t, w.Body.Bytes())
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

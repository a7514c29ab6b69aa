package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/clinicclaim/internal/auth"
	"github.com/hitoshi/clinicclaim/internal/codestore"
	"github.com/hitoshi/clinicclaim/internal/config"
	"github.com/hitoshi/clinicclaim/internal/middleware"
	"github.com/hitoshi/clinicclaim/internal/notify"
)

func TestNewCodeStore_Memory(t *testing.T) {
	cfg := &config.Config{CodeStore: config.CodeStoreMemory}

	b, err := newCodeStore(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newCodeStore() error = %v", err)
	}
	defer b.close()

	if b.memory == nil {
		t.Fatal("memory store should be exposed for the sweeper")
	}
	if _, ok := b.store.(*codestore.MemoryStore); !ok {
		t.Errorf("store = %T, want *codestore.MemoryStore", b.store)
	}
}

func TestNewCodeStore_Postgres(t *testing.T) {
	cfg := &config.Config{CodeStore: config.CodeStorePostgres}

	b, err := newCodeStore(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newCodeStore() error = %v", err)
	}
	if _, ok := b.store.(*codestore.PostgresStore); !ok {
		t.Errorf("store = %T, want *codestore.PostgresStore", b.store)
	}
	if b.memory != nil {
		t.Error("memory should be nil for postgres store")
	}
}

func TestNewCodeStore_InvalidRedisURL(t *testing.T) {
	cfg := &config.Config{CodeStore: config.CodeStoreRedis, RedisURL: "://not-a-url"}

	if _, err := newCodeStore(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for invalid REDIS_URL")
	}
}

func TestNewCodeStore_Unsupported(t *testing.T) {
	cfg := &config.Config{CodeStore: "file"}

	if _, err := newCodeStore(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unsupported code store")
	}
}

func TestNewNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	n, err := newNotifier(&config.Config{Notifier: config.NotifierLog}, logger)
	if err != nil {
		t.Fatalf("newNotifier() error = %v", err)
	}
	if _, ok := n.(*notify.LogSender); !ok {
		t.Error("log notifier expected for NOTIFIER=log")
	}

	cfg := &config.Config{
		Notifier:    config.NotifierHTTP,
		EmailAPIURL: "https://mail.example.com/send",
	}
	n, err = newNotifier(cfg, logger)
	if err != nil {
		t.Fatalf("newNotifier() error = %v", err)
	}
	if _, ok := n.(*notify.Router); !ok {
		t.Error("router notifier expected for NOTIFIER=http")
	}
}

// 内部アドレスを指すゲートウェイURLは起動時に拒否されること
func TestNewNotifier_RejectsInternalGateway(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"email loopback", &config.Config{Notifier: config.NotifierHTTP, EmailAPIURL: "http://127.0.0.1:9000/send"}},
		{"sms localhost", &config.Config{Notifier: config.NotifierHTTP, SMSAPIURL: "http://localhost/sms"}},
		{"email bad scheme", &config.Config{Notifier: config.NotifierHTTP, EmailAPIURL: "ftp://mail.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newNotifier(tt.cfg, logger); err == nil {
				t.Error("expected error for internal gateway URL")
			}
		})
	}
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := &config.Config{RateLimitCodeRequests: 3, RateLimitVerify: 0, RateLimitSignIn: 30}

	got := newRateLimiterConfig(cfg)
	def := middleware.DefaultRateLimiterConfig()

	if got.CodeRequestRate != middleware.PerMinute(3) || got.CodeRequestBurst != 3 {
		t.Errorf("code request = (%v, %d), want (%v, 3)", got.CodeRequestRate, got.CodeRequestBurst, middleware.PerMinute(3))
	}
	if got.VerifyRate != def.VerifyRate || got.VerifyBurst != def.VerifyBurst {
		t.Errorf("verify should keep defaults when unset, got (%v, %d)", got.VerifyRate, got.VerifyBurst)
	}
	if got.SignInBurst != 30 {
		t.Errorf("SignInBurst = %d, want 30", got.SignInBurst)
	}
}

func TestIsDuplicateEmail(t *testing.T) {
	if !isDuplicateEmail(fmt.Errorf("create: %w", auth.ErrDuplicateEmail)) {
		t.Error("wrapped ErrDuplicateEmail should be detected")
	}
	if isDuplicateEmail(errors.New("other")) {
		t.Error("unrelated error should not be a duplicate")
	}
}

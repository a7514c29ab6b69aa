package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	CodeRequestRate  rate.Limit    // 確認コード送信のレート（req/sec）。5/60
	CodeRequestBurst int           // 確認コード送信のバーストサイズ
	VerifyRate       rate.Limit    // 確認コード照合のレート（req/sec）。10/60
	VerifyBurst      int           // 確認コード照合のバーストサイズ
	SignInRate       rate.Limit    // サインインのレート（req/sec）。20/60
	SignInBurst      int           // サインインのバーストサイズ
	CleanupInterval  time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 確認コード送信 5 req/min/clinic、照合 10 req/min/clinic、サインイン 20 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		CodeRequestRate:  PerMinute(5),
		CodeRequestBurst: 5,
		VerifyRate:       PerMinute(10),
		VerifyBurst:      10,
		SignInRate:       PerMinute(20),
		SignInBurst:      20,
		CleanupInterval:  5 * time.Minute,
	}
}

// PerMinute は1分あたりの回数をrate.Limitに変換する。
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// KeyFunc はリクエストからレート制限のキーを取り出す。空文字列の場合は制限しない。
type KeyFunc func(r *http.Request) string

// ClinicIDKey はURLパラメータのclinicIDをキーとする。
func ClinicIDKey(r *http.Request) string {
	return chi.URLParam(r, "clinicID")
}

// RemoteIPKey は接続元IPアドレスをキーとする。
func RemoteIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// keyedLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてキーごとのリミッターを管理する。
type limiterSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) middleware(keyFn KeyFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !s.get(key).Allow() {
				writeRateLimitResponse(w, s.rate)
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", s.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はキーごとのレート制限を管理する。
// 確認コード送信、確認コード照合、サインインの3種類を独立に制限する。
type RateLimiter struct {
	config RateLimiterConfig

	codeRequests *limiterSet
	verify       *limiterSet
	signIn       *limiterSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:       config,
		codeRequests: newLimiterSet("code_request", config.CodeRequestRate, config.CodeRequestBurst),
		verify:       newLimiterSet("verify", config.VerifyRate, config.VerifyBurst),
		signIn:       newLimiterSet("signin", config.SignInRate, config.SignInBurst),
		stopCh:       make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// CodeRequestMiddleware は確認コード送信のレート制限ミドルウェアを返す。
func (rl *RateLimiter) CodeRequestMiddleware(keyFn KeyFunc) func(next http.Handler) http.Handler {
	return rl.codeRequests.middleware(keyFn)
}

// VerifyMiddleware は確認コード照合のレート制限ミドルウェアを返す。
// 確認コード送信の制限とは独立に動作する。
func (rl *RateLimiter) VerifyMiddleware(keyFn KeyFunc) func(next http.Handler) http.Handler {
	return rl.verify.middleware(keyFn)
}

// SignInMiddleware はサインインのレート制限ミドルウェアを返す。
func (rl *RateLimiter) SignInMiddleware(keyFn KeyFunc) func(next http.Handler) http.Handler {
	return rl.signIn.middleware(keyFn)
}

// CodeRequestLimiterCount は管理中の確認コード送信リミッター数を返す。テスト用。
func (rl *RateLimiter) CodeRequestLimiterCount() int {
	return rl.codeRequests.len()
}

// VerifyLimiterCount は管理中の確認コード照合リミッター数を返す。テスト用。
func (rl *RateLimiter) VerifyLimiterCount() int {
	return rl.verify.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.codeRequests.evict(now, ttl)
	rl.verify.evict(now, ttl)
	rl.signIn.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}

package codestore

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/clinicclaim/internal/model"
)

type memoryKey struct {
	clinicID string
	channel  model.Channel
}

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore はプロセス内メモリに確認コードを保持するStore。
// 単一インスタンスでの開発・テスト用。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memoryKey]memoryEntry
	now     func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。nowがnilの場合はtime.Nowを使用する。
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[memoryKey]memoryEntry),
		now:     now,
	}
}

// Put はコードを保存する。
func (s *MemoryStore) Put(_ context.Context, clinicID string, channel model.Channel, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[memoryKey{clinicID, channel}] = memoryEntry{
		code:      code,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// TakeIfValid はコードを照合し、一致した場合は削除する。
func (s *MemoryStore) TakeIfValid(_ context.Context, clinicID, code string) (model.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, ch := range model.Channels {
		key := memoryKey{clinicID, ch}
		entry, ok := s.entries[key]
		if !ok {
			continue
		}
		if entry.code == code && now.Before(entry.expiresAt) {
			delete(s.entries, key)
			return ch, true, nil
		}
	}
	return "", false, nil
}

// PurgeExpired は期限切れのエントリを削除する。
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var purged int64
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

// Len は保持しているエントリ数を返す。期限切れで未削除のものも含む。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeper はevery間隔で期限切れエントリを削除する。
// ctxがキャンセルされるまでブロックする。
func (s *MemoryStore) StartSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.PurgeExpired(ctx)
		}
	}
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)

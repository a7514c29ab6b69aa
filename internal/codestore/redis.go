package codestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// redisKeyPrefix は確認コードのキー接頭辞。
const redisKeyPrefix = "clinicclaim:code:"

// takeScript はKEYSを順に調べ、値がARGV[1]と一致した最初のキーを削除してその番号を返す。
// 一致しない場合は0を返す。GETとDELを1スクリプト内で行うため他のクライアントと競合しない。
var takeScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		redis.call("DEL", key)
		return i
	end
end
return 0
`)

// RedisStore はRedisに確認コードを保持するStore。
// 有効期限はRedisのキーTTLで管理する。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore はRedisStoreを生成する。clientのライフサイクルは呼び出し側が管理する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(clinicID string, channel model.Channel) string {
	return redisKeyPrefix + clinicID + ":" + string(channel)
}

// Put はコードをTTL付きで保存する。
func (s *RedisStore) Put(ctx context.Context, clinicID string, channel model.Channel, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(clinicID, channel), code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// TakeIfValid はLuaスクリプトでコードの照合と削除を不可分に行う。
func (s *RedisStore) TakeIfValid(ctx context.Context, clinicID, code string) (model.Channel, bool, error) {
	keys := make([]string, len(model.Channels))
	for i, ch := range model.Channels {
		keys[i] = redisKey(clinicID, ch)
	}

	idx, err := takeScript.Run(ctx, s.client, keys, code).Int()
	if err != nil {
		return "", false, fmt.Errorf("failed to take verification code: %w", err)
	}
	if idx < 1 || idx > len(model.Channels) {
		return "", false, nil
	}
	return model.Channels[idx-1], true, nil
}

// PurgeExpired は何もしない。期限切れのキーはRedisが自動的に削除する。
func (s *RedisStore) PurgeExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)

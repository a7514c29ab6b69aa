//go:build integration

package codestore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/hitoshi/clinicclaim/internal/codestore"
	"github.com/hitoshi/clinicclaim/internal/model"
)

type RedisStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	store     *codestore.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(connStr)
	s.Require().NoError(err)

	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())

	s.store = codestore.NewRedisStore(s.client)
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisStoreSuite) TestPutAndTake() {
	ctx := context.Background()

	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelEmail, "123456", time.Minute))

	ch, ok, err := s.store.TakeIfValid(ctx, "c1", "123456")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(model.ChannelEmail, ch)

	_, ok, err = s.store.TakeIfValid(ctx, "c1", "123456")
	s.Require().NoError(err)
	s.False(ok, "code must be single use")
}

func (s *RedisStoreSuite) TestSupersede() {
	ctx := context.Background()

	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelPhone, "111111", time.Minute))
	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelPhone, "222222", time.Minute))

	_, ok, err := s.store.TakeIfValid(ctx, "c1", "111111")
	s.Require().NoError(err)
	s.False(ok)

	ch, ok, err := s.store.TakeIfValid(ctx, "c1", "222222")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(model.ChannelPhone, ch)
}

func (s *RedisStoreSuite) TestExpiry() {
	ctx := context.Background()

	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelEmail, "123456", 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, ok, err := s.store.TakeIfValid(ctx, "c1", "123456")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestEmailCheckedBeforePhone() {
	ctx := context.Background()

	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelEmail, "999999", time.Minute))
	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelPhone, "999999", time.Minute))

	ch, ok, err := s.store.TakeIfValid(ctx, "c1", "999999")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(model.ChannelEmail, ch)

	ch, ok, err = s.store.TakeIfValid(ctx, "c1", "999999")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(model.ChannelPhone, ch)
}

func (s *RedisStoreSuite) TestConcurrentTakeSucceedsOnce() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "c1", model.ChannelEmail, "123456", time.Minute))

	const goroutines = 20
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.store.TakeIfValid(ctx, "c1", "123456"); err == nil && ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
}

func (s *RedisStoreSuite) TestPurgeExpiredIsNoop() {
	n, err := s.store.PurgeExpired(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

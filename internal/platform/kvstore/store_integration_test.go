//go:build integration

package kvstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"callgate/internal/platform/kvstore"
	"callgate/pkg/testutil/containers"
)

// storeContract runs the same behavioural checks against every durable backend.
type storeContract struct {
	suite.Suite
	store kvstore.Store
}

func (s *storeContract) TestRoundTripAndDelete() {
	ctx := context.Background()
	key := "usage:" + uuid.NewString()

	_, err := s.store.Get(ctx, key)
	s.ErrorIs(err, kvstore.ErrNotFound)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"count":3}`), 0))
	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.JSONEq(`{"count":3}`, string(got))

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"count":4}`), 0))
	got, err = s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.JSONEq(`{"count":4}`, string(got))

	s.Require().NoError(s.store.Delete(ctx, key))
	_, err = s.store.Get(ctx, key)
	s.ErrorIs(err, kvstore.ErrNotFound)
}

func (s *storeContract) TestKeysSnapshotByPrefix() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "usage:a", []byte("1"), 0))
	s.Require().NoError(s.store.Set(ctx, "usage:b", []byte("1"), 0))
	s.Require().NoError(s.store.Set(ctx, "cache:generate:x", []byte("1"), 0))

	keys, err := s.store.Keys(ctx, "usage:")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"usage:a", "usage:b"}, keys)
}

func (s *storeContract) TestTTLExpiry() {
	ctx := context.Background()
	key := "cache:analyze:" + uuid.NewString()
	s.Require().NoError(s.store.Set(ctx, key, []byte("payload"), time.Second))

	s.Eventually(func() bool {
		_, err := s.store.Get(ctx, key)
		return errors.Is(err, kvstore.ErrNotFound)
	}, 5*time.Second, 100*time.Millisecond)
}

type RedisStoreSuite struct {
	storeContract
	redis *containers.RedisContainer
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = kvstore.NewRedis(s.redis.Client, "callgate:test:")
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Flush(context.Background()))
}

type PostgresStoreSuite struct {
	storeContract
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = kvstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "kv_entries"))
}

func (s *PostgresStoreSuite) TestPurgeExpiredDeletesRows() {
	ctx := context.Background()
	pg := kvstore.NewPostgres(s.postgres.DB)
	s.Require().NoError(pg.Set(ctx, "cache:generate:old", []byte("1"), time.Second))
	s.Require().NoError(pg.Set(ctx, "usage:k3j9x2", []byte("{}"), 0))

	s.Eventually(func() bool {
		removed, err := pg.PurgeExpired(ctx)
		return err == nil && removed == 1
	}, 5*time.Second, 200*time.Millisecond)

	var rows int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_entries`).Scan(&rows))
	s.Equal(1, rows)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(rdb, "test", nil, zap.NewNop()), mr
}

// backends runs fn against the Redis and in-memory implementations.
func backends(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Run("redis", func(t *testing.T) {
		st, _ := newTestStore(t)
		fn(t, st)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func seed(t *testing.T, st Store, creds ...model.Credential) {
	t.Helper()
	ids := make([]string, len(creds))
	for i, c := range creds {
		ids[i] = c.ID
	}
	require.NoError(t, st.Update(context.Background(), "", ids, func(tx *Tx) error {
		for _, c := range creds {
			tx.Put(c)
		}
		return nil
	}))
}

func TestUpdate_PutAndList(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st,
			model.Credential{ID: "b", Ordinal: 2, Capacity: 1, Active: true},
			model.Credential{ID: "a", Ordinal: 1, Capacity: 1, Active: true},
		)

		creds, err := st.ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, creds, 2)
		assert.Equal(t, "a", creds[0].ID)
		assert.Equal(t, "b", creds[1].ID)

		c, err := st.GetCredential(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 2, c.Ordinal)
	})
}

func TestGetCredential_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		_, err := st.GetCredential(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetIdentity_DefaultsToUnassigned(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ident, err := st.GetIdentity(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", ident.ID)
		assert.Empty(t, ident.AssignedCredentialID)
	})
}

func TestUpdate_ErrorRollsBack(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st, model.Credential{ID: "a", Capacity: 2, Active: true})

		boom := errors.New("boom")
		err := st.Update(ctx, "alice", []string{"a"}, func(tx *Tx) error {
			c, _ := tx.Credential("a")
			c.AddHolder("alice")
			tx.Identity.AssignedCredentialID = "a"
			return boom
		})
		require.ErrorIs(t, err, boom)

		c, err := st.GetCredential(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, c.Holders)
		ident, err := st.GetIdentity(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, ident.AssignedCredentialID)
	})
}

func TestUpdate_Delete(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st, model.Credential{ID: "a", Capacity: 1, Active: true})

		require.NoError(t, st.Update(ctx, "", []string{"a"}, func(tx *Tx) error {
			tx.Delete("a")
			_, ok := tx.Credential("a")
			assert.False(t, ok)
			return nil
		}))

		_, err := st.GetCredential(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		creds, err := st.ListCredentials(ctx)
		require.NoError(t, err)
		assert.Empty(t, creds)
	})
}

func TestNextOrdinal_Monotonic(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		first, err := st.NextOrdinal(ctx)
		require.NoError(t, err)
		second, err := st.NextOrdinal(ctx)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
	})
}

func TestReserveOrdinal_NextSkipsPast(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		first, err := st.NextOrdinal(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, first)

		require.NoError(t, st.ReserveOrdinal(ctx, 10))
		next, err := st.NextOrdinal(ctx)
		require.NoError(t, err)
		assert.Equal(t, 11, next)

		// a lower reservation never moves the counter back
		require.NoError(t, st.ReserveOrdinal(ctx, 3))
		next, err = st.NextOrdinal(ctx)
		require.NoError(t, err)
		assert.Equal(t, 12, next)
	})
}

// Concurrent read-check-write updates must never push holders over capacity.
func TestUpdate_ConcurrentCapacity(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st, model.Credential{ID: "a", Capacity: 1, Active: true})

		const n = 20
		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("user-%d", i)
				err := st.Update(ctx, id, []string{"a"}, func(tx *Tx) error {
					c, _ := tx.Credential("a")
					if c.SpareCapacity() == 0 {
						return errors.New("full")
					}
					c.AddHolder(id)
					tx.Identity.AssignedCredentialID = "a"
					return nil
				})
				if err == nil {
					ok.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, ok.Load())
		c, err := st.GetCredential(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, c.Holders, 1)
	})
}

func TestHealthCheck_RedisNil(t *testing.T) {
	st := &HybridStore{redis: nil}
	err := st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedis(rdb, "", nil, nil)
	mr.Close()

	err = st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestGetCredential_InvalidJSON(t *testing.T) {
	st, mr := newTestStore(t)
	require.NoError(t, mr.Set("test:credential:bad", "not-json"))

	_, err := st.GetCredential(context.Background(), "bad")
	assert.Error(t, err)
}

func TestClose_NilComponents(t *testing.T) {
	st := &HybridStore{}
	require.NoError(t, st.Close())
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid(RedisConfig{Addr: "localhost:1"}, "", PGPoolConfig{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(RedisConfig{Addr: mr.Addr()}, "not-a-valid-pg-url", PGPoolConfig{}, nil)
	assert.Error(t, err)
}

func TestNewHybrid_RedisOnly(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(RedisConfig{Addr: mr.Addr(), Prefix: "pool"}, "", PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Nil(t, st.PG)
	require.NoError(t, st.HealthCheck(context.Background()))
	require.NoError(t, st.Close())
}

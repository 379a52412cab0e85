package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/toolgate/pkg/adapters/memory"
	"github.com/aretw0/toolgate/pkg/adapters/redis"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/session"
	"github.com/aretw0/toolgate/pkg/state"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Catalog{})
	require.NoError(t, reg.LoadArtifact(context.Background(), &domain.Artifact{Version: "1.abc", BuildTimestamp: time.Now()}))
	_, err := reg.Lock()
	require.NoError(t, err)
	return reg
}

func TestManager_StartRequiresRegistry(t *testing.T) {
	mgr := session.NewManager(registry.New(registry.Catalog{}))
	_, err := mgr.Start(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, domain.ErrRegistryNotLoaded)
}

func TestManager_Lifecycle(t *testing.T) {
	mgr := session.NewManager(loadedRegistry(t))
	ctx := context.Background()

	s, err := mgr.Start(ctx, "s1", map[string]any{state.KeyMode: "interactive"})
	require.NoError(t, err)
	assert.Equal(t, "1.abc", s.Pinned.Version)
	assert.Equal(t, 1, s.Turn())
	assert.True(t, s.State.Active())
	assert.Equal(t, "interactive", s.State.Mode())

	_, err = mgr.Start(ctx, "s1", nil)
	assert.ErrorIs(t, err, domain.ErrSessionExists)

	s.CountCall()
	s.CountCall()
	assert.Equal(t, 2, s.CallsThisTurn())

	turn, err := mgr.StartTurn(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, turn)
	assert.Zero(t, s.CallsThisTurn())

	snap, err := mgr.End(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, false, snap[state.KeyActive])
	assert.True(t, s.Ended())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)

	_, err = mgr.Get("s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = mgr.End(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = mgr.StartTurn(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_ResumesFromStore(t *testing.T) {
	store := memory.NewStore()
	mgr := session.NewManager(loadedRegistry(t), session.WithStore(store))
	ctx := context.Background()

	s, err := mgr.Start(ctx, "s1", map[string]any{state.KeyMode: "interactive"})
	require.NoError(t, err)
	s.State.Set("locale", "pt-BR")
	s.State.ApplyIntent(domain.EndSession(""))
	_, err = mgr.End(ctx, "s1")
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	resumed, err := mgr.Start(ctx, "s1", map[string]any{state.KeyMode: "realtime"})
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", resumed.State.Get("locale"))
	assert.Equal(t, "realtime", resumed.State.Mode(), "initial values win over restored ones")
	assert.True(t, resumed.State.Active())
	_, pending := resumed.State.PendingEnd()
	assert.False(t, pending)
}

func TestManager_SerializesPerSession(t *testing.T) {
	mgr := session.NewManager(loadedRegistry(t))
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(ctx, "shared", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestManager_DistributedLockAndRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mgr := session.NewManager(loadedRegistry(t),
		session.WithStore(redis.NewFromClient(client)),
		session.WithLocker(redis.NewLocker(client, redis.DefaultPrefix)),
		session.WithLockTTL(5*time.Second),
	)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "s1", nil)
	require.NoError(t, err)

	err = mgr.WithLock(ctx, "s1", func(ctx context.Context) error {
		assert.True(t, mr.Exists(redis.DefaultPrefix+"lock:s1"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(redis.DefaultPrefix+"lock:s1"))

	_, err = mgr.End(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redis.DefaultPrefix+"s1"))
}

func TestManager_Close(t *testing.T) {
	mgr := session.NewManager(loadedRegistry(t))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := mgr.Start(ctx, id, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, mgr.Sessions())

	require.NoError(t, mgr.Close(ctx))
	assert.Empty(t, mgr.Sessions())
}

package badgerstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/nebulon/internal/registry"
	"github.com/ssd-technologies/nebulon/internal/registry/registrytest"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

// TestOpen_Persistent verifies data survives a close and reopen.
func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	err = s.Update(ctx, func(tx registry.Tx) error {
		return tx.Mint(registrytest.Key(1), registry.AssetNative, 7)
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	err = s.View(ctx, func(tx registry.Tx) error {
		got, err := tx.Balance(registrytest.Key(1), registry.AssetNative)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
		return nil
	})
	require.NoError(t, err)
}

func TestView_RejectsWrites(t *testing.T) {
	s := openTest(t)
	err := s.View(context.Background(), func(tx registry.Tx) error {
		return tx.Mint(registrytest.Key(1), registry.AssetNative, 1)
	})
	require.ErrorIs(t, err, badger.ErrReadOnlyTxn)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx registry.Tx) error {
		require.NoError(t, tx.Mint(registrytest.Key(1), registry.AssetNative, 5))
		e := &registry.Event{Type: registry.EventDeposited}
		require.NoError(t, tx.AppendEvent(e))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx registry.Tx) error {
		got, err := tx.Balance(registrytest.Key(1), registry.AssetNative)
		require.NoError(t, err)
		assert.Zero(t, got)
		evs, err := tx.Events(0, 10)
		require.NoError(t, err)
		assert.Empty(t, evs)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_CanceledContext(t *testing.T) {
	s := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, func(registry.Tx) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

// TestUpdate_ConcurrentTransfers checks that conflicting writers are retried
// and no unit is lost or duplicated.
func TestUpdate_ConcurrentTransfers(t *testing.T) {
	s, err := Open(Config{InMemory: true, MaxRetries: 1000})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	src, dst := registrytest.Key(1), registrytest.Key(2)

	require.NoError(t, s.Update(ctx, func(tx registry.Tx) error {
		return tx.Mint(src, registry.AssetNative, 100)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx registry.Tx) error {
				return tx.Transfer(src, dst, registry.AssetNative, 5)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx registry.Tx) error {
		a, err := tx.Balance(src, registry.AssetNative)
		require.NoError(t, err)
		b, err := tx.Balance(dst, registry.AssetNative)
		require.NoError(t, err)
		assert.Zero(t, a)
		assert.Equal(t, uint64(100), b)
		return nil
	}))
}

func TestEvents_SeekAfter(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx registry.Tx) error {
		for i := 0; i < 300; i++ {
			if err := tx.AppendEvent(&registry.Event{Type: registry.EventDeposited, At: int64(i)}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx registry.Tx) error {
		evs, err := tx.Events(255, 10)
		require.NoError(t, err)
		require.Len(t, evs, 10)
		assert.Equal(t, uint64(256), evs[0].Seq)
		assert.Equal(t, uint64(265), evs[9].Seq)
		return nil
	}))
}

func TestOwnerIndex(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	owner := registrytest.Key(2)
	id := &registry.Identity{
		Handle:   "@idx",
		Version:  1,
		Owner:    owner,
		HexID:    registrytest.HexIDOf(1),
		IsActive: true,
	}
	require.NoError(t, s.Update(ctx, func(tx registry.Tx) error {
		return tx.CreateIdentity(id)
	}))
	require.NoError(t, s.Update(ctx, func(tx registry.Tx) error {
		got, err := tx.IdentityByOwner(owner)
		require.NoError(t, err)
		assert.Equal(t, "@idx", got.Handle)

		got.IsActive = false
		return tx.PutIdentity(got)
	}))
	require.NoError(t, s.View(ctx, func(tx registry.Tx) error {
		_, err := tx.IdentityByOwner(owner)
		assert.ErrorIs(t, err, registry.ErrIdentityNotFound)
		return nil
	}))
}

func TestRegistryContract(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Store {
		return openTest(t)
	})
}

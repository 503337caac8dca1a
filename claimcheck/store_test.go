package claimcheck

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/glimte/sedaflow-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTicket(t *testing.T) {
	t.Run("carries the CLAIM prefix", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(NewTicket(), "CLAIM-"))
	})

	t.Run("tickets are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			ticket := NewTicket()
			assert.False(t, seen[ticket])
			seen[ticket] = true
		}
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip restores the exact payload", func(t *testing.T) {
		store := NewMemoryStore()
		body := strings.Repeat("X", 10000)

		ticket, err := store.Put(ctx, []byte(body))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ticket, "CLAIM-"))

		payload, err := store.Get(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, body, string(payload))
	})

	t.Run("reads are idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		ticket, err := store.Put(ctx, []byte("contract.pdf"))
		require.NoError(t, err)

		first, err := store.Get(ctx, ticket)
		require.NoError(t, err)
		second, err := store.Get(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unknown ticket misses", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Get(ctx, "CLAIM-never-issued")
		assert.ErrorIs(t, err, contracts.ErrClaimNotFound)
	})

	t.Run("mutating the input does not change the stored payload", func(t *testing.T) {
		store := NewMemoryStore()
		body := []byte("original")
		ticket, err := store.Put(ctx, body)
		require.NoError(t, err)

		body[0] = 'X'

		payload, err := store.Get(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, "original", string(payload))
	})

	t.Run("concurrent puts all resolve", func(t *testing.T) {
		store := NewMemoryStore()
		const n = 50

		tickets := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ticket, err := store.Put(ctx, []byte{byte(i)})
				assert.NoError(t, err)
				tickets[i] = ticket
			}(i)
		}
		wg.Wait()

		assert.Equal(t, n, store.Len())
		for i, ticket := range tickets {
			payload, err := store.Get(ctx, ticket)
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, payload)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) *SQLiteStore {
		store, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}

	t.Run("round trip restores the exact payload", func(t *testing.T) {
		store := newStore(t)
		body := strings.Repeat("X", 10000)

		ticket, err := store.Put(ctx, []byte(body))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ticket, "CLAIM-"))

		payload, err := store.Get(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, body, string(payload))
	})

	t.Run("unknown ticket misses", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "CLAIM-never-issued")
		assert.ErrorIs(t, err, contracts.ErrClaimNotFound)
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())

		_, err := store.Put(ctx, []byte("late"))
		assert.ErrorIs(t, err, contracts.ErrStoreClosed)

		_, err = store.Get(ctx, "CLAIM-whatever")
		assert.ErrorIs(t, err, contracts.ErrStoreClosed)
	})
}

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/database"
)

func implementations(t *testing.T) map[string]Ledger {
	t.Helper()

	db, err := database.Open(database.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqliteLedger, err := NewSQLite(db)
	require.NoError(t, err)

	return map[string]Ledger{
		"sqlite": sqliteLedger,
		"memory": NewMemory(),
	}
}

func entityIDs(actions []Action) []int {
	ids := make([]int, len(actions))
	for i, a := range actions {
		ids[i] = a.EntityID
	}
	return ids
}

func TestLedger_ListAndClearByKind(t *testing.T) {
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: mixed entries, including duplicates for one entity
			require.NoError(t, l.Record(ctx, 1, Create))
			require.NoError(t, l.Record(ctx, 1, Modify))
			require.NoError(t, l.Record(ctx, 2, Delete))
			require.NoError(t, l.Record(ctx, 1, Modify))
			require.NoError(t, l.Record(ctx, 3, Create))

			// When: draining modifies
			modified, err := l.ListAndClear(ctx, Modify)

			// Then: both modify entries come back in insertion order
			require.NoError(t, err)
			assert.Equal(t, []int{1, 1}, entityIDs(modified))
			assert.Less(t, modified[0].ID, modified[1].ID)
			assert.Equal(t, Modify, modified[0].Kind)

			// And: other kinds are untouched
			counts, err := l.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, counts[Create])
			assert.Equal(t, 1, counts[Delete])
			assert.Equal(t, 0, counts[Modify])

			// And: a second drain of the same kind is empty
			again, err := l.ListAndClear(ctx, Modify)
			require.NoError(t, err)
			assert.Empty(t, again)

			created, err := l.ListAndClear(ctx, Create)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 3}, entityIDs(created))
		})
	}
}

func TestLedger_RejectsInvalidKind(t *testing.T) {
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, l.Record(context.Background(), 1, Kind(9)))
		})
	}
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					assert.NoError(t, l.Record(ctx, id, Create))
				}(i)
			}
			wg.Wait()

			created, err := l.ListAndClear(ctx, Create)
			require.NoError(t, err)
			assert.Len(t, created, 20)
		})
	}
}

func TestMemoryLedger_CancelledContext(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Record(context.Background(), 1, Create))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.ListAndClear(ctx, Create)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Len())
}

func TestKind_StringAndParse(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := ParseKind("updated")
	require.NoError(t, err)
	assert.Equal(t, Modify, k)

	_, err = ParseKind("archive")
	assert.Error(t, err)
	assert.Equal(t, "kind(7)", Kind(7).String())
}

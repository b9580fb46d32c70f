package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfroach/livebind/livestore/query"
)

func TestLiveQueryMembership(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "alpha")
	createItem(t, s, "I2", "beta")

	results, err := s.Query("Item",
		query.Comparison{Prop: "done", Op: query.OpEq, Value: false}, nil)
	require.NoError(t, err)
	defer results.Release()

	require.Equal(t, 2, results.Len())
	assert.Equal(t, []string{"I1", "I2"}, results.Keys())
	assert.Equal(t, "I1", results.At(0).Key())
	assert.Nil(t, results.At(5))
	assert.Nil(t, results.At(-1))
}

func TestLiveQueryRemovalOnFilterMismatch(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "task")

	results, err := s.GetQuery("Item", `done == false`, "")
	require.NoError(t, err)
	defer results.Release()
	require.Equal(t, 1, results.Len())

	var changes []CollectionChange
	sub := results.Observe(func(c CollectionChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	// Setting done=true pushes the item out of the filter
	require.NoError(t, s.Run(func(tx *Transaction) error {
		obj, err := s.Get("Item", "I1")
		if err != nil {
			return err
		}
		return obj.Set("done", true)
	}))

	// Exactly one batched notification, carrying one removal
	require.Len(t, changes, 1)
	assert.Equal(t, []int{0}, changes[0].Deletions)
	assert.Empty(t, changes[0].Insertions)
	assert.Empty(t, changes[0].Moves)
	assert.Empty(t, changes[0].Modifications)
	assert.Equal(t, 0, results.Len())

	// The object itself is still alive, it just left the collection
	obj, err := s.Get("Item", "I1")
	require.NoError(t, err)
	assert.True(t, obj.IsValid())
}

func TestLiveQueryInsertion(t *testing.T) {
	s := openTestStore(t)

	results, err := s.GetQuery("Item", `done == false`, "")
	require.NoError(t, err)
	defer results.Release()

	var changes []CollectionChange
	sub := results.Observe(func(c CollectionChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	createItem(t, s, "I1", "new")

	require.Len(t, changes, 1)
	assert.Equal(t, []int{0}, changes[0].Insertions)
	assert.Equal(t, []string{"I1"}, results.Keys())
}

func TestLiveQueryModification(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "before")

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)
	defer results.Release()

	var changes []CollectionChange
	sub := results.Observe(func(c CollectionChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		obj, err := s.Get("Item", "I1")
		if err != nil {
			return err
		}
		return obj.Set("text", "after")
	}))

	// Still a member, same position: a modification, not a move
	require.Len(t, changes, 1)
	assert.Equal(t, []int{0}, changes[0].Modifications)
	assert.Empty(t, changes[0].Deletions)
	assert.Empty(t, changes[0].Insertions)
	assert.Empty(t, changes[0].Moves)
}

func TestLiveQueryMoves(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Run(func(tx *Transaction) error {
		if _, err := tx.Create("Item", map[string]any{"id": "I1", "text": "a", "priority": int64(1)}); err != nil {
			return err
		}
		_, err := tx.Create("Item", map[string]any{"id": "I2", "text": "b", "priority": int64(2)})
		return err
	}))

	results, err := s.GetQuery("Item", "", "priority asc")
	require.NoError(t, err)
	defer results.Release()
	require.Equal(t, []string{"I1", "I2"}, results.Keys())

	var changes []CollectionChange
	sub := results.Observe(func(c CollectionChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	// Swap the ordering
	require.NoError(t, s.Run(func(tx *Transaction) error {
		obj, err := s.Get("Item", "I1")
		if err != nil {
			return err
		}
		return obj.Set("priority", int64(3))
	}))

	assert.Equal(t, []string{"I2", "I1"}, results.Keys())
	require.Len(t, changes, 1)
	assert.Len(t, changes[0].Moves, 2)
	assert.Empty(t, changes[0].Deletions)
	assert.Empty(t, changes[0].Insertions)
}

func TestLiveQuerySortStability(t *testing.T) {
	s := openTestStore(t)
	// Equal priorities: primary key breaks the tie
	require.NoError(t, s.Run(func(tx *Transaction) error {
		for _, id := range []string{"I3", "I1", "I2"} {
			if _, err := tx.Create("Item", map[string]any{"id": id, "text": id}); err != nil {
				return err
			}
		}
		return nil
	}))

	results, err := s.GetQuery("Item", "", "priority asc")
	require.NoError(t, err)
	defer results.Release()
	assert.Equal(t, []string{"I1", "I2", "I3"}, results.Keys())
}

func TestLiveQueryBatchesOneCommit(t *testing.T) {
	s := openTestStore(t)

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)
	defer results.Release()

	var changes []CollectionChange
	sub := results.Observe(func(c CollectionChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	// Many writes, one transaction, one notification
	require.NoError(t, s.Run(func(tx *Transaction) error {
		for _, id := range []string{"I1", "I2", "I3"} {
			if _, err := tx.Create("Item", map[string]any{"id": id, "text": id}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.Len(t, changes, 1)
	assert.Len(t, changes[0].Insertions, 3)
}

func TestLiveQueryNotifiedBeforeCommitReturns(t *testing.T) {
	s := openTestStore(t)

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)
	defer results.Release()

	notified := false
	sub := results.Observe(func(c CollectionChange) {
		notified = true
		// The collection already reflects the commit inside the callback
		assert.Equal(t, 1, c.Collection.Len())
	})
	defer sub.Unobserve()

	createItem(t, s, "I1", "x")
	assert.True(t, notified, "notification must complete before Commit returns")
}

func TestLiveQueryIgnoresOtherEntities(t *testing.T) {
	s := openTestStore(t)

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)
	defer results.Release()

	notified := false
	sub := results.Observe(func(CollectionChange) { notified = true })
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		_, err := tx.Create("List", map[string]any{"id": "L1", "title": "other"})
		return err
	}))
	assert.False(t, notified)
}

func TestReleasedQueryStopsUpdating(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "x")

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)

	notified := false
	results.Observe(func(CollectionChange) { notified = true })

	results.Release()
	assert.False(t, results.IsValid())

	createItem(t, s, "I2", "y")
	assert.False(t, notified)
	assert.Equal(t, 1, results.Len(), "membership frozen at release time")

	// Held proxies outlive the collection
	assert.True(t, results.At(0).IsValid())

	// Release is idempotent
	results.Release()
}

func TestRolledBackTransactionDoesNotNotify(t *testing.T) {
	s := openTestStore(t)

	results, err := s.GetQuery("Item", "", "")
	require.NoError(t, err)
	defer results.Release()

	notified := false
	sub := results.Observe(func(CollectionChange) { notified = true })
	defer sub.Unobserve()

	err = s.Run(func(tx *Transaction) error {
		if _, err := tx.Create("Item", map[string]any{"id": "I1", "text": "x"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, notified)
	assert.Equal(t, 0, results.Len())
}

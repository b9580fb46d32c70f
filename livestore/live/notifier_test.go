package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectObserve(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	var changes []ObjectChange
	sub := obj.Observe(func(c ObjectChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "y")
	}))

	require.Len(t, changes, 1)
	assert.Same(t, obj, changes[0].Object)
	assert.False(t, changes[0].Deleted)
	assert.Equal(t, []string{"text"}, changes[0].Properties)
}

func TestObjectObserveBatchesOneCommit(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	var changes []ObjectChange
	sub := obj.Observe(func(c ObjectChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	// Several property writes in one transaction collapse into one
	// notification
	require.NoError(t, s.Run(func(tx *Transaction) error {
		if err := obj.Set("text", "y"); err != nil {
			return err
		}
		if err := obj.Set("done", true); err != nil {
			return err
		}
		return obj.Set("priority", int64(5))
	}))

	require.Len(t, changes, 1)
	assert.ElementsMatch(t, []string{"text", "done", "priority"}, changes[0].Properties)
}

func TestObjectObserveSkipsNoOpWrites(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	var changes []ObjectChange
	sub := obj.Observe(func(c ObjectChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	// Rewriting the same value changes no property
	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "x")
	}))

	require.Len(t, changes, 1, "the record was written, so observers fire")
	assert.Empty(t, changes[0].Properties)
}

func TestObjectObserveDelete(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	var changes []ObjectChange
	sub := obj.Observe(func(c ObjectChange) { changes = append(changes, c) })
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return tx.Delete(obj)
	}))

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Deleted)
	assert.Empty(t, changes[0].Properties)
	assert.False(t, changes[0].Object.IsValid(),
		"observer must treat the proxy as dead")
}

func TestUnobserve(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	calls := 0
	sub := obj.Observe(func(ObjectChange) { calls++ })

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "y")
	}))
	require.Equal(t, 1, calls)

	sub.Unobserve()
	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "z")
	}))
	assert.Equal(t, 1, calls)

	// Unobserve twice is safe, and on a nil subscription too
	sub.Unobserve()
	(*Subscription)(nil).Unobserve()
}

func TestObserverSeesPostCommitState(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	done := false
	sub := obj.Observe(func(c ObjectChange) {
		// Callbacks run after the commit is applied: reads see the new
		// state
		text, err := c.Object.Get("text")
		require.NoError(t, err)
		assert.Equal(t, "y", text)
		done = true
	})
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "y")
	}))
	assert.True(t, done)
}

func TestCollectionCurrentBeforeObjectCallbacks(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	results, err := s.GetQuery("Item", `done == false`, "")
	require.NoError(t, err)
	defer results.Release()
	require.Equal(t, 1, results.Len())

	checked := false
	sub := obj.Observe(func(ObjectChange) {
		// Membership is already refreshed when object observers run
		assert.Equal(t, 0, results.Len())
		checked = true
	})
	defer sub.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("done", true)
	}))
	assert.True(t, checked)
}

func TestObserveUnrelatedRecord(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	calls := 0
	sub := obj.Observe(func(ObjectChange) { calls++ })
	defer sub.Unobserve()

	createItem(t, s, "I2", "other")
	assert.Equal(t, 0, calls, "changes to other records must not notify")
}

func TestMultipleObserversOneRecord(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	first, second := 0, 0
	subA := obj.Observe(func(ObjectChange) { first++ })
	defer subA.Unobserve()
	subB := obj.Observe(func(ObjectChange) { second++ })
	defer subB.Unobserve()

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return obj.Set("text", "y")
	}))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/schema"
	"github.com/mfroach/livebind/livestore/storage"
)

func taskDescriptors() []schema.Descriptor {
	return []schema.Descriptor{
		{
			Name: "List",
			Properties: []schema.Property{
				{Name: "id", Type: schema.String, PrimaryKey: true},
				{Name: "title", Type: schema.String},
				{Name: "items", Type: schema.Backlink, Target: "Item", LinkedFrom: "list"},
			},
		},
		{
			Name: "Item",
			Properties: []schema.Property{
				{Name: "id", Type: schema.String, PrimaryKey: true},
				{Name: "text", Type: schema.String},
				{Name: "done", Type: schema.Bool, Default: false},
				{Name: "priority", Type: schema.Int, Default: int64(0)},
				{Name: "deadline", Type: schema.Date, Optional: true},
				{Name: "list", Type: schema.Link, Target: "List", Optional: true},
				{Name: "tags", Type: schema.LinkList, Target: "Tag", Optional: true},
			},
		},
		{
			Name: "Tag",
			Properties: []schema.Property{
				{Name: "name", Type: schema.String, PrimaryKey: true},
			},
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(taskDescriptors(), storage.NewMemorySession())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createItem(t *testing.T, s *Store, id, text string) *Object {
	t.Helper()
	var obj *Object
	require.NoError(t, s.Run(func(tx *Transaction) error {
		var err error
		obj, err = tx.Create("Item", map[string]any{"id": id, "text": text})
		return err
	}))
	return obj
}

func TestCreateCommitGet(t *testing.T) {
	s := openTestStore(t)

	created := createItem(t, s, "I1", "buy milk")
	require.True(t, created.IsValid())

	obj, err := s.Get("Item", "I1")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Same(t, created, obj, "one canonical proxy per record")

	text, err := obj.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", text)

	// Defaults applied at create
	done, err := obj.Get("done")
	require.NoError(t, err)
	assert.Equal(t, false, done)

	priority, err := obj.Get("priority")
	require.NoError(t, err)
	assert.Equal(t, int64(0), priority)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	obj, err := s.Get("Item", "nope")
	require.NoError(t, err)
	assert.Nil(t, obj)

	_, err = s.Get("Nope", "x")
	var unknown *livestore.UnknownEntityError
	require.ErrorAs(t, err, &unknown)
}

func TestMissingOptionalPropertyIsNil(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	deadline, err := obj.Get("deadline")
	require.NoError(t, err)
	assert.Nil(t, deadline)
}

func TestReadYourWrites(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "before")

	require.NoError(t, s.Run(func(tx *Transaction) error {
		if err := obj.Set("text", "after"); err != nil {
			return err
		}
		// Staged value is visible through the proxy before commit
		text, err := obj.Get("text")
		if err != nil {
			return err
		}
		assert.Equal(t, "after", text)

		// And through a fresh lookup
		same, err := s.Get("Item", "I1")
		if err != nil {
			return err
		}
		staged, err := same.Get("text")
		if err != nil {
			return err
		}
		assert.Equal(t, "after", staged)
		return nil
	}))

	text, err := obj.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "after", text)
}

func TestCreateVisibleInTransactionBeforeCommit(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Run(func(tx *Transaction) error {
		created, err := tx.Create("Item", map[string]any{"id": "I1", "text": "staged"})
		if err != nil {
			return err
		}
		found, err := s.Get("Item", "I1")
		if err != nil {
			return err
		}
		assert.Same(t, created, found)
		return nil
	}))
}

func TestDuplicatePrimaryKey(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "first")

	t.Run("AgainstCommitted", func(t *testing.T) {
		err := s.Run(func(tx *Transaction) error {
			_, err := tx.Create("Item", map[string]any{"id": "I1", "text": "dup"})
			return err
		})
		var violation *livestore.ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "I1", violation.Key)
	})

	t.Run("AgainstStaged", func(t *testing.T) {
		err := s.Run(func(tx *Transaction) error {
			if _, err := tx.Create("Item", map[string]any{"id": "I2", "text": "a"}); err != nil {
				return err
			}
			_, err := tx.Create("Item", map[string]any{"id": "I2", "text": "b"})
			return err
		})
		var violation *livestore.ConstraintViolationError
		require.ErrorAs(t, err, &violation)

		// The failed transaction rolled back whole
		obj, err := s.Get("Item", "I2")
		require.NoError(t, err)
		assert.Nil(t, obj)
	})

	t.Run("DeleteThenRecreateInOneTransaction", func(t *testing.T) {
		require.NoError(t, s.Run(func(tx *Transaction) error {
			obj, err := s.Get("Item", "I1")
			if err != nil {
				return err
			}
			if err := tx.Delete(obj); err != nil {
				return err
			}
			_, err = tx.Create("Item", map[string]any{"id": "I1", "text": "reborn"})
			return err
		}))

		obj, err := s.Get("Item", "I1")
		require.NoError(t, err)
		require.NotNil(t, obj)
		text, err := obj.Get("text")
		require.NoError(t, err)
		assert.Equal(t, "reborn", text)
	})
}

func TestCreateValidation(t *testing.T) {
	s := openTestStore(t)

	requireViolation := func(t *testing.T, values map[string]any) {
		t.Helper()
		err := s.Run(func(tx *Transaction) error {
			_, err := tx.Create("Item", values)
			return err
		})
		var violation *livestore.ConstraintViolationError
		require.ErrorAs(t, err, &violation)
	}

	t.Run("UnknownProperty", func(t *testing.T) {
		requireViolation(t, map[string]any{"id": "X", "text": "a", "bogus": 1})
	})
	t.Run("MissingRequired", func(t *testing.T) {
		requireViolation(t, map[string]any{"id": "X"})
	})
	t.Run("WrongType", func(t *testing.T) {
		requireViolation(t, map[string]any{"id": "X", "text": 42})
	})
	t.Run("BacklinkWrite", func(t *testing.T) {
		err := s.Run(func(tx *Transaction) error {
			_, err := tx.Create("List", map[string]any{
				"id": "L1", "title": "x", "items": []string{"I1"},
			})
			return err
		})
		var violation *livestore.ConstraintViolationError
		require.ErrorAs(t, err, &violation)
	})
}

func TestSetValidation(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	require.NoError(t, s.Run(func(tx *Transaction) error {
		var violation *livestore.ConstraintViolationError

		assert.ErrorAs(t, obj.Set("id", "I2"), &violation, "primary key is immutable")
		assert.ErrorAs(t, obj.Set("done", "yes"), &violation, "type mismatch")
		assert.ErrorAs(t, obj.Set("text", nil), &violation, "required property")
		assert.Error(t, obj.Set("bogus", 1))
		return nil
	}))

	// Nothing leaked into the record
	text, err := obj.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestDeleteInvalidatesProxy(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	// Another handle on the same record shares the proxy
	other, err := s.Get("Item", "I1")
	require.NoError(t, err)

	require.NoError(t, s.Run(func(tx *Transaction) error {
		return tx.Delete(obj)
	}))

	assert.False(t, obj.IsValid())
	assert.False(t, other.IsValid(), "invalidation reaches every holder")

	var invalid *livestore.InvalidObjectError
	_, err = obj.Get("text")
	require.ErrorAs(t, err, &invalid)
	require.ErrorAs(t, obj.Set("text", "y"), &invalid)

	gone, err := s.Get("Item", "I1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteInvalidationSurvivesRollback(t *testing.T) {
	s := openTestStore(t)
	obj := createItem(t, s, "I1", "x")

	boom := assert.AnError
	err := s.Run(func(tx *Transaction) error {
		if err := tx.Delete(obj); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The record survived the rollback, the proxy did not
	assert.False(t, obj.IsValid())
	fresh, err := s.Get("Item", "I1")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.NotSame(t, obj, fresh)
	text, err := fresh.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestQueryString(t *testing.T) {
	s := openTestStore(t)
	createItem(t, s, "I1", "urgent thing")
	createItem(t, s, "I2", "later thing")
	require.NoError(t, s.Run(func(tx *Transaction) error {
		obj, err := s.Get("Item", "I2")
		if err != nil {
			return err
		}
		return obj.Set("done", true)
	}))

	results, err := s.GetQuery("Item", `done == false`, "")
	require.NoError(t, err)
	defer results.Release()
	assert.Equal(t, []string{"I1"}, results.Keys())

	t.Run("InvalidFilter", func(t *testing.T) {
		_, err := s.GetQuery("Item", `done == `, "")
		var invalid *livestore.InvalidQueryError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("UnknownProperty", func(t *testing.T) {
		_, err := s.GetQuery("Item", `missing == 1`, "")
		var invalid *livestore.InvalidQueryError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestDateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	deadline := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Run(func(tx *Transaction) error {
		_, err := tx.Create("Item", map[string]any{
			"id": "I1", "text": "dated", "deadline": deadline,
		})
		return err
	}))

	obj, err := s.Get("Item", "I1")
	require.NoError(t, err)
	got, err := obj.Get("deadline")
	require.NoError(t, err)
	assert.True(t, deadline.Equal(got.(time.Time)))
}

func TestCloseInvalidatesEverything(t *testing.T) {
	store, err := Open(taskDescriptors(), storage.NewMemorySession())
	require.NoError(t, err)

	var obj *Object
	require.NoError(t, store.Run(func(tx *Transaction) error {
		obj, err = tx.Create("Item", map[string]any{"id": "I1", "text": "x"})
		return err
	}))
	results, err := store.GetQuery("Item", "", "")
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.False(t, obj.IsValid())
	assert.False(t, results.IsValid())

	_, err = store.Get("Item", "I1")
	require.Error(t, err)

	// Close is idempotent
	require.NoError(t, store.Close())
}

func TestGeneratedKeysWhenNoPrimaryKeyDeclared(t *testing.T) {
	descs := append(taskDescriptors(), schema.Descriptor{
		Name: "Event",
		Properties: []schema.Property{
			{Name: "kind", Type: schema.String},
		},
	})
	store, err := Open(descs, storage.NewMemorySession())
	require.NoError(t, err)
	defer store.Close()

	var first, second *Object
	require.NoError(t, store.Run(func(tx *Transaction) error {
		first, err = tx.Create("Event", map[string]any{"kind": "a"})
		if err != nil {
			return err
		}
		second, err = tx.Create("Event", map[string]any{"kind": "b"})
		return err
	}))

	assert.NotEmpty(t, first.Key())
	assert.NotEqual(t, first.Key(), second.Key())
}

package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

func listValues(t *testing.T, d *Document, list model.ObjID) []string {
	t.Helper()
	var out []string
	for _, v := range d.ListRange(list) {
		s, ok := model.AsString(v.Scalar)
		require.True(t, ok)
		out = append(out, s)
	}
	return out
}

func TestList_InsertSetDelete(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)

	require.NoError(t, d.Insert(list, 0, model.Str("b")))
	require.NoError(t, d.Insert(list, 0, model.Str("a")))
	require.NoError(t, d.Insert(list, 2, model.Str("c")))
	assert.Equal(t, []string{"a", "b", "c"}, listValues(t, d, list))

	require.NoError(t, d.Set(list, 1, model.Str("B")))
	require.NoError(t, d.DeleteAt(list, 0))
	assert.Equal(t, []string{"B", "c"}, listValues(t, d, list))

	v, err := d.GetAt(list, 1)
	require.NoError(t, err)
	assert.Equal(t, model.Str("c"), v.Scalar)

	// Insert after a deleted neighbour lands in the right place.
	require.NoError(t, d.Insert(list, 0, model.Str("z")))
	assert.Equal(t, []string{"z", "B", "c"}, listValues(t, d, list))
}

func TestList_IndexOutOfRange(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, d.Insert(list, 0, model.Str("a")))

	assert.ErrorIs(t, d.Insert(list, 2, model.Str("x")), model.ErrIndexOutOfRange)
	assert.ErrorIs(t, d.Insert(list, -1, model.Str("x")), model.ErrIndexOutOfRange)
	assert.ErrorIs(t, d.Set(list, 1, model.Str("x")), model.ErrIndexOutOfRange)
	assert.ErrorIs(t, d.DeleteAt(list, 1), model.ErrIndexOutOfRange)

	_, err = d.GetAt(list, 1)
	assert.ErrorIs(t, err, model.ErrIndexOutOfRange)
}

func TestList_ConcurrentInsertsAtSamePosition(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	list, err := a.PutObject(model.Root, "items", model.ObjList) // 1@A
	require.NoError(t, err)
	commit(t, a)

	b := newTestDoc(t, testutil.ActorB)
	require.NoError(t, b.ApplyChanges(a.GetChanges(nil)...))

	require.NoError(t, a.Insert(list, 0, model.Str("x"))) // 2@A
	commit(t, a)
	require.NoError(t, b.Insert(list, 0, model.Str("y"))) // 2@B
	commit(t, b)

	exchange(t, a, b)

	// The greater op id sits closer to the reference element.
	assert.Equal(t, []string{"y", "x"}, listValues(t, a, list))
	assert.Equal(t, []string{"y", "x"}, listValues(t, b, list))
}

func TestList_ConcurrentRunsDoNotInterleave(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	list, err := a.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	commit(t, a)
	b, err := a.Fork(WithActor(testutil.ActorB))
	require.NoError(t, err)

	for i, s := range []string{"a1", "a2", "a3"} {
		require.NoError(t, a.Insert(list, i, model.Str(s)))
	}
	commit(t, a)
	for i, s := range []string{"b1", "b2"} {
		require.NoError(t, b.Insert(list, i, model.Str(s)))
	}
	commit(t, b)

	exchange(t, a, b)

	got := listValues(t, a, list)
	assert.Equal(t, got, listValues(t, b, list))
	assert.Equal(t, []string{"b1", "b2", "a1", "a2", "a3"}, got)
}

func TestList_InsertAfterConcurrentlyDeletedElement(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	list, err := a.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, a.Insert(list, 0, model.Str("x")))
	commit(t, a)
	b, err := a.Fork(WithActor(testutil.ActorB))
	require.NoError(t, err)

	require.NoError(t, a.DeleteAt(list, 0))
	commit(t, a)
	require.NoError(t, b.Insert(list, 1, model.Str("after-x")))
	commit(t, b)

	exchange(t, a, b)

	assert.Equal(t, []string{"after-x"}, listValues(t, a, list))
	assert.Equal(t, []string{"after-x"}, listValues(t, b, list))
}

func TestList_ConcurrentSetConflict(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	list, err := a.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, a.Insert(list, 0, model.Str("orig")))
	commit(t, a)
	b, err := a.Fork(WithActor(testutil.ActorB))
	require.NoError(t, err)

	require.NoError(t, a.Set(list, 0, model.Str("a")))
	commit(t, a)
	require.NoError(t, b.Set(list, 0, model.Str("b")))
	commit(t, b)
	exchange(t, a, b)

	all, err := a.GetAllAt(list, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.Str("b"), all[0].Scalar)
	assert.Equal(t, []string{"b"}, listValues(t, b, list))
}

func TestList_InsertObject(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "rows", model.ObjList)
	require.NoError(t, err)

	row, err := d.InsertObject(list, 0, model.ObjMap)
	require.NoError(t, err)
	require.NoError(t, d.Put(row, "id", model.Uint(1)))

	v, err := d.GetAt(list, 0)
	require.NoError(t, err)
	assert.True(t, v.IsObject())
	assert.Equal(t, row, v.Obj)

	assert.Equal(t, map[string]any{
		"rows": []any{map[string]any{"id": uint64(1)}},
	}, materialize(t, d))
}

package doc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

func newTestDoc(t *testing.T, actor model.ActorID, opts ...Option) *Document {
	t.Helper()
	clock := testutil.NewStepClock(time.Second)
	base := []Option{WithActor(actor), WithClock(clock.Now)}
	return New(append(base, opts...)...)
}

func commit(t *testing.T, d *Document) *model.Change {
	t.Helper()
	c, err := d.Commit("")
	require.NoError(t, err)
	require.NotNil(t, c, "expected a change to commit")
	return c
}

func getStr(t *testing.T, d *Document, obj model.ObjID, key string) string {
	t.Helper()
	v, ok, err := d.Get(obj, key)
	require.NoError(t, err)
	require.True(t, ok, "key %q not found", key)
	s, ok := model.AsString(v.Scalar)
	require.True(t, ok, "key %q is not a string", key)
	return s
}

func materialize(t *testing.T, d *Document) any {
	t.Helper()
	out, err := d.Materialize(model.Root)
	require.NoError(t, err)
	return out
}

func TestNew_EmptyRoot(t *testing.T) {
	d := New()

	assert.NotEmpty(t, d.Actor())
	assert.Empty(t, d.Heads())
	assert.Equal(t, map[string]any{}, materialize(t, d))

	typ, err := d.ObjType(model.Root)
	require.NoError(t, err)
	assert.Equal(t, model.ObjMap, typ)
}

func TestNew_FreshActors(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a.Actor(), b.Actor())
}

func TestPutGet(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)

	require.NoError(t, d.Put(model.Root, "title", model.Str("hello")))
	require.NoError(t, d.Put(model.Root, "count", model.Int(-3)))
	require.NoError(t, d.Put(model.Root, "flag", model.Bool(true)))

	assert.Equal(t, "hello", getStr(t, d, model.Root, "title"))

	v, ok, err := d.Get(model.Root, "count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Int(-3), v.Scalar)
	assert.Equal(t, model.OpID{Counter: 2, Actor: testutil.ActorA}, v.ID)

	_, ok, err = d.Get(model.Root, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_ObjectNotFound(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	ghost := model.ObjIDFromOp(model.OpID{Counter: 9, Actor: testutil.ActorB})

	err := d.Put(ghost, "k", model.Str("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrObjectNotFound)
	assert.True(t, model.IsObjectNotFound(err))

	_, err = d.PutObject(ghost, "k", model.ObjMap)
	assert.ErrorIs(t, err, model.ErrObjectNotFound)

	_, _, err = d.Get(ghost, "k")
	assert.ErrorIs(t, err, model.ErrObjectNotFound)

	assert.Nil(t, d.LastLocalChange(), "failed writes must not produce a change")
}

func TestPut_WrongObjectType(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)

	err = d.Put(list, "k", model.Str("v"))
	assert.ErrorIs(t, err, model.ErrWrongObjectType)

	err = d.Insert(model.Root, 0, model.Str("v"))
	assert.ErrorIs(t, err, model.ErrWrongObjectType)
}

func TestPut_RejectsEmptyKeyAndNilValue(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)

	assert.ErrorIs(t, d.Put(model.Root, "", model.Str("v")), model.ErrMalformedOperation)
	assert.ErrorIs(t, d.Put(model.Root, "k", nil), model.ErrMalformedOperation)
}

func TestWrites_RejectInvalidUTF8(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, d.Insert(list, 0, model.Str("ok")))
	commit(t, d)

	assert.ErrorIs(t, d.Put(model.Root, "k", model.Str("bad\xffbyte")), model.ErrMalformedOperation)
	assert.ErrorIs(t, d.Put(model.Root, "bad\xff", model.Str("v")), model.ErrMalformedOperation)
	_, err = d.PutObject(model.Root, "bad\xff", model.ObjMap)
	assert.ErrorIs(t, err, model.ErrMalformedOperation)
	assert.ErrorIs(t, d.Insert(list, 1, model.Str("\xc3")), model.ErrMalformedOperation)
	assert.ErrorIs(t, d.Set(list, 0, model.Str("\xc3")), model.ErrMalformedOperation)
	none, err := d.Commit("")
	require.NoError(t, err)
	assert.Nil(t, none, "rejected writes must not produce a change")

	// Valid text with a literal replacement rune is accepted and survives
	// a JSON round trip with its hash intact.
	require.NoError(t, d.Put(model.Root, "k", model.Str("bad\uFFFDbyte")))
	c := commit(t, d)
	data, err := json.Marshal(c)
	require.NoError(t, err)
	var back model.Change
	require.NoError(t, json.Unmarshal(data, &back))
	assert.NoError(t, back.Verify())
}

func TestCommit_RejectsInvalidUTF8Message(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	require.NoError(t, d.Put(model.Root, "k", model.Str("v")))

	_, err := d.Commit("bad\xff")
	assert.ErrorIs(t, err, model.ErrMalformedOperation)

	// The transaction stays open for a valid commit.
	c, err := d.Commit("ok")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Ops, 1)
}

func TestWrites_DeletedContainerNotFound(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	m, err := d.PutObject(model.Root, "m", model.ObjMap)
	require.NoError(t, err)
	inner, err := d.PutObject(m, "inner", model.ObjList)
	require.NoError(t, err)
	commit(t, d)

	require.NoError(t, d.Delete(model.Root, "m"))
	commit(t, d)

	assert.ErrorIs(t, d.Put(m, "x", model.Str("v")), model.ErrObjectNotFound)
	_, err = d.PutObject(m, "y", model.ObjMap)
	assert.ErrorIs(t, err, model.ErrObjectNotFound)
	assert.ErrorIs(t, d.Delete(m, "inner"), model.ErrObjectNotFound)
	// Everything below a deleted container is gone too.
	assert.ErrorIs(t, d.Insert(inner, 0, model.Str("v")), model.ErrObjectNotFound)

	c, err := d.Commit("")
	require.NoError(t, err)
	assert.Nil(t, c, "rejected writes must not produce a change")
}

func TestWrites_LosingChildNotFound(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	ma, err := a.PutObject(model.Root, "m", model.ObjMap)
	require.NoError(t, err)
	commit(t, a)

	b := newTestDoc(t, testutil.ActorB)
	mb, err := b.PutObject(model.Root, "m", model.ObjMap)
	require.NoError(t, err)
	commit(t, b)

	require.NoError(t, a.ApplyChanges(b.GetChanges(nil)...))

	// Equal counters, so ActorB's child wins.
	v, ok, err := a.Get(model.Root, "m")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mb, v.Obj)

	assert.ErrorIs(t, a.Put(ma, "x", model.Str("v")), model.ErrObjectNotFound)
	assert.NoError(t, a.Put(mb, "x", model.Str("v")))
}

func TestCommit_BuildsChange(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)

	require.NoError(t, d.Put(model.Root, "a", model.Str("1")))
	require.NoError(t, d.Put(model.Root, "b", model.Str("2")))
	c1, err := d.Commit("first")
	require.NoError(t, err)
	require.NotNil(t, c1)

	assert.Equal(t, testutil.ActorA, c1.Actor)
	assert.Equal(t, uint64(1), c1.Seq)
	assert.Equal(t, uint64(1), c1.StartOp)
	assert.Equal(t, "first", c1.Message)
	assert.Empty(t, c1.Deps)
	assert.Len(t, c1.Ops, 2)
	assert.Equal(t, testutil.Epoch.UnixMilli(), c1.Time)
	require.NoError(t, c1.Verify())
	assert.Equal(t, []model.ChangeHash{c1.Hash}, d.Heads())

	require.NoError(t, d.Put(model.Root, "a", model.Str("3")))
	c2 := commit(t, d)

	assert.Equal(t, uint64(2), c2.Seq)
	assert.Equal(t, uint64(3), c2.StartOp)
	assert.Equal(t, []model.ChangeHash{c1.Hash}, c2.Deps)
	assert.Equal(t, []model.OpID{{Counter: 1, Actor: testutil.ActorA}}, c2.Ops[0].Pred)
	assert.Equal(t, []model.ChangeHash{c2.Hash}, d.Heads())
}

func TestCommit_NothingOpen(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)

	c, err := d.Commit("empty")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, d.Heads())
}

func TestLastLocalChange_CommitsOpenTransaction(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	require.NoError(t, d.Put(model.Root, "k", model.Str("v")))

	c := d.LastLocalChange()
	require.NotNil(t, c)
	assert.Equal(t, []model.ChangeHash{c.Hash}, d.Heads())

	assert.Equal(t, c, d.TakeLastLocalChange())
	assert.Nil(t, d.TakeLastLocalChange())
}

func TestNextOpID(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	assert.Equal(t, model.OpID{Counter: 1, Actor: testutil.ActorA}, d.NextOpID())

	require.NoError(t, d.Put(model.Root, "k", model.Str("v")))
	assert.Equal(t, model.OpID{Counter: 2, Actor: testutil.ActorA}, d.NextOpID())
	assert.Equal(t, uint64(1), d.MaxOp())
}

func TestNestedObjects(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)

	profile, err := d.PutObject(model.Root, "profile", model.ObjMap)
	require.NoError(t, err)
	require.NoError(t, d.Put(profile, "name", model.Str("ada")))

	tags, err := d.PutObject(profile, "tags", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, d.Insert(tags, 0, model.Str("math")))
	require.NoError(t, d.Insert(tags, 1, model.Str("engines")))

	v, ok, err := d.Get(model.Root, "profile")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.IsObject())
	assert.Equal(t, profile, v.Obj)
	assert.Equal(t, model.ObjMap, v.Type)

	assert.Equal(t, map[string]any{
		"profile": map[string]any{
			"name": "ada",
			"tags": []any{"math", "engines"},
		},
	}, materialize(t, d))
}

func TestDelete(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	require.NoError(t, d.Put(model.Root, "k", model.Str("v")))
	commit(t, d)

	require.NoError(t, d.Delete(model.Root, "k"))
	c := commit(t, d)
	assert.Equal(t, model.ActionDelete, c.Ops[0].Action)

	_, ok, err := d.Get(model.Root, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := d.Keys(model.Root)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Deleting an absent key writes nothing.
	require.NoError(t, d.Delete(model.Root, "k"))
	c, err = d.Commit("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestMapRange_SortedAndRestartable(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	for _, k := range []string{"b", "c", "a"} {
		require.NoError(t, d.Put(model.Root, k, model.Str(k)))
	}

	var first []string
	for k := range d.MapRange(model.Root) {
		first = append(first, k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, first)

	var second []string
	for k, v := range d.MapRange(model.Root) {
		s, _ := model.AsString(v.Scalar)
		second = append(second, k+"="+s)
	}
	assert.Equal(t, []string{"a=a", "b=b", "c=c"}, second)
}

func TestMapRange_SnapshotAtStart(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	require.NoError(t, d.Put(model.Root, "a", model.Str("1")))
	require.NoError(t, d.Put(model.Root, "b", model.Str("2")))

	var seen []string
	for k := range d.MapRange(model.Root) {
		seen = append(seen, k)
		if k == "a" {
			require.NoError(t, d.Put(model.Root, "aa", model.Str("new")))
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)

	seen = nil
	for k := range d.MapRange(model.Root) {
		seen = append(seen, k)
	}
	assert.Equal(t, []string{"a", "aa", "b"}, seen)
}

func TestMapRange_EarlyBreakAndMissingObject(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	require.NoError(t, d.Put(model.Root, "a", model.Str("1")))
	require.NoError(t, d.Put(model.Root, "b", model.Str("2")))

	count := 0
	for range d.MapRange(model.Root) {
		count++
		break
	}
	assert.Equal(t, 1, count)

	ghost := model.ObjIDFromOp(model.OpID{Counter: 42, Actor: testutil.ActorC})
	for range d.MapRange(ghost) {
		t.Fatal("missing object must yield nothing")
	}
}

func TestLength(t *testing.T) {
	d := newTestDoc(t, testutil.ActorA)
	list, err := d.PutObject(model.Root, "items", model.ObjList)
	require.NoError(t, err)
	require.NoError(t, d.Insert(list, 0, model.Int(1)))
	require.NoError(t, d.Insert(list, 1, model.Int(2)))

	n, err := d.Length(model.Root)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = d.Length(list)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFork_SameHeadsNewActor(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	require.NoError(t, a.Put(model.Root, "k", model.Str("v")))
	// Left open: Fork commits it.

	b, err := a.Fork()
	require.NoError(t, err)

	assert.NotEqual(t, a.Actor(), b.Actor())
	assert.Equal(t, a.Heads(), b.Heads())
	assert.Len(t, a.Heads(), 1)
	assert.Equal(t, materialize(t, a), materialize(t, b))
	assert.Equal(t, a.MaxOp(), b.MaxOp())
}

func TestFork_IndependentWrites(t *testing.T) {
	a := newTestDoc(t, testutil.ActorA)
	require.NoError(t, a.Put(model.Root, "k", model.Str("v")))
	commit(t, a)

	b, err := a.Fork(WithActor(testutil.ActorB))
	require.NoError(t, err)
	assert.Equal(t, testutil.ActorB, b.Actor())

	require.NoError(t, b.Put(model.Root, "k", model.Str("from-b")))
	cb := commit(t, b)

	assert.Equal(t, "v", getStr(t, a, model.Root, "k"))

	require.NoError(t, a.ApplyChanges(cb))
	assert.Equal(t, "from-b", getStr(t, a, model.Root, "k"))
	assert.Equal(t, a.Heads(), b.Heads())
}

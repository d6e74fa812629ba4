package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

func newTestReplica(t *testing.T, name string, actor model.ActorID, clock *testutil.StepClock) *Replica {
	t.Helper()
	return NewReplica(name, WithActor(actor), WithClock(clock.Now))
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.UserID + ": " + m.Content
	}
	return out
}

func add(t *testing.T, r *Replica, user, content string) *model.Change {
	t.Helper()
	c, err := r.AddMessage(user, content)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestAddMessage_SingleChange(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	r := newTestReplica(t, "user1", testutil.ActorA, clock)

	c := add(t, r, "user1", "Hello, anyone there?")
	assert.Equal(t, uint64(1), c.Seq)
	require.Len(t, c.Ops, 4)
	assert.Equal(t, model.ActionMakeMap, c.Ops[0].Action)
	assert.Equal(t, model.Root, c.Ops[0].Obj)
	assert.Equal(t, []model.ChangeHash{c.Hash}, r.Heads())

	msgs := r.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-"+c.OpID(0).String(), msgs[0].ID)
	assert.Equal(t, "user1", msgs[0].UserID)
	assert.Equal(t, "Hello, anyone there?", msgs[0].Content)
	assert.Equal(t, uint64(testutil.Epoch.UnixMilli()), msgs[0].Timestamp)
	assert.False(t, msgs[0].Edited)
}

func TestExchange_TwoFreshReplicas(t *testing.T) {
	for _, order := range []string{"a-first", "b-first"} {
		t.Run(order, func(t *testing.T) {
			clock := testutil.NewStepClock(time.Second)
			a := newTestReplica(t, "user1", testutil.ActorA, clock)
			b := newTestReplica(t, "user2", testutil.ActorB, clock)

			ca := add(t, a, "user1", "Hello, anyone there?")
			cb := add(t, b, "user2", "Hi! Yes, I'm here!")

			if order == "a-first" {
				require.NoError(t, Deliver(b, ca))
				require.NoError(t, Deliver(a, cb))
			} else {
				require.NoError(t, Deliver(a, cb))
				require.NoError(t, Deliver(b, ca))
			}

			want := []string{"user1: Hello, anyone there?", "user2: Hi! Yes, I'm here!"}
			assert.Equal(t, want, contents(a.GetMessages()))
			assert.Equal(t, want, contents(b.GetMessages()))
			assert.Equal(t, a.GetMessages(), b.GetMessages())
			assert.Equal(t, a.Heads(), b.Heads())
			assert.Len(t, a.Heads(), 2)
		})
	}
}

func TestDeliver_Idempotent(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	b := newTestReplica(t, "b", testutil.ActorB, clock)

	c := add(t, a, "user1", "once")
	for range 3 {
		require.NoError(t, b.Deliver(c))
	}
	assert.Len(t, b.GetMessages(), 1)
}

func TestDeliver_BuffersUntilDependencyArrives(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	b := newTestReplica(t, "b", testutil.ActorB, clock)

	first := add(t, a, "user1", "first")
	second := add(t, a, "user1", "second")
	require.Equal(t, []model.ChangeHash{first.Hash}, second.Deps)

	require.NoError(t, b.Deliver(second))
	assert.Empty(t, b.GetMessages())
	assert.Empty(t, b.Heads())

	require.NoError(t, b.Deliver(first))
	assert.Equal(t, []string{"user1: first", "user1: second"}, contents(b.GetMessages()))
	assert.Equal(t, a.Heads(), b.Heads())
}

func TestBroadcast(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	replicas := make([]*Replica, 3)
	for i := range replicas {
		replicas[i] = newTestReplica(t, fmt.Sprintf("user%d", i+1), testutil.Actor(i+1), clock)
	}

	c := add(t, replicas[0], "user1", "hi all")
	require.NoError(t, Broadcast(c, replicas[1:]...))
	for _, r := range replicas {
		assert.Equal(t, []string{"user1: hi all"}, contents(r.GetMessages()), r.Name())
	}
}

func TestBroadcast_JoinsFailures(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	b := newTestReplica(t, "b", testutil.ActorB, clock)
	c := newTestReplica(t, "c", testutil.ActorC, clock)

	change := add(t, a, "user1", "x")
	bad := change.Clone()
	bad.Time++

	err := Broadcast(bad, b, c)
	require.Error(t, err)
	assert.True(t, model.IsDecodeError(err))
	assert.Contains(t, err.Error(), "deliver to b")
	assert.Contains(t, err.Error(), "deliver to c")
}

func TestEditMessage(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	b := newTestReplica(t, "b", testutil.ActorB, clock)

	c := add(t, a, "user1", "Hello, anyone there?")
	require.NoError(t, b.Deliver(c))
	id := a.GetMessages()[0].ID

	edit, err := b.EditMessage(id, "Hello, is anyone there?")
	require.NoError(t, err)
	require.NoError(t, a.Deliver(edit))

	for _, r := range []*Replica{a, b} {
		msgs := r.GetMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "Hello, is anyone there?", msgs[0].Content)
		assert.True(t, msgs[0].Edited)
		assert.Equal(t, uint64(testutil.Epoch.UnixMilli()), msgs[0].Timestamp, "edit keeps the original timestamp")
	}
}

func TestEditMessage_Unknown(t *testing.T) {
	r := newTestReplica(t, "a", testutil.ActorA, testutil.NewStepClock(time.Second))
	_, err := r.EditMessage("msg-1@nobody", "x")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestEditMessage_ConcurrentEditsConverge(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	b := newTestReplica(t, "b", testutil.ActorB, clock)

	c := add(t, a, "user1", "draft")
	require.NoError(t, b.Deliver(c))
	id := a.GetMessages()[0].ID

	ea, err := a.EditMessage(id, "from a")
	require.NoError(t, err)
	eb, err := b.EditMessage(id, "from b")
	require.NoError(t, err)

	require.NoError(t, a.Deliver(eb))
	require.NoError(t, b.Deliver(ea))

	// Equal counters: the higher actor wins.
	assert.Equal(t, "from b", a.GetMessages()[0].Content)
	assert.Equal(t, a.GetMessages(), b.GetMessages())
}

func TestGetMessages_SkipsIncompleteEntries(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	r := newTestReplica(t, "a", testutil.ActorA, clock)
	add(t, r, "user1", "valid")

	err := r.View(func(d *doc.Document) error {
		require.NoError(t, d.Put(model.Root, "title", model.Str("not a message")))

		noContent, err := d.PutObject(model.Root, "msg-partial", model.ObjMap)
		require.NoError(t, err)
		require.NoError(t, d.Put(noContent, fieldUserID, model.Str("user2")))
		require.NoError(t, d.Put(noContent, fieldTimestamp, model.Timestamp(5)))

		wrongType, err := d.PutObject(model.Root, "msg-wrongtype", model.ObjMap)
		require.NoError(t, err)
		require.NoError(t, d.Put(wrongType, fieldUserID, model.Str("user3")))
		require.NoError(t, d.Put(wrongType, fieldContent, model.Int(42)))
		require.NoError(t, d.Put(wrongType, fieldTimestamp, model.Timestamp(6)))

		list, err := d.PutObject(model.Root, "msg-list", model.ObjList)
		require.NoError(t, err)
		require.NoError(t, d.Insert(list, 0, model.Str("x")))

		require.NoError(t, d.Put(model.Root, "msg-scalar", model.Str("x")))
		_, err = d.Commit("junk")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"user1: valid"}, contents(r.GetMessages()))
}

func TestGetMessages_EqualTimestampsKeepKeyOrder(t *testing.T) {
	frozen := func() time.Time { return testutil.Epoch }
	a := NewReplica("a", WithActor(testutil.ActorA), WithClock(frozen))
	b := NewReplica("b", WithActor(testutil.ActorB), WithClock(frozen))

	ca, err := a.AddMessage("user1", "from a")
	require.NoError(t, err)
	cb, err := b.AddMessage("user2", "from b")
	require.NoError(t, err)
	require.NoError(t, a.Deliver(cb))
	require.NoError(t, b.Deliver(ca))

	msgs := a.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].Timestamp, msgs[1].Timestamp)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
	assert.Equal(t, msgs, b.GetMessages())
}

func TestFork_NewActorSameHistory(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newTestReplica(t, "a", testutil.ActorA, clock)
	add(t, a, "user1", "before fork")

	c, err := a.Fork("c", WithActor(testutil.ActorC))
	require.NoError(t, err)
	assert.Equal(t, "c", c.Name())
	assert.Equal(t, testutil.ActorC, c.Actor())
	assert.Equal(t, a.Heads(), c.Heads())
	assert.Equal(t, a.GetMessages(), c.GetMessages())

	add(t, c, "user3", "after fork")
	assert.Len(t, a.GetMessages(), 1)
	assert.Len(t, c.GetMessages(), 2)
}

func TestFork_RejectsParentName(t *testing.T) {
	a := newTestReplica(t, "a", testutil.ActorA, testutil.NewStepClock(time.Second))
	_, err := a.Fork("a")
	assert.ErrorIs(t, err, ErrNameInUse)
}

func TestAddMessage_RejectsInvalidUTF8(t *testing.T) {
	a := newTestReplica(t, "a", testutil.ActorA, testutil.NewStepClock(time.Second))

	_, err := a.AddMessage("user1", "bad\xffbyte")
	assert.ErrorIs(t, err, model.ErrMalformedOperation)
	_, err = a.AddMessage("user\xff", "hi")
	assert.ErrorIs(t, err, model.ErrMalformedOperation)

	assert.Empty(t, a.GetMessages())
	assert.Empty(t, a.Heads())
}

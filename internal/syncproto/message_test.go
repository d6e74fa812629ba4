package syncproto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

func TestBloom_ContainsAddedHashes(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	d := newDoc(testutil.ActorA, clock)
	var hashes []model.ChangeHash
	for _, k := range []string{"a", "b", "c", "d"} {
		hashes = append(hashes, write(t, d, k, k).Hash)
	}

	b := NewBloom(hashes, DefaultFalsePositiveRate)
	for _, h := range hashes {
		assert.True(t, b.Contains(h))
	}

	var nilBloom *Bloom
	assert.False(t, nilBloom.Contains(hashes[0]))
	assert.False(t, NewBloom(nil, DefaultFalsePositiveRate).Contains(hashes[0]))
}

func TestBloom_JSONRoundTrip(t *testing.T) {
	h := model.ChangeHash("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	b := NewBloom([]model.ChangeHash{h}, DefaultFalsePositiveRate)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var back Bloom
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Contains(h))

	err = json.Unmarshal([]byte(`{"m":"x"}`), &back)
	assert.Error(t, err)
}

func TestEncodeDecodeMessage(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newDoc(testutil.ActorA, clock)
	c1 := write(t, a, "k", "v")
	c2 := write(t, a, "k", "w")

	msg := &Message{
		Heads:   a.Heads(),
		Need:    []model.ChangeHash{},
		Have:    []Have{{LastSync: []model.ChangeHash{c1.Hash}, Bloom: NewBloom([]model.ChangeHash{c2.Hash}, 0.01)}},
		Changes: []*model.Change{c1, c2},
	}

	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	back, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Heads, back.Heads)
	assert.Empty(t, back.Need)
	require.Len(t, back.Have, 1)
	assert.Equal(t, []model.ChangeHash{c1.Hash}, back.Have[0].LastSync)
	assert.True(t, back.Have[0].Bloom.Contains(c2.Hash))
	require.Len(t, back.Changes, 2)
	for _, c := range back.Changes {
		require.NoError(t, c.Verify())
	}

	// The decoded message is directly usable.
	b := newDoc(testutil.ActorB, clock)
	require.NoError(t, ReceiveSyncMessage(b, NewState(), back))
	assert.Equal(t, a.Heads(), b.Heads())
}

func TestDecodeMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `not json`},
		{"wrong version", `{"version":99,"heads":[],"need":[],"have":[],"changes":[]}`},
		{"null change", `{"version":1,"heads":[],"need":[],"have":[],"changes":[null]}`},
		{"bad op", `{"version":1,"heads":[],"need":[],"have":[],"changes":[{"actor":"aa","seq":1,"start_op":1,"time":0,"deps":[],"ops":[{"action":"warp","obj":"_root","key":"k","pred":[]}],"hash":""}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, model.IsDecodeError(err), "got %v", err)
		})
	}
}

func TestEncodeDecodeState(t *testing.T) {
	h := model.ChangeHash("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	st := NewState()
	st.SharedHeads = []model.ChangeHash{h}
	st.TheirHeads = []model.ChangeHash{h}
	st.InFlight = true
	st.SentHashes.Add(h)

	data, err := EncodeState(st)
	require.NoError(t, err)

	back, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, []model.ChangeHash{h}, back.SharedHeads)
	assert.Nil(t, back.TheirHeads)
	assert.False(t, back.InFlight)
	assert.Zero(t, back.SentHashes.Cardinality())
}

func TestDecodeState_Errors(t *testing.T) {
	for _, data := range []string{`[]`, `{"version":2,"shared_heads":[]}`, `{"version":1,"shared_heads":["nothex"]}`} {
		_, err := DecodeState([]byte(data))
		assert.True(t, model.IsDecodeError(err), "input %s: got %v", data, err)
	}
}

func TestEncodeDecodeMessage_ReplacementRuneKeepsHash(t *testing.T) {
	clock := testutil.NewStepClock(time.Second)
	a := newDoc(testutil.ActorA, clock)
	c := write(t, a, "k", "bad\uFFFDbyte")

	data, err := EncodeMessage(&Message{
		Heads:   a.Heads(),
		Need:    []model.ChangeHash{},
		Changes: []*model.Change{c},
	})
	require.NoError(t, err)
	back, err := DecodeMessage(data)
	require.NoError(t, err)

	require.Len(t, back.Changes, 1)
	assert.NoError(t, back.Changes[0].Verify())

	b := newDoc(testutil.ActorB, clock)
	require.NoError(t, b.ApplyChanges(back.Changes...))
	assert.Equal(t, a.Heads(), b.Heads())
}

package syncproto

import (
	"encoding/json"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/model"
)

// State is one side's bookkeeping for one peer.
type State struct {
	// SharedHeads are heads both sides are known to have.
	SharedHeads []model.ChangeHash

	// LastSentHeads are our heads as of the last message we sent.
	LastSentHeads []model.ChangeHash

	// TheirHeads is the peer's last announced frontier; nil until the
	// first message arrives.
	TheirHeads []model.ChangeHash

	// TheirNeed are hashes the peer asked for.
	TheirNeed []model.ChangeHash

	// TheirHave is the peer's last history summary; nil until received.
	TheirHave []Have

	// SentHashes are changes sent that the peer has not yet acknowledged
	// through its heads.
	SentHashes mapset.Set[model.ChangeHash]

	// InFlight is true while a sent message awaits a reply.
	InFlight bool
}

// NewState returns the state for a peer we have never talked to.
func NewState() *State {
	return &State{
		SharedHeads:   []model.ChangeHash{},
		LastSentHeads: []model.ChangeHash{},
		SentHashes:    mapset.NewThreadUnsafeSet[model.ChangeHash](),
	}
}

// Phase is the coarse protocol state of a peer pair.
type Phase string

const (
	PhaseNoExchange Phase = "no_exchange"
	PhaseExchanging Phase = "exchanging"
	PhaseConverged  Phase = "converged"
)

// Phase classifies the state against our current heads.
func (st *State) Phase(ourHeads []model.ChangeHash) Phase {
	switch {
	case st.TheirHeads == nil:
		return PhaseNoExchange
	case slices.Equal(st.TheirHeads, ourHeads) && slices.Equal(st.SharedHeads, ourHeads):
		return PhaseConverged
	default:
		return PhaseExchanging
	}
}

type persistedState struct {
	Version     int                `json:"version"`
	SharedHeads []model.ChangeHash `json:"shared_heads"`
}

// EncodeState serializes the durable part of st: only SharedHeads
// survive, everything else is per-connection and starts fresh.
func EncodeState(st *State) ([]byte, error) {
	heads := st.SharedHeads
	if heads == nil {
		heads = []model.ChangeHash{}
	}
	data, err := json.Marshal(persistedState{Version: model.SyncMessageVersion, SharedHeads: heads})
	if err != nil {
		return nil, fmt.Errorf("encode sync state: %w", err)
	}
	return data, nil
}

// DecodeState restores a state written by EncodeState.
func DecodeState(data []byte) (*State, error) {
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, model.NewDecodeError("sync state", err)
	}
	if ps.Version != model.SyncMessageVersion {
		return nil, model.NewDecodeError(fmt.Sprintf("sync state version %d", ps.Version), nil)
	}
	for _, h := range ps.SharedHeads {
		if _, err := model.ParseChangeHash(string(h)); err != nil {
			return nil, model.NewDecodeError("sync state", err)
		}
	}
	st := NewState()
	st.SharedHeads = model.SortHashes(ps.SharedHeads)
	return st, nil
}

package chat

import (
	"fmt"

	"github.com/roach88/replichat/internal/syncproto"
)

// SyncState returns the sync state kept for peer, creating it on first use.
func (r *Replica) SyncState(peer string) *syncproto.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerState(peer)
}

func (r *Replica) peerState(peer string) *syncproto.State {
	st, ok := r.peers[peer]
	if !ok {
		st = syncproto.NewState()
		r.peers[peer] = st
	}
	return st
}

// Peers returns the names of peers with a sync state.
func (r *Replica) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for name := range r.peers {
		out = append(out, name)
	}
	return out
}

// GenerateSyncMessage produces the next message for peer, or false when
// there is nothing to send.
func (r *Replica) GenerateSyncMessage(peer string) (*syncproto.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.doc.Commit(""); err != nil {
		r.logger.Error("commit before sync failed", "error", err)
		return nil, false
	}
	return r.syncer.GenerateSyncMessage(r.doc, r.peerState(peer))
}

// ReceiveSyncMessage applies a message that came from peer.
func (r *Replica) ReceiveSyncMessage(peer string, msg *syncproto.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.syncer.ReceiveSyncMessage(r.doc, r.peerState(peer), msg); err != nil {
		return fmt.Errorf("%s receive from %s: %w", r.name, peer, err)
	}
	return nil
}

// SyncWith runs the sync loop against other until both sides are quiet
// and returns the number of rounds.
func (r *Replica) SyncWith(other *Replica, maxRounds int) (int, error) {
	if r == other {
		return 0, fmt.Errorf("%s cannot sync with itself", r.name)
	}

	// Lock in a fixed order so concurrent a.SyncWith(b) and b.SyncWith(a)
	// cannot deadlock.
	first, second := r, other
	if other.name < r.name || (other.name == r.name && other.doc.Actor() < r.doc.Actor()) {
		first, second = other, r
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	rounds, err := r.syncer.Converge(r.doc, r.peerState(other.name), other.doc, other.peerState(r.name), maxRounds)
	if err != nil {
		return rounds, fmt.Errorf("sync %s with %s: %w", r.name, other.name, err)
	}
	r.logger.Debug("synced", "peer", other.name, "rounds", rounds)
	return rounds, nil
}

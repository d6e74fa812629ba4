package syncproto

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
)

// Syncer generates and receives sync messages. It holds no per-peer data;
// one Syncer can serve any number of States.
type Syncer struct {
	fpRate float64
	logger *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithFalsePositiveRate sets the Bloom filter false positive target.
// Values outside (0, 1) are ignored.
func WithFalsePositiveRate(rate float64) Option {
	return func(s *Syncer) {
		if rate > 0 && rate < 1 {
			s.fpRate = rate
		}
	}
}

// WithLogger sets the logger (default: discard).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// NewSyncer creates a Syncer.
func NewSyncer(opts ...Option) *Syncer {
	s := &Syncer{
		fpRate: DefaultFalsePositiveRate,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSyncer = NewSyncer()

// GenerateSyncMessage uses a default Syncer.
func GenerateSyncMessage(d *doc.Document, st *State) (*Message, bool) {
	return defaultSyncer.GenerateSyncMessage(d, st)
}

// ReceiveSyncMessage uses a default Syncer.
func ReceiveSyncMessage(d *doc.Document, st *State, msg *Message) error {
	return defaultSyncer.ReceiveSyncMessage(d, st, msg)
}

// GenerateSyncMessage returns the next message for the peer, or false
// when there is nothing new to communicate. st is updated as if the
// message were sent.
func (s *Syncer) GenerateSyncMessage(d *doc.Document, st *State) (*Message, bool) {
	ourHeads := d.Heads()
	ourNeed := d.MissingDeps(st.TheirHeads...)

	// Only summarize our history once we are not waiting on anything
	// the peer already told us about, or before we know its heads at all.
	theirHeads := mapset.NewThreadUnsafeSet(st.TheirHeads...)
	var ourHave []Have
	if st.TheirHeads == nil || theirHeads.Contains(ourNeed...) {
		ourHave = []Have{s.makeHave(d, st.SharedHeads)}
	}

	// The peer summarized against heads we do not know: ask it to start over.
	if len(st.TheirHave) > 0 {
		lastSync := st.TheirHave[0].LastSync
		for _, h := range lastSync {
			if !d.HasChange(h) {
				s.logger.Debug("sync reset: peer last_sync unknown", "hash", h.Short())
				return &Message{
					Heads:   ourHeads,
					Need:    []model.ChangeHash{},
					Have:    []Have{{LastSync: []model.ChangeHash{}, Bloom: NewBloom(nil, s.fpRate)}},
					Changes: []*model.Change{},
				}, true
			}
		}
	}

	var changes []*model.Change
	if st.TheirHave != nil && st.TheirNeed != nil {
		changes = s.changesToSend(d, st.TheirHave, st.TheirNeed)
	}
	changes = slices.DeleteFunc(changes, func(c *model.Change) bool {
		return st.SentHashes.Contains(c.Hash)
	})

	headsUnchanged := slices.Equal(st.LastSentHeads, ourHeads)
	headsEqual := st.TheirHeads != nil && slices.Equal(st.TheirHeads, ourHeads)
	if headsUnchanged {
		if headsEqual && len(changes) == 0 {
			return nil, false
		}
		if st.InFlight {
			return nil, false
		}
	}

	st.LastSentHeads = ourHeads
	for _, c := range changes {
		st.SentHashes.Add(c.Hash)
	}
	st.InFlight = true

	if ourNeed == nil {
		ourNeed = []model.ChangeHash{}
	}
	if changes == nil {
		changes = []*model.Change{}
	}

	s.logger.Debug("sync message generated",
		"heads", len(ourHeads),
		"need", len(ourNeed),
		"have", len(ourHave),
		"changes", len(changes),
	)
	return &Message{Heads: ourHeads, Need: ourNeed, Have: ourHave, Changes: changes}, true
}

// ReceiveSyncMessage applies the message's changes and records what the
// message reveals about the peer.
func (s *Syncer) ReceiveSyncMessage(d *doc.Document, st *State, msg *Message) error {
	if msg == nil {
		return model.NewMalformedOperation("nil sync message")
	}

	beforeHeads := d.Heads()
	if len(msg.Changes) > 0 {
		if err := d.ApplyChanges(msg.Changes...); err != nil {
			return fmt.Errorf("receive sync message: %w", err)
		}
		st.SharedHeads = advanceHeads(beforeHeads, d.Heads(), st.SharedHeads)
	}

	// Forget sent changes the peer's heads now cover.
	if st.SentHashes.Cardinality() > 0 {
		acked := d.Ancestors(msg.Heads)
		st.SentHashes = st.SentHashes.Difference(acked)
	}

	if len(msg.Changes) == 0 && slices.Equal(msg.Heads, beforeHeads) {
		st.LastSentHeads = slices.Clone(msg.Heads)
	}
	if st.SentHashes.Cardinality() == 0 {
		st.InFlight = false
	}

	var known []model.ChangeHash
	for _, h := range msg.Heads {
		if d.HasChange(h) {
			known = append(known, h)
		}
	}
	if len(known) == len(msg.Heads) {
		st.SharedHeads = slices.Clone(msg.Heads)
		st.InFlight = false
		// An empty frontier means the peer lost its data: resync fully.
		if len(msg.Heads) == 0 {
			st.LastSentHeads = []model.ChangeHash{}
			st.SentHashes.Clear()
		}
	} else {
		st.SharedHeads = model.SortHashes(append(slices.Clone(st.SharedHeads), known...))
	}

	st.TheirHave = msg.Have
	if st.TheirHave == nil {
		st.TheirHave = []Have{}
	}
	st.TheirHeads = model.SortHashes(msg.Heads)
	st.TheirNeed = model.SortHashes(msg.Need)

	s.logger.Debug("sync message received",
		"their_heads", len(msg.Heads),
		"changes", len(msg.Changes),
		"shared_heads", len(st.SharedHeads),
	)
	return nil
}

// makeHave summarizes every change after lastSync.
func (s *Syncer) makeHave(d *doc.Document, lastSync []model.ChangeHash) Have {
	changes := d.GetChanges(lastSync)
	hashes := make([]model.ChangeHash, len(changes))
	for i, c := range changes {
		hashes[i] = c.Hash
	}
	return Have{LastSync: slices.Clone(lastSync), Bloom: NewBloom(hashes, s.fpRate)}
}

// changesToSend picks the changes the peer lacks: those since its
// last_sync that miss every Bloom filter, everything depending on them,
// and whatever it explicitly asked for.
func (s *Syncer) changesToSend(d *doc.Document, have []Have, need []model.ChangeHash) []*model.Change {
	if len(have) == 0 {
		var out []*model.Change
		for _, h := range need {
			if c, ok := d.GetChangeByHash(h); ok {
				out = append(out, c)
			}
		}
		return out
	}

	lastSync := mapset.NewThreadUnsafeSet[model.ChangeHash]()
	for _, h := range have {
		lastSync.Append(h.LastSync...)
	}
	changes := d.GetChanges(lastSync.ToSlice())

	var missed []model.ChangeHash
	for _, c := range changes {
		if !inAnyBloom(have, c.Hash) {
			missed = append(missed, c.Hash)
		}
	}
	toSend := mapset.NewThreadUnsafeSet(missed...)
	for _, c := range d.Dependents(missed) {
		toSend.Add(c.Hash)
	}

	var out []*model.Change
	for _, h := range need {
		if toSend.Contains(h) {
			continue
		}
		if c, ok := d.GetChangeByHash(h); ok {
			out = append(out, c)
		}
	}
	for _, c := range changes {
		if toSend.Contains(c.Hash) {
			out = append(out, c)
		}
	}
	return out
}

func inAnyBloom(have []Have, h model.ChangeHash) bool {
	for _, hv := range have {
		if hv.Bloom.Contains(h) {
			return true
		}
	}
	return false
}

// advanceHeads computes shared heads after applying changes: our new
// heads that were not heads before, plus old shared heads still in our heads.
func advanceHeads(oldHeads, newHeads, oldShared []model.ChangeHash) []model.ChangeHash {
	old := mapset.NewThreadUnsafeSet(oldHeads...)
	current := mapset.NewThreadUnsafeSet(newHeads...)

	advanced := mapset.NewThreadUnsafeSet[model.ChangeHash]()
	for _, h := range newHeads {
		if !old.Contains(h) {
			advanced.Add(h)
		}
	}
	for _, h := range oldShared {
		if current.Contains(h) {
			advanced.Add(h)
		}
	}
	return model.SortHashes(advanced.ToSlice())
}

// ErrNotConverged is returned by Converge when the round limit is hit.
var ErrNotConverged = errors.New("sync did not converge")

// Converge runs the sync loop between two in-process documents until both
// directions have nothing to send in the same round. It returns the
// number of rounds, including the final silent one.
func (s *Syncer) Converge(a *doc.Document, stA *State, b *doc.Document, stB *State, maxRounds int) (int, error) {
	for round := 1; round <= maxRounds; round++ {
		sent := false

		if msg, ok := s.GenerateSyncMessage(a, stA); ok {
			sent = true
			if err := s.ReceiveSyncMessage(b, stB, msg); err != nil {
				return round, fmt.Errorf("round %d a->b: %w", round, err)
			}
		}
		if msg, ok := s.GenerateSyncMessage(b, stB); ok {
			sent = true
			if err := s.ReceiveSyncMessage(a, stA, msg); err != nil {
				return round, fmt.Errorf("round %d b->a: %w", round, err)
			}
		}

		if !sent {
			s.logger.Debug("sync converged", "rounds", round)
			return round, nil
		}
	}
	return maxRounds, fmt.Errorf("%w after %d rounds", ErrNotConverged, maxRounds)
}

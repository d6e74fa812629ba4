package doc

import (
	"io"
	"log/slog"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/model"
)

// Document is one replica's materialized state plus its change history.
type Document struct {
	actor  model.ActorID
	logger *slog.Logger
	now    func() time.Time

	changes  map[model.ChangeHash]*model.Change // arena
	history  []model.ChangeHash                 // application order (causal)
	heads    mapset.Set[model.ChangeHash]
	actorSeq map[model.ActorID]uint64
	clock    lamport

	objects map[model.ObjID]*object

	// Changes waiting for dependencies, in arrival order.
	pending       []*model.Change
	pendingSet    mapset.Set[model.ChangeHash]
	rejectMissing bool

	tx        *transaction
	lastLocal *model.Change
}

// Option configures a Document.
type Option func(*Document)

// WithActor fixes the actor id instead of generating one.
func WithActor(actor model.ActorID) Option {
	return func(d *Document) {
		d.actor = actor
	}
}

// WithLogger sets the logger (default: discard).
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		d.logger = logger
	}
}

// WithClock sets the wall clock stamped on local changes (informational only).
func WithClock(now func() time.Time) Option {
	return func(d *Document) {
		d.now = now
	}
}

// New creates an empty document with a root map and a fresh actor id.
func New(opts ...Option) *Document {
	d := &Document{
		actor:      model.NewActorID(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		changes:    make(map[model.ChangeHash]*model.Change),
		heads:      mapset.NewThreadUnsafeSet[model.ChangeHash](),
		actorSeq:   make(map[model.ActorID]uint64),
		objects:    map[model.ObjID]*object{model.Root: newObject(model.Root, model.ObjMap)},
		pendingSet: mapset.NewThreadUnsafeSet[model.ChangeHash](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fork returns an independent replica holding the same applied history under
// a new actor id (unless WithActor is given). An open transaction is
// committed first, so the fork's heads equal the parent's heads. Buffered
// changes are not copied.
func (d *Document) Fork(opts ...Option) (*Document, error) {
	if err := d.commitOpen(""); err != nil {
		return nil, err
	}

	base := []Option{WithLogger(d.logger), WithClock(d.now)}
	f := New(append(base, opts...)...)
	for _, h := range d.history {
		if err := f.applyChange(d.changes[h]); err != nil {
			return nil, err
		}
	}
	f.logger.Debug("forked document", "parent", d.actor.Short(), "actor", f.actor.Short(), "changes", len(f.history))
	return f, nil
}

// Actor returns the id used for local writes.
func (d *Document) Actor() model.ActorID {
	return d.actor
}

// Heads returns the sorted frontier: hashes with no known descendant.
// Uncommitted local ops are not reflected until Commit.
func (d *Document) Heads() []model.ChangeHash {
	heads := d.heads.ToSlice()
	slices.Sort(heads)
	return heads
}

// NextOpID returns the id the next local op will receive.
func (d *Document) NextOpID() model.OpID {
	return model.OpID{Counter: d.clock.peek(), Actor: d.actor}
}

// MaxOp returns the highest op counter seen.
func (d *Document) MaxOp() uint64 {
	return d.clock.current()
}

// HasChange reports whether the change has been applied (buffered changes excluded).
func (d *Document) HasChange(hash model.ChangeHash) bool {
	_, ok := d.changes[hash]
	return ok
}

// GetChangeByHash returns an applied change.
func (d *Document) GetChangeByHash(hash model.ChangeHash) (*model.Change, bool) {
	c, ok := d.changes[hash]
	return c, ok
}

// Changes returns every applied change in application order.
func (d *Document) Changes() []*model.Change {
	out := make([]*model.Change, len(d.history))
	for i, h := range d.history {
		out[i] = d.changes[h]
	}
	return out
}

// PendingCount returns the number of buffered changes.
func (d *Document) PendingCount() int {
	return len(d.pending)
}

// LastLocalChange commits any open transaction and returns the most recent
// local change not yet taken, or nil.
func (d *Document) LastLocalChange() *model.Change {
	if err := d.commitOpen(""); err != nil {
		d.logger.Error("commit failed", "error", err)
		return nil
	}
	return d.lastLocal
}

// TakeLastLocalChange is LastLocalChange followed by clearing it, so the
// same change is never handed to a transport twice.
func (d *Document) TakeLastLocalChange() *model.Change {
	c := d.LastLocalChange()
	d.lastLocal = nil
	return c
}

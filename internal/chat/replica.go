package chat

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/syncproto"
)

// ErrUnknownMessage is returned when editing a message id that is not in
// the replica's document.
var ErrUnknownMessage = errors.New("unknown message")

// ErrNameInUse is returned when a fork would share its parent's name.
var ErrNameInUse = errors.New("replica name in use")

// Replica is one participant: a named document plus its per-peer sync
// states. Methods are safe for concurrent use.
type Replica struct {
	mu     sync.Mutex
	name   string
	doc    *doc.Document
	now    func() time.Time
	base   *slog.Logger
	logger *slog.Logger
	syncer *syncproto.Syncer

	peers map[string]*syncproto.State
	saved mapset.Set[model.ChangeHash]
}

type options struct {
	actor  model.ActorID
	now    func() time.Time
	logger *slog.Logger
	syncer *syncproto.Syncer
}

// Option configures a Replica.
type Option func(*options)

// WithActor fixes the replica's actor id.
func WithActor(actor model.ActorID) Option {
	return func(o *options) {
		o.actor = actor
	}
}

// WithClock sets the wall clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger (default: discard).
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSyncer sets the sync engine used by SyncWith and the per-peer
// message helpers.
func WithSyncer(s *syncproto.Syncer) Option {
	return func(o *options) {
		o.syncer = s
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.syncer == nil {
		o.syncer = syncproto.NewSyncer(syncproto.WithLogger(o.logger))
	}
	return o
}

func (o options) docOptions() []doc.Option {
	out := []doc.Option{
		doc.WithClock(o.now),
		doc.WithLogger(o.logger),
	}
	if o.actor != "" {
		out = append(out, doc.WithActor(o.actor))
	}
	return out
}

func newReplica(name string, d *doc.Document, o options) *Replica {
	return &Replica{
		name:   name,
		doc:    d,
		now:    o.now,
		base:   o.logger,
		logger: o.logger.With("replica", name),
		syncer: o.syncer,
		peers:  make(map[string]*syncproto.State),
		saved:  mapset.NewThreadUnsafeSet[model.ChangeHash](),
	}
}

// NewReplica creates a replica with an empty document.
func NewReplica(name string, opts ...Option) *Replica {
	o := buildOptions(opts)
	return newReplica(name, doc.New(o.docOptions()...), o)
}

// Fork creates a new replica holding a copy of r's history under a new
// actor id. Sync states are not copied.
func (r *Replica) Fork(name string, opts ...Option) (*Replica, error) {
	if name == r.name {
		return nil, fmt.Errorf("fork %s: %w", r.name, ErrNameInUse)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	base := []Option{WithClock(r.now), WithLogger(r.base), WithSyncer(r.syncer)}
	o := buildOptions(append(base, opts...))
	d, err := r.doc.Fork(o.docOptions()...)
	if err != nil {
		return nil, fmt.Errorf("fork %s: %w", r.name, err)
	}
	return newReplica(name, d, o), nil
}

// Name returns the replica's name.
func (r *Replica) Name() string {
	return r.name
}

// Actor returns the replica's actor id.
func (r *Replica) Actor() model.ActorID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Actor()
}

// Heads returns the replica's frontier.
func (r *Replica) Heads() []model.ChangeHash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Heads()
}

// View runs fn with exclusive access to the underlying document.
func (r *Replica) View(fn func(d *doc.Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.doc)
}

// Message fields in the document.
const (
	fieldUserID    = "user_id"
	fieldContent   = "content"
	fieldTimestamp = "timestamp"
	fieldEdited    = "edited"

	keyPrefix = "msg-"
)

// AddMessage records a message as one change and returns it for delivery.
// The message key is derived from the next op id, so it is unique without
// relying on the wall clock.
func (r *Replica) AddMessage(userID, content string) (*model.Change, error) {
	// Checked before the first write so a rejected message leaves no
	// partial entry in the open transaction.
	if !utf8.ValidString(userID) || !utf8.ValidString(content) {
		return nil, fmt.Errorf("add message: %w", model.NewMalformedOperation("message text is not valid UTF-8"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.doc.Commit(""); err != nil {
		return nil, err
	}

	key := keyPrefix + r.doc.NextOpID().String()
	ts := model.Timestamp(r.now().UnixMilli())

	msg, err := r.doc.PutObject(model.Root, key, model.ObjMap)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	for _, f := range []struct {
		key   string
		value model.Scalar
	}{
		{fieldUserID, model.Str(userID)},
		{fieldContent, model.Str(content)},
		{fieldTimestamp, ts},
	} {
		if err := r.doc.Put(msg, f.key, f.value); err != nil {
			return nil, fmt.Errorf("add message: %w", err)
		}
	}

	c, err := r.doc.Commit("add " + key)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	r.logger.Debug("message added", "id", key, "user", userID, "change", c.Hash.Short())
	return c, nil
}

// EditMessage replaces a message's content and marks it edited.
func (r *Replica) EditMessage(id, content string) (*model.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.doc.Commit(""); err != nil {
		return nil, err
	}

	v, ok, err := r.doc.Get(model.Root, id)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if !ok || !v.IsObject() || v.Type != model.ObjMap {
		return nil, fmt.Errorf("edit message %q: %w", id, ErrUnknownMessage)
	}

	if err := r.doc.Put(v.Obj, fieldContent, model.Str(content)); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := r.doc.Put(v.Obj, fieldEdited, model.Bool(true)); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	c, err := r.doc.Commit("edit " + id)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	r.logger.Debug("message edited", "id", id, "change", c.Hash.Short())
	return c, nil
}

// Deliver applies a change received from another replica.
func (r *Replica) Deliver(changes ...*model.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.doc.ApplyChanges(changes...); err != nil {
		return fmt.Errorf("deliver to %s: %w", r.name, err)
	}
	if n := r.doc.PendingCount(); n > 0 {
		r.logger.Debug("changes waiting for dependencies", "pending", n)
	}
	return nil
}

// Deliver hands change to target.
func Deliver(target *Replica, change *model.Change) error {
	return target.Deliver(change)
}

// Broadcast delivers change to every replica. Every target is attempted;
// failures are joined.
func Broadcast(change *model.Change, replicas ...*Replica) error {
	var errs []error
	for _, r := range replicas {
		if err := r.Deliver(change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isMessageKey reports whether a root key was written by AddMessage.
func isMessageKey(key string) bool {
	return strings.HasPrefix(key, keyPrefix)
}

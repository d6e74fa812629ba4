package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/syncproto"
)

// ErrUnknownReplica is returned by LoadReplica for a name never saved.
var ErrUnknownReplica = errors.New("unknown replica")

// ChangeLog is durable storage for replicas. Implementations must make
// AppendChanges idempotent per (replica, hash) and return changes in
// append order.
type ChangeLog interface {
	SaveActor(ctx context.Context, replica string, actor model.ActorID) error
	LoadActor(ctx context.Context, replica string) (model.ActorID, bool, error)
	AppendChanges(ctx context.Context, replica string, changes []*model.Change) error
	LoadChanges(ctx context.Context, replica string) ([]*model.Change, error)
	SaveSyncState(ctx context.Context, replica, peer string, state []byte) error
	LoadSyncStates(ctx context.Context, replica string) (map[string][]byte, error)
}

// Save writes the replica's actor, every change not saved before, and the
// durable part of each peer sync state.
func (r *Replica) Save(ctx context.Context, log ChangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.doc.Commit(""); err != nil {
		return err
	}
	if err := log.SaveActor(ctx, r.name, r.doc.Actor()); err != nil {
		return fmt.Errorf("save %s: %w", r.name, err)
	}

	var fresh []*model.Change
	for _, c := range r.doc.Changes() {
		if !r.saved.Contains(c.Hash) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) > 0 {
		if err := log.AppendChanges(ctx, r.name, fresh); err != nil {
			return fmt.Errorf("save %s: %w", r.name, err)
		}
		for _, c := range fresh {
			r.saved.Add(c.Hash)
		}
	}

	for peer, st := range r.peers {
		data, err := syncproto.EncodeState(st)
		if err != nil {
			return fmt.Errorf("save %s: %w", r.name, err)
		}
		if err := log.SaveSyncState(ctx, r.name, peer, data); err != nil {
			return fmt.Errorf("save %s: %w", r.name, err)
		}
	}

	r.logger.Debug("replica saved", "changes", len(fresh), "peers", len(r.peers))
	return nil
}

// LoadReplica restores a saved replica: same actor, full history and
// persisted peer states. A WithActor option is ignored.
func LoadReplica(ctx context.Context, log ChangeLog, name string, opts ...Option) (*Replica, error) {
	actor, ok, err := log.LoadActor(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("load %s: %w", name, ErrUnknownReplica)
	}

	o := buildOptions(opts)
	o.actor = actor

	changes, err := log.LoadChanges(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	d := doc.New(o.docOptions()...)
	if err := d.ApplyChanges(changes...); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, model.NewDecodeError("stored change", err))
	}
	if n := d.PendingCount(); n > 0 {
		return nil, fmt.Errorf("load %s: %w", name, model.NewDecodeError(fmt.Sprintf("%d stored changes lack dependencies", n), nil))
	}

	r := newReplica(name, d, o)
	for _, c := range changes {
		r.saved.Add(c.Hash)
	}

	states, err := log.LoadSyncStates(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	for peer, data := range states {
		st, err := syncproto.DecodeState(data)
		if err != nil {
			return nil, fmt.Errorf("load %s: peer %s: %w", name, peer, err)
		}
		r.peers[peer] = st
	}

	r.logger.Debug("replica loaded", "changes", len(changes), "peers", len(states))
	return r, nil
}

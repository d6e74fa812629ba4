package store

import (
	"context"
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// SaveActor records the actor id a replica writes under.
// Saving again replaces the stored actor.
func (s *Store) SaveActor(ctx context.Context, replica string, actor model.ActorID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replicas (name, actor)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET actor = excluded.actor
	`, replica, string(actor))
	if err != nil {
		return fmt.Errorf("save actor: %w", err)
	}
	return nil
}

// AppendChanges appends changes to a replica's log in one transaction.
// Uses ON CONFLICT(replica, hash) DO NOTHING for idempotency - changes
// already stored are silently skipped and keep their original position.
//
// Note: The replica must exist (foreign key constraint); call SaveActor first.
func (s *Store) AppendChanges(ctx context.Context, replica string, changes []*model.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append changes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO changes (replica, hash, actor, actor_seq, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(replica, hash) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append changes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		if c == nil || c.Hash == "" {
			return fmt.Errorf("append changes: %w", model.NewMalformedOperation("change is not sealed"))
		}
		body, err := marshalChange(c)
		if err != nil {
			return fmt.Errorf("append changes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, replica, string(c.Hash), string(c.Actor), c.Seq, body); err != nil {
			return fmt.Errorf("append change %s: %w", c.Hash.Short(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append changes: commit: %w", err)
	}
	return nil
}

// SaveSyncState stores the encoded sync state a replica keeps for peer,
// replacing any earlier value.
func (s *Store) SaveSyncState(ctx context.Context, replica, peer string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_states (replica, peer, state)
		VALUES (?, ?, ?)
		ON CONFLICT(replica, peer) DO UPDATE SET state = excluded.state
	`, replica, peer, state)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// LoadActor returns the actor id stored for a replica. ok is false when
// the replica was never saved.
func (s *Store) LoadActor(ctx context.Context, replica string) (model.ActorID, bool, error) {
	var actor string
	err := s.db.QueryRowContext(ctx, `
		SELECT actor FROM replicas WHERE name = ?
	`, replica).Scan(&actor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load actor: %w", err)
	}

	id, err := model.ParseActorID(actor)
	if err != nil {
		return "", false, model.NewDecodeError("stored actor for "+replica, err)
	}
	return id, true, nil
}

// LoadChanges returns every change in a replica's log in append order.
// Returns an empty slice (not nil) if the replica has no changes.
func (s *Store) LoadChanges(ctx context.Context, replica string) ([]*model.Change, error) {
	changes := []*model.Change{}
	err := s.ReplayChanges(ctx, replica, func(c *model.Change) error {
		changes = append(changes, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// LoadSyncStates returns the stored sync state per peer.
func (s *Store) LoadSyncStates(ctx context.Context, replica string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer, state FROM sync_states
		WHERE replica = ?
		ORDER BY peer COLLATE BINARY ASC
	`, replica)
	if err != nil {
		return nil, fmt.Errorf("query sync states: %w", err)
	}
	defer rows.Close()

	states := make(map[string][]byte)
	for rows.Next() {
		var peer string
		var state []byte
		if err := rows.Scan(&peer, &state); err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states[peer] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync states: %w", err)
	}
	return states, nil
}

// HasChange reports whether a replica's log holds hash.
func (s *Store) HasChange(ctx context.Context, replica string, hash model.ChangeHash) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM changes WHERE replica = ? AND hash = ?
	`, replica, string(hash)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has change: %w", err)
	}
	return n > 0, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// ReplicaInfo summarizes one stored replica.
type ReplicaInfo struct {
	Name    string
	Actor   model.ActorID
	Changes int
	LastSeq int64 // highest append position, 0 when empty
	Peers   int
}

// ReplayChanges streams a replica's changes to fn in append order,
// verifying each one. Iteration stops at the first error.
func (s *Store) ReplayChanges(ctx context.Context, replica string, fn func(*model.Change) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, body FROM changes
		WHERE replica = ?
		ORDER BY seq ASC
	`, replica)
	if err != nil {
		return fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, body string
		if err := rows.Scan(&hash, &body); err != nil {
			return fmt.Errorf("scan change: %w", err)
		}
		c, err := unmarshalChange(body, model.ChangeHash(hash))
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate changes: %w", err)
	}
	return nil
}

// ListReplicas returns all stored replica names, ordered alphabetically.
func (s *Store) ListReplicas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM replicas
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list replicas: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan replica: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replicas: %w", err)
	}
	return names, nil
}

// GetReplicaInfo summarizes a stored replica. ok is false when it does not exist.
func (s *Store) GetReplicaInfo(ctx context.Context, replica string) (info ReplicaInfo, ok bool, err error) {
	actor, ok, err := s.LoadActor(ctx, replica)
	if err != nil || !ok {
		return ReplicaInfo{}, ok, err
	}
	info = ReplicaInfo{Name: replica, Actor: actor}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM changes WHERE replica = ?
	`, replica).Scan(&info.Changes, &info.LastSeq)
	if err != nil {
		return ReplicaInfo{}, false, fmt.Errorf("replica info: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_states WHERE replica = ?
	`, replica).Scan(&info.Peers)
	if err != nil {
		return ReplicaInfo{}, false, fmt.Errorf("replica info: %w", err)
	}
	return info, true, nil
}

package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/roach88/replichat/internal/model"
)

// ErrUnknownReplica is returned when appending to a replica whose actor
// was never saved.
var ErrUnknownReplica = errors.New("replica not found")

// SaveActor records the actor id for replica.
func (s *Storage) SaveActor(ctx context.Context, replica string, actor model.ActorID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := createReplicaBucket(tx, replica)
		if err != nil {
			return err
		}
		if err := b.Put(keyActor, []byte(actor)); err != nil {
			return fmt.Errorf("failed to save actor: %w", err)
		}
		return nil
	})
}

// LoadActor returns the stored actor id for replica.
func (s *Storage) LoadActor(ctx context.Context, replica string) (model.ActorID, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := replicaBucket(tx, replica)
		if err != nil || b == nil {
			return err
		}
		raw = append(raw, b.Get(keyActor)...)
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}

	actor, err := model.ParseActorID(string(raw))
	if err != nil {
		return "", false, model.NewDecodeError("stored actor for "+replica, err)
	}
	return actor, true, nil
}

// AppendChanges appends changes not already stored, in one transaction.
func (s *Storage) AppendChanges(ctx context.Context, replica string, changes []*model.Change) error {
	if len(changes) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := replicaBucket(tx, replica)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("append changes to %q: %w", replica, ErrUnknownReplica)
		}
		log, hashes := b.Bucket(bucketChanges), b.Bucket(bucketHashes)

		for _, c := range changes {
			if c == nil || c.Hash == "" {
				return fmt.Errorf("append changes: %w", model.NewMalformedOperation("change is not sealed"))
			}
			if hashes.Get([]byte(c.Hash)) != nil {
				continue
			}

			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to marshal change: %w", err)
			}
			seq, err := log.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			key := seqKey(seq)
			if err := log.Put(key, data); err != nil {
				return fmt.Errorf("failed to save change: %w", err)
			}
			if err := hashes.Put([]byte(c.Hash), key); err != nil {
				return fmt.Errorf("failed to index change: %w", err)
			}
		}
		return nil
	})
}

// LoadChanges returns the replica's changes in append order. Big-endian
// sequence keys make bucket order equal append order.
func (s *Storage) LoadChanges(ctx context.Context, replica string) ([]*model.Change, error) {
	changes := []*model.Change{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := replicaBucket(tx, replica)
		if err != nil || b == nil {
			return err
		}
		return b.Bucket(bucketChanges).ForEach(func(k, v []byte) error {
			c := &model.Change{}
			if err := json.Unmarshal(v, c); err != nil {
				return model.NewDecodeError(fmt.Sprintf("stored change #%d", binary.BigEndian.Uint64(k)), err)
			}
			if err := c.Validate(); err != nil {
				return model.NewDecodeError("stored change "+c.Hash.Short(), err)
			}
			if err := c.Verify(); err != nil {
				return model.NewDecodeError("stored change "+c.Hash.Short(), err)
			}
			changes = append(changes, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// SaveSyncState stores the encoded state replica keeps for peer.
func (s *Storage) SaveSyncState(ctx context.Context, replica, peer string, state []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := replicaBucket(tx, replica)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("save sync state for %q: %w", replica, ErrUnknownReplica)
		}
		if err := b.Bucket(bucketSync).Put([]byte(peer), state); err != nil {
			return fmt.Errorf("failed to save sync state: %w", err)
		}
		return nil
	})
}

// LoadSyncStates returns every stored peer state for replica.
func (s *Storage) LoadSyncStates(ctx context.Context, replica string) (map[string][]byte, error) {
	states := make(map[string][]byte)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := replicaBucket(tx, replica)
		if err != nil || b == nil {
			return err
		}
		return b.Bucket(bucketSync).ForEach(func(k, v []byte) error {
			// Values are only valid inside the transaction.
			states[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// ListReplicas returns the stored replica names in byte order.
func (s *Storage) ListReplicas(ctx context.Context) ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplicas).ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				names = append(names, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Package boltstore is a bbolt-backed replica change log.
//
// Layout: one top-level bucket per replica under "replicas", each holding
// the actor id, a "changes" bucket keyed by append sequence, a "hashes"
// bucket for idempotent appends, and a "sync" bucket keyed by peer name.
package boltstore

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/replichat/internal/chat"
)

var (
	bucketReplicas = []byte("replicas")
	bucketChanges  = []byte("changes")
	bucketHashes   = []byte("hashes")
	bucketSync     = []byte("sync")

	keyActor = []byte("actor")
)

var _ chat.ChangeLog = (*Storage)(nil)

// Storage is a ChangeLog stored in a single bbolt file.
type Storage struct {
	db *bbolt.DB
}

// New opens (or creates) the database at dbPath.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketReplicas); err != nil {
			return fmt.Errorf("failed to create replicas bucket: %w", err)
		}
		return nil
	})
}

// replicaBucket returns the bucket for name, or nil if it does not exist.
func replicaBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	root := tx.Bucket(bucketReplicas)
	if root == nil {
		return nil, fmt.Errorf("replicas bucket not found")
	}
	return root.Bucket([]byte(name)), nil
}

// createReplicaBucket returns the bucket for name, creating it and its
// children on first use.
func createReplicaBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	root := tx.Bucket(bucketReplicas)
	if root == nil {
		return nil, fmt.Errorf("replicas bucket not found")
	}
	b, err := root.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create replica bucket %q: %w", name, err)
	}
	for _, child := range [][]byte{bucketChanges, bucketHashes, bucketSync} {
		if _, err := b.CreateBucketIfNotExists(child); err != nil {
			return nil, fmt.Errorf("failed to create %s bucket: %w", child, err)
		}
	}
	return b, nil
}

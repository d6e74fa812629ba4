package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChanges returns n sealed, causally ordered changes from one replica.
func createTestChanges(t *testing.T, n int) (*chat.Replica, []*model.Change) {
	t.Helper()
	clock := testutil.NewStepClock(time.Second)
	r := chat.NewReplica("user1", chat.WithActor(testutil.ActorA), chat.WithClock(clock.Now))
	var changes []*model.Change
	for i := 0; i < n; i++ {
		c, err := r.AddMessage("user1", "message")
		if err != nil {
			t.Fatalf("AddMessage() failed: %v", err)
		}
		changes = append(changes, c)
	}
	return r, changes
}

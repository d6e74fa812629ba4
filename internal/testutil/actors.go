package testutil

import (
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// Fixed actor ids in ascending order: ActorA < ActorB < ActorC.
// Tests that pin the conflict tie-break rely on this order.
const (
	ActorA model.ActorID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	ActorB model.ActorID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	ActorC model.ActorID = "cccccccccccccccccccccccccccccccc"
)

// Actor returns the n-th deterministic actor id (32 hex digits).
// Actor(i) < Actor(j) whenever i < j.
func Actor(n int) model.ActorID {
	return model.ActorID(fmt.Sprintf("%032x", n))
}

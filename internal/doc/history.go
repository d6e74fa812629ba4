package doc

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/model"
)

// GetChanges returns, in application order, every applied change that is
// not an ancestor of (or equal to) one of have. Unknown hashes in have are
// ignored, so an empty or unknown have returns the full history.
func (d *Document) GetChanges(have []model.ChangeHash) []*model.Change {
	seen := d.Ancestors(have)
	out := make([]*model.Change, 0, len(d.history)-seen.Cardinality())
	for _, h := range d.history {
		if !seen.Contains(h) {
			out = append(out, d.changes[h])
		}
	}
	return out
}

// Ancestors returns the known hashes in from plus everything they
// transitively depend on. Unknown hashes are ignored.
func (d *Document) Ancestors(from []model.ChangeHash) mapset.Set[model.ChangeHash] {
	seen := mapset.NewThreadUnsafeSet[model.ChangeHash]()
	stack := make([]model.ChangeHash, 0, len(from))
	for _, h := range from {
		if d.HasChange(h) {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !seen.Add(h) {
			continue
		}
		stack = append(stack, d.changes[h].Deps...)
	}
	return seen
}

// Dependents returns the applied changes that transitively depend on any
// of hashes, excluding hashes themselves, in application order.
func (d *Document) Dependents(hashes []model.ChangeHash) []*model.Change {
	marked := mapset.NewThreadUnsafeSet(hashes...)
	var out []*model.Change
	// History is causally ordered, so one forward pass sees every dep
	// before its dependents.
	for _, h := range d.history {
		if marked.Contains(h) {
			continue
		}
		c := d.changes[h]
		for _, dep := range c.Deps {
			if marked.Contains(dep) {
				marked.Add(h)
				out = append(out, c)
				break
			}
		}
	}
	return out
}

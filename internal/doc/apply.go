package doc

import (
	"errors"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/replichat/internal/model"
)

// WithRejectMissingDeps switches ApplyChanges from buffering to rejecting
// changes whose dependencies are absent (MISSING_DEPENDENCY).
func WithRejectMissingDeps() Option {
	return func(d *Document) {
		d.rejectMissing = true
	}
}

// ApplyChanges applies remote changes.
//
// Each change is validated and its hash verified. Known hashes are a no-op.
// Changes whose deps are not all present are buffered and applied as soon
// as the deps arrive (in this or a later call). Errors for individual
// changes are joined; valid changes in the same call are still applied.
func (d *Document) ApplyChanges(changes ...*model.Change) error {
	if err := d.commitOpen(""); err != nil {
		return err
	}

	var errs []error
	for _, c := range changes {
		if c == nil {
			continue
		}
		if d.HasChange(c.Hash) || d.pendingSet.Contains(c.Hash) {
			d.logger.Debug("duplicate change ignored", "change", c.Hash.Short())
			continue
		}
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("apply change %s: %w", c.Hash.Short(), err))
			continue
		}
		if err := c.Verify(); err != nil {
			errs = append(errs, fmt.Errorf("apply change %s: %w", c.Hash.Short(), err))
			continue
		}
		if d.rejectMissing {
			// Applied immediately so later changes in the same call can
			// depend on it.
			if missing := d.absentDeps(c); len(missing) > 0 {
				errs = append(errs, model.NewMissingDependency(c.Hash, missing))
				continue
			}
			if err := d.applyChange(c.Clone()); err != nil {
				errs = append(errs, fmt.Errorf("apply change %s: %w", c.Hash.Short(), err))
			}
			continue
		}

		cp := c.Clone()
		d.pending = append(d.pending, cp)
		d.pendingSet.Add(cp.Hash)
	}

	errs = append(errs, d.drain()...)
	return errors.Join(errs...)
}

// drain applies every buffered change whose deps are present, repeating
// until no further progress. A change that fails is dropped from the buffer.
func (d *Document) drain() []error {
	var errs []error
	for progress := true; progress; {
		progress = false
		var keep []*model.Change
		for _, c := range d.pending {
			if len(d.absentDeps(c)) > 0 {
				keep = append(keep, c)
				continue
			}
			d.pendingSet.Remove(c.Hash)
			if err := d.applyChange(c); err != nil {
				d.logger.Warn("change rejected", "change", c.Hash.Short(), "error", err)
				errs = append(errs, fmt.Errorf("apply change %s: %w", c.Hash.Short(), err))
				continue
			}
			progress = true
		}
		d.pending = keep
	}

	if len(d.pending) > 0 {
		d.logger.Debug("changes buffered awaiting dependencies", "count", len(d.pending))
	}
	return errs
}

func (d *Document) absentDeps(c *model.Change) []model.ChangeHash {
	var missing []model.ChangeHash
	for _, dep := range c.Deps {
		if !d.HasChange(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

// MissingDeps returns the sorted hashes the document needs but does not
// have: deps of buffered changes plus any of the given heads, excluding
// hashes that are themselves buffered.
func (d *Document) MissingDeps(heads ...model.ChangeHash) []model.ChangeHash {
	missing := mapset.NewThreadUnsafeSet[model.ChangeHash]()
	for _, c := range d.pending {
		for _, dep := range c.Deps {
			if !d.HasChange(dep) && !d.pendingSet.Contains(dep) {
				missing.Add(dep)
			}
		}
	}
	for _, h := range heads {
		if !d.HasChange(h) && !d.pendingSet.Contains(h) {
			missing.Add(h)
		}
	}
	out := missing.ToSlice()
	slices.Sort(out)
	return out
}

// applyChange applies a change whose deps are all present.
func (d *Document) applyChange(c *model.Change) error {
	if d.HasChange(c.Hash) {
		return nil
	}

	expected := d.actorSeq[c.Actor] + 1
	if c.Seq < expected {
		return &model.Error{
			Code:    model.CodeDuplicateSeq,
			Message: fmt.Sprintf("actor %s seq %d already applied", c.Actor.Short(), c.Seq),
			Hash:    c.Hash,
		}
	}
	if c.Seq > expected {
		return &model.Error{
			Code:    model.CodeMalformedOperation,
			Message: fmt.Sprintf("actor %s seq %d skips expected seq %d", c.Actor.Short(), c.Seq, expected),
			Hash:    c.Hash,
		}
	}

	if err := d.checkOps(c.Hash, c.StartOp, c.Actor, c.Ops); err != nil {
		return err
	}
	for i, op := range c.Ops {
		d.applyOp(c.OpID(i), op)
	}
	if len(c.Ops) > 0 {
		d.clock.observe(c.MaxOp())
	}
	d.record(c)

	d.logger.Debug("applied change",
		"change", c.Hash.Short(),
		"actor", c.Actor.Short(),
		"seq", c.Seq,
		"ops", len(c.Ops),
	)
	return nil
}

// record adds a change to the arena and advances the frontier
// incrementally: its deps stop being heads, it becomes one.
func (d *Document) record(c *model.Change) {
	d.changes[c.Hash] = c
	d.history = append(d.history, c.Hash)
	for _, dep := range c.Deps {
		d.heads.Remove(dep)
	}
	d.heads.Add(c.Hash)
	if c.Seq > d.actorSeq[c.Actor] {
		d.actorSeq[c.Actor] = c.Seq
	}
}

// checkOps verifies every op targets an object and element that exist,
// counting ones created earlier in the same batch, before anything is
// mutated. Failures leave the document untouched.
func (d *Document) checkOps(hash model.ChangeHash, startOp uint64, actor model.ActorID, ops []model.Op) error {
	created := make(map[model.ObjID]model.ObjType)
	inserted := mapset.NewThreadUnsafeSet[model.ElemID]()

	for i, op := range ops {
		id := model.OpID{Counter: startOp + uint64(i), Actor: actor}

		typ, ok := created[op.Obj]
		if !ok {
			obj, exists := d.objects[op.Obj]
			if !exists {
				return model.NewUnknownObject(op.Obj, hash)
			}
			typ = obj.typ
		}

		switch typ {
		case model.ObjMap:
			if op.IsList() {
				return &model.Error{Code: model.CodeMalformedOperation, Message: fmt.Sprintf("op %d addresses a list element in a map", i), Hash: hash, Obj: op.Obj}
			}
		case model.ObjList:
			if !op.IsList() {
				return &model.Error{Code: model.CodeMalformedOperation, Message: fmt.Sprintf("op %d addresses a map key in a list", i), Hash: hash, Obj: op.Obj}
			}
			if !inserted.Contains(op.Elem) && op.Elem != model.Head {
				obj, exists := d.objects[op.Obj]
				if !exists {
					return &model.Error{Code: model.CodeMalformedOperation, Message: fmt.Sprintf("op %d references unknown element %s", i, op.Elem), Hash: hash, Obj: op.Obj}
				}
				if _, found := obj.elemIndex(op.Elem); !found {
					return &model.Error{Code: model.CodeMalformedOperation, Message: fmt.Sprintf("op %d references unknown element %s", i, op.Elem), Hash: hash, Obj: op.Obj}
				}
			}
			if op.Insert {
				inserted.Add(model.ElemIDFromOp(id))
			}
		}

		if op.Action.MakesObject() {
			created[model.ObjIDFromOp(id)] = op.Action.ObjType()
		}
	}
	return nil
}

// applyOp mutates object state. Callers run checkOps first.
func (d *Document) applyOp(id model.OpID, op model.Op) {
	obj := d.objects[op.Obj]

	if op.Action.MakesObject() {
		child := newObject(model.ObjIDFromOp(id), op.Action.ObjType())
		child.parent, child.key, child.elem = op.Obj, op.Key, op.Elem
		if op.Insert {
			child.elem = model.ElemIDFromOp(id)
		}
		d.objects[child.id] = child
	}

	if obj.typ == model.ObjMap {
		obj.register(op.Key).apply(id, op)
		return
	}

	idx, _ := obj.elemIndex(op.Elem)
	if op.Insert {
		e := obj.insertAfter(idx, id)
		e.reg.apply(id, op)
		return
	}
	obj.elems[idx].reg.apply(id, op)
}

package doc

import (
	"slices"

	"github.com/roach88/replichat/internal/model"
)

// liveOp is an op currently visible in a register.
type liveOp struct {
	id    model.OpID
	value model.Scalar // set
	child model.ObjID  // make_map / make_list
	typ   model.ObjType
}

// register holds the concurrent, not-yet-superseded ops for one map key or
// list element, sorted winner first (descending OpID).
//
// Applying op X removes every op named in X.Pred, then adds X unless it is
// a delete. Causal delivery guarantees X's preds arrived before X, so the
// surviving set depends only on which ops were applied, not their order.
type register struct {
	ops []liveOp
}

func (r *register) apply(id model.OpID, op model.Op) {
	if len(op.Pred) > 0 {
		r.ops = slices.DeleteFunc(r.ops, func(l liveOp) bool {
			return slices.Contains(op.Pred, l.id)
		})
	}
	if op.Action == model.ActionDelete {
		return
	}

	l := liveOp{id: id}
	if op.Action.MakesObject() {
		l.child = model.ObjIDFromOp(id)
		l.typ = op.Action.ObjType()
	} else {
		l.value = op.Value
	}

	// Insert keeping descending order.
	i, _ := slices.BinarySearchFunc(r.ops, id, func(e liveOp, target model.OpID) int {
		return target.Compare(e.id)
	})
	r.ops = slices.Insert(r.ops, i, l)
}

func (r *register) empty() bool {
	return len(r.ops) == 0
}

// winner returns the highest (counter, actor) op.
func (r *register) winner() (liveOp, bool) {
	if len(r.ops) == 0 {
		return liveOp{}, false
	}
	return r.ops[0], true
}

func (r *register) ids() []model.OpID {
	out := make([]model.OpID, len(r.ops))
	for i, l := range r.ops {
		out[i] = l.id
	}
	return out
}

// element is one list slot. Deleted elements stay in place as tombstones
// (empty register) so later inserts can still reference them.
type element struct {
	id  model.OpID
	reg register
}

// object is a map or list container. parent with key or elem names the
// slot whose make op created it; Root has no parent.
type object struct {
	id    model.ObjID
	typ   model.ObjType
	keys  map[string]*register
	elems []*element

	parent model.ObjID
	key    string
	elem   model.ElemID
}

func newObject(id model.ObjID, typ model.ObjType) *object {
	o := &object{id: id, typ: typ}
	if typ == model.ObjMap {
		o.keys = make(map[string]*register)
	}
	return o
}

func (o *object) register(key string) *register {
	r, ok := o.keys[key]
	if !ok {
		r = &register{}
		o.keys[key] = r
	}
	return r
}

// slot returns the register holding the value at key or elem, if any.
func (o *object) slot(key string, elem model.ElemID) *register {
	if o.typ == model.ObjMap {
		return o.keys[key]
	}
	idx, ok := o.elemIndex(elem)
	if !ok || idx < 0 {
		return nil
	}
	return &o.elems[idx].reg
}

// elemIndex returns the position of elem in elems, -1 for the head.
func (o *object) elemIndex(elem model.ElemID) (int, bool) {
	if elem == model.Head {
		return -1, true
	}
	for i, e := range o.elems {
		if model.ElemIDFromOp(e.id) == elem {
			return i, true
		}
	}
	return 0, false
}

// insertAfter places a new element after ref using the RGA rule: skip
// every following element with a greater OpID. Lamport counters make every
// descendant of a greater sibling greater as well, so whole subtrees are
// skipped.
func (o *object) insertAfter(ref int, id model.OpID) *element {
	i := ref + 1
	for i < len(o.elems) && id.Less(o.elems[i].id) {
		i++
	}
	e := &element{id: id}
	o.elems = slices.Insert(o.elems, i, e)
	return e
}

// visible returns the non-deleted elements in list order.
func (o *object) visible() []*element {
	out := make([]*element, 0, len(o.elems))
	for _, e := range o.elems {
		if !e.reg.empty() {
			out = append(out, e)
		}
	}
	return out
}

// sortedKeys returns the map keys with at least one live value.
func (o *object) sortedKeys() []string {
	keys := make([]string, 0, len(o.keys))
	for k, r := range o.keys {
		if !r.empty() {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

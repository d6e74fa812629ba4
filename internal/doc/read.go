package doc

import (
	"iter"

	"github.com/roach88/replichat/internal/model"
)

// Value is what a read returns: either a scalar or a reference to a child
// object. ID is the op that wrote it.
type Value struct {
	Scalar model.Scalar
	Obj    model.ObjID
	Type   model.ObjType
	ID     model.OpID
}

// IsObject reports whether v references a child object.
func (v Value) IsObject() bool {
	return v.Obj != ""
}

func valueOf(l liveOp) Value {
	if l.child != "" {
		return Value{Obj: l.child, Type: l.typ, ID: l.id}
	}
	return Value{Scalar: l.value, ID: l.id}
}

func valuesOf(r *register) []Value {
	out := make([]Value, len(r.ops))
	for i, l := range r.ops {
		out[i] = valueOf(l)
	}
	return out
}

// ObjType returns the kind of obj.
func (d *Document) ObjType(obj model.ObjID) (model.ObjType, error) {
	o, ok := d.objects[obj]
	if !ok {
		return "", model.NewObjectNotFound(obj)
	}
	return o.typ, nil
}

// Get returns the winning value under key. ok is false when the key was
// never written or has been deleted.
func (d *Document) Get(obj model.ObjID, key string) (Value, bool, error) {
	o, err := d.lookup(obj, model.ObjMap)
	if err != nil {
		return Value{}, false, err
	}
	r, ok := o.keys[key]
	if !ok {
		return Value{}, false, nil
	}
	l, ok := r.winner()
	if !ok {
		return Value{}, false, nil
	}
	return valueOf(l), true, nil
}

// GetAll returns every concurrent value under key, winner first.
// More than one value means the key is in conflict.
func (d *Document) GetAll(obj model.ObjID, key string) ([]Value, error) {
	o, err := d.lookup(obj, model.ObjMap)
	if err != nil {
		return nil, err
	}
	r, ok := o.keys[key]
	if !ok {
		return nil, nil
	}
	return valuesOf(r), nil
}

// GetAt returns the winning value of the list element at index.
func (d *Document) GetAt(list model.ObjID, index int) (Value, error) {
	o, err := d.lookup(list, model.ObjList)
	if err != nil {
		return Value{}, err
	}
	vis := o.visible()
	if index < 0 || index >= len(vis) {
		return Value{}, model.NewIndexOutOfRange(list, index, len(vis))
	}
	l, _ := vis[index].reg.winner()
	return valueOf(l), nil
}

// GetAllAt returns every concurrent value of the list element at index.
func (d *Document) GetAllAt(list model.ObjID, index int) ([]Value, error) {
	o, err := d.lookup(list, model.ObjList)
	if err != nil {
		return nil, err
	}
	vis := o.visible()
	if index < 0 || index >= len(vis) {
		return nil, model.NewIndexOutOfRange(list, index, len(vis))
	}
	return valuesOf(&vis[index].reg), nil
}

// Keys returns the live keys of a map in lexicographic order.
func (d *Document) Keys(obj model.ObjID) ([]string, error) {
	o, err := d.lookup(obj, model.ObjMap)
	if err != nil {
		return nil, err
	}
	return o.sortedKeys(), nil
}

// Length returns the number of live entries of a map or visible elements
// of a list.
func (d *Document) Length(obj model.ObjID) (int, error) {
	o, ok := d.objects[obj]
	if !ok {
		return 0, model.NewObjectNotFound(obj)
	}
	if o.typ == model.ObjList {
		return len(o.visible()), nil
	}
	return len(o.sortedKeys()), nil
}

// MapRange iterates the live entries of a map in lexicographic key order.
//
// Each iteration takes a snapshot when it starts, so writes made while
// ranging are not observed and ranging again reflects them. A missing or
// non-map object yields nothing.
func (d *Document) MapRange(obj model.ObjID) iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		o, ok := d.objects[obj]
		if !ok || o.typ != model.ObjMap {
			return
		}
		keys := o.sortedKeys()
		vals := make([]Value, len(keys))
		for i, k := range keys {
			l, _ := o.keys[k].winner()
			vals[i] = valueOf(l)
		}
		for i, k := range keys {
			if !yield(k, vals[i]) {
				return
			}
		}
	}
}

// ListRange iterates the visible elements of a list with their indexes.
// Snapshot semantics match MapRange.
func (d *Document) ListRange(list model.ObjID) iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		o, ok := d.objects[list]
		if !ok || o.typ != model.ObjList {
			return
		}
		vis := o.visible()
		vals := make([]Value, len(vis))
		for i, e := range vis {
			l, _ := e.reg.winner()
			vals[i] = valueOf(l)
		}
		for i, v := range vals {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Materialize converts obj and everything below it into plain Go values:
// map[string]any, []any, string, int64, uint64, bool and nil. Timestamps
// become int64 milliseconds. Only winning values are included.
func (d *Document) Materialize(obj model.ObjID) (any, error) {
	o, ok := d.objects[obj]
	if !ok {
		return nil, model.NewObjectNotFound(obj)
	}

	if o.typ == model.ObjList {
		out := []any{}
		for _, v := range d.ListRange(obj) {
			pv, err := d.plain(v)
			if err != nil {
				return nil, err
			}
			out = append(out, pv)
		}
		return out, nil
	}

	out := map[string]any{}
	for k, v := range d.MapRange(obj) {
		pv, err := d.plain(v)
		if err != nil {
			return nil, err
		}
		out[k] = pv
	}
	return out, nil
}

func (d *Document) plain(v Value) (any, error) {
	if v.IsObject() {
		return d.Materialize(v.Obj)
	}
	switch s := v.Scalar.(type) {
	case model.Str:
		return string(s), nil
	case model.Int:
		return int64(s), nil
	case model.Uint:
		return uint64(s), nil
	case model.Bool:
		return bool(s), nil
	case model.Timestamp:
		return int64(s), nil
	default:
		return nil, nil
	}
}

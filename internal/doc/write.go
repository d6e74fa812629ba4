package doc

import (
	"fmt"
	"unicode/utf8"

	"github.com/roach88/replichat/internal/model"
)

// transaction accumulates local ops until Commit. Ops are applied to the
// object state as they are made, so reads see uncommitted writes.
type transaction struct {
	startOp uint64
	deps    []model.ChangeHash
	ops     []model.Op
}

// Commit closes the open transaction into one change and returns it.
// Returns nil when nothing was written since the last commit.
func (d *Document) Commit(message string) (*model.Change, error) {
	if d.tx == nil {
		return nil, nil
	}
	if !utf8.ValidString(message) {
		return nil, model.NewMalformedOperation("commit message is not valid UTF-8")
	}
	if err := d.commitOpen(message); err != nil {
		return nil, err
	}
	return d.lastLocal, nil
}

func (d *Document) commitOpen(message string) error {
	tx := d.tx
	if tx == nil {
		return nil
	}
	d.tx = nil
	if len(tx.ops) == 0 {
		return nil
	}

	c := &model.Change{
		Actor:   d.actor,
		Seq:     d.actorSeq[d.actor] + 1,
		StartOp: tx.startOp,
		Time:    d.now().UnixMilli(),
		Message: message,
		Deps:    tx.deps,
		Ops:     tx.ops,
	}
	if err := c.Seal(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.record(c)
	d.lastLocal = c

	d.logger.Debug("committed local change",
		"change", c.Hash.Short(),
		"seq", c.Seq,
		"ops", len(c.Ops),
	)
	return nil
}

// CommitOps commits a change built from caller-supplied ops. The ops are
// checked against the current document before anything is applied; an op
// on an object this document has never seen fails with UNKNOWN_OBJECT.
// Op ids are assigned from the local clock as for any local write.
func (d *Document) CommitOps(message string, ops []model.Op) (*model.Change, error) {
	if err := d.commitOpen(""); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	c := &model.Change{
		Actor:   d.actor,
		Seq:     d.actorSeq[d.actor] + 1,
		StartOp: d.clock.peek(),
		Time:    d.now().UnixMilli(),
		Message: message,
		Deps:    d.Heads(),
		Ops:     ops,
	}
	if err := c.Seal(); err != nil {
		return nil, fmt.Errorf("commit ops: %w", err)
	}
	if err := d.applyChange(c); err != nil {
		return nil, fmt.Errorf("commit ops: %w", err)
	}
	d.lastLocal = c
	return c, nil
}

// localOp applies op under a fresh local OpID and appends it to the open
// transaction.
func (d *Document) localOp(op model.Op) (model.OpID, error) {
	if d.tx == nil {
		if _, err := model.ParseActorID(string(d.actor)); err != nil {
			return model.OpID{}, model.NewMalformedOperation(fmt.Sprintf("local actor: %v", err))
		}
		d.tx = &transaction{startOp: d.clock.peek(), deps: d.Heads()}
	}
	id := model.OpID{Counter: d.clock.next(), Actor: d.actor}
	d.applyOp(id, op)
	d.tx.ops = append(d.tx.ops, op)
	return id, nil
}

// lookup returns obj if it exists and has the wanted type.
func (d *Document) lookup(obj model.ObjID, want model.ObjType) (*object, error) {
	o, ok := d.objects[obj]
	if !ok {
		return nil, model.NewObjectNotFound(obj)
	}
	if o.typ != want {
		return nil, model.NewWrongObjectType(obj, want, o.typ)
	}
	return o, nil
}

// lookupLive is lookup for writes: obj must also be reachable from Root
// through winning values. Deleted containers and the losers of concurrent
// creations stay readable by id but take no new writes.
func (d *Document) lookupLive(obj model.ObjID, want model.ObjType) (*object, error) {
	o, err := d.lookup(obj, want)
	if err != nil {
		return nil, err
	}
	if !d.reachable(o) {
		return nil, model.NewObjectNotFound(obj)
	}
	return o, nil
}

func (d *Document) reachable(o *object) bool {
	for o.id != model.Root {
		parent, ok := d.objects[o.parent]
		if !ok {
			return false
		}
		r := parent.slot(o.key, o.elem)
		if r == nil {
			return false
		}
		w, ok := r.winner()
		if !ok || w.child != o.id {
			return false
		}
		o = parent
	}
	return true
}

func checkKey(key string) error {
	if key == "" {
		return model.NewMalformedOperation("empty map key")
	}
	if !utf8.ValidString(key) {
		return model.NewMalformedOperation("map key is not valid UTF-8")
	}
	return nil
}

func checkValue(value model.Scalar) error {
	if value == nil {
		return model.NewMalformedOperation("nil value")
	}
	if s, ok := value.(model.Str); ok && !utf8.ValidString(string(s)) {
		return model.NewMalformedOperation("string value is not valid UTF-8")
	}
	return nil
}

func makeAction(typ model.ObjType) model.Action {
	if typ == model.ObjList {
		return model.ActionMakeList
	}
	return model.ActionMakeMap
}

// PutObject creates an empty map or list under key in a map object and
// returns its id. The previous value at key, if any, is superseded.
func (d *Document) PutObject(obj model.ObjID, key string, typ model.ObjType) (model.ObjID, error) {
	o, err := d.lookupLive(obj, model.ObjMap)
	if err != nil {
		return "", err
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	id, err := d.localOp(model.Op{
		Action: makeAction(typ),
		Obj:    obj,
		Key:    key,
		Pred:   o.register(key).ids(),
	})
	if err != nil {
		return "", err
	}
	return model.ObjIDFromOp(id), nil
}

// Put sets a scalar under key in a map object.
func (d *Document) Put(obj model.ObjID, key string, value model.Scalar) error {
	o, err := d.lookupLive(obj, model.ObjMap)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	_, err = d.localOp(model.Op{
		Action: model.ActionSet,
		Obj:    obj,
		Key:    key,
		Value:  value,
		Pred:   o.register(key).ids(),
	})
	return err
}

// Delete removes key from a map object. Deleting an absent key is a no-op.
func (d *Document) Delete(obj model.ObjID, key string) error {
	o, err := d.lookupLive(obj, model.ObjMap)
	if err != nil {
		return err
	}
	r, ok := o.keys[key]
	if !ok || r.empty() {
		return nil
	}
	_, err = d.localOp(model.Op{
		Action: model.ActionDelete,
		Obj:    obj,
		Key:    key,
		Pred:   r.ids(),
	})
	return err
}

// insertRef resolves the element a new item at index is inserted after.
func insertRef(o *object, index int) (model.ElemID, error) {
	vis := o.visible()
	if index < 0 || index > len(vis) {
		return "", model.NewIndexOutOfRange(o.id, index, len(vis))
	}
	if index == 0 {
		return model.Head, nil
	}
	return model.ElemIDFromOp(vis[index-1].id), nil
}

// Insert places a scalar at index in a list; index == Length appends.
func (d *Document) Insert(list model.ObjID, index int, value model.Scalar) error {
	o, err := d.lookupLive(list, model.ObjList)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	ref, err := insertRef(o, index)
	if err != nil {
		return err
	}
	_, err = d.localOp(model.Op{
		Action: model.ActionSet,
		Obj:    list,
		Elem:   ref,
		Insert: true,
		Value:  value,
	})
	return err
}

// InsertObject places a new empty map or list at index in a list.
func (d *Document) InsertObject(list model.ObjID, index int, typ model.ObjType) (model.ObjID, error) {
	o, err := d.lookupLive(list, model.ObjList)
	if err != nil {
		return "", err
	}
	ref, err := insertRef(o, index)
	if err != nil {
		return "", err
	}
	id, err := d.localOp(model.Op{
		Action: makeAction(typ),
		Obj:    list,
		Elem:   ref,
		Insert: true,
	})
	if err != nil {
		return "", err
	}
	return model.ObjIDFromOp(id), nil
}

// Set overwrites the element at index.
func (d *Document) Set(list model.ObjID, index int, value model.Scalar) error {
	o, err := d.lookupLive(list, model.ObjList)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	vis := o.visible()
	if index < 0 || index >= len(vis) {
		return model.NewIndexOutOfRange(list, index, len(vis))
	}
	e := vis[index]
	_, err = d.localOp(model.Op{
		Action: model.ActionSet,
		Obj:    list,
		Elem:   model.ElemIDFromOp(e.id),
		Value:  value,
		Pred:   e.reg.ids(),
	})
	return err
}

// DeleteAt removes the element at index. The slot stays as a tombstone.
func (d *Document) DeleteAt(list model.ObjID, index int) error {
	o, err := d.lookupLive(list, model.ObjList)
	if err != nil {
		return err
	}
	vis := o.visible()
	if index < 0 || index >= len(vis) {
		return model.NewIndexOutOfRange(list, index, len(vis))
	}
	e := vis[index]
	_, err = d.localOp(model.Op{
		Action: model.ActionDelete,
		Obj:    list,
		Elem:   model.ElemIDFromOp(e.id),
		Pred:   e.reg.ids(),
	})
	return err
}

package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"
)

// Action is the operation type.
type Action string

const (
	ActionSet      Action = "set"
	ActionMakeMap  Action = "make_map"
	ActionMakeList Action = "make_list"
	ActionDelete   Action = "del"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSet, ActionMakeMap, ActionMakeList, ActionDelete:
		return true
	}
	return false
}

// MakesObject reports whether a creates a container.
func (a Action) MakesObject() bool {
	return a == ActionMakeMap || a == ActionMakeList
}

// ObjType returns the container kind created by a make action.
func (a Action) ObjType() ObjType {
	if a == ActionMakeList {
		return ObjList
	}
	return ObjMap
}

// Op is one atomic mutation. Its own OpID is implicit: the change's
// StartOp plus the op's index in Change.Ops.
//
// Map ops address Key; list ops address Elem. A list insert places a new
// element after Elem (Head for the front); a list set or delete targets
// the element Elem itself.
type Op struct {
	Action Action
	Obj    ObjID
	Key    string
	Elem   ElemID
	Insert bool
	Value  Scalar // set only
	Pred   []OpID // ops on the same key/element this op supersedes
}

// IsList reports whether op addresses a list element.
func (op Op) IsList() bool {
	return op.Elem != ""
}

// opJSON is the wire form of Op.
type opJSON struct {
	Action Action          `json:"action"`
	Obj    ObjID           `json:"obj"`
	Key    string          `json:"key,omitempty"`
	Elem   ElemID          `json:"elem,omitempty"`
	Insert bool            `json:"insert,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Pred   []OpID          `json:"pred"`
}

// MarshalJSON implements json.Marshaler.
func (op Op) MarshalJSON() ([]byte, error) {
	oj := opJSON{
		Action: op.Action,
		Obj:    op.Obj,
		Key:    op.Key,
		Elem:   op.Elem,
		Insert: op.Insert,
		Pred:   op.Pred,
	}
	if oj.Pred == nil {
		oj.Pred = []OpID{}
	}
	if op.Value != nil {
		raw, err := MarshalScalar(op.Value)
		if err != nil {
			return nil, err
		}
		oj.Value = raw
	}
	return json.Marshal(oj)
}

// UnmarshalJSON implements json.Unmarshaler.
// Unknown actions and scalar kinds decode to MALFORMED_OPERATION.
func (op *Op) UnmarshalJSON(data []byte) error {
	var oj opJSON
	if err := json.Unmarshal(data, &oj); err != nil {
		return NewMalformedOperation(fmt.Sprintf("op: %v", err))
	}
	if !oj.Action.Valid() {
		return NewMalformedOperation(fmt.Sprintf("unknown action %q", oj.Action))
	}
	*op = Op{
		Action: oj.Action,
		Obj:    oj.Obj,
		Key:    oj.Key,
		Elem:   oj.Elem,
		Insert: oj.Insert,
		Pred:   oj.Pred,
	}
	if len(oj.Value) > 0 {
		v, err := UnmarshalScalar(oj.Value)
		if err != nil {
			return err
		}
		op.Value = v
	}
	return nil
}

// canonical builds the plain Go form hashed by MarshalCanonical.
func (op Op) canonical() (map[string]any, error) {
	pred := make([]any, len(op.Pred))
	for i, p := range op.Pred {
		pred[i] = p.String()
	}
	out := map[string]any{
		"action": string(op.Action),
		"obj":    string(op.Obj),
		"pred":   pred,
	}
	if op.IsList() {
		out["elem"] = string(op.Elem)
		out["insert"] = op.Insert
	} else {
		out["key"] = op.Key
	}
	if op.Value != nil {
		v, err := scalarCanonical(op.Value)
		if err != nil {
			return nil, err
		}
		out["value"] = v
	}
	return out, nil
}

// validate checks the op's internal consistency.
func (op Op) validate() error {
	if !op.Action.Valid() {
		return NewMalformedOperation(fmt.Sprintf("unknown action %q", op.Action))
	}
	if op.Obj == "" {
		return NewMalformedOperation("op has no target object")
	}
	if op.Key != "" && op.Elem != "" {
		return NewMalformedOperation("op addresses both a key and a list element")
	}
	if op.Key == "" && op.Elem == "" {
		return NewMalformedOperation("op addresses neither a key nor a list element")
	}
	if op.Insert && op.Action == ActionDelete {
		return NewMalformedOperation("delete cannot insert")
	}
	if !op.Insert && op.Elem == Head {
		return NewMalformedOperation("only inserts may reference the list head")
	}
	if op.Action == ActionSet && op.Value == nil {
		return NewMalformedOperation("set op has no value")
	}
	if op.Action != ActionSet && op.Value != nil {
		return NewMalformedOperation(fmt.Sprintf("%s op carries a value", op.Action))
	}
	if op.Insert && len(op.Pred) > 0 {
		return NewMalformedOperation("insert op cannot supersede other ops")
	}
	if !utf8.ValidString(op.Key) {
		return NewMalformedOperation("map key is not valid UTF-8")
	}
	if s, ok := op.Value.(Str); ok && !utf8.ValidString(string(s)) {
		return NewMalformedOperation("string value is not valid UTF-8")
	}
	return nil
}

// ChangeHash is the hex SHA-256 content hash of a change.
type ChangeHash string

// Change is an ordered batch of ops from one local commit.
// Immutable once sealed; Hash covers every other field.
type Change struct {
	Actor   ActorID      `json:"actor"`
	Seq     uint64       `json:"seq"`      // per-actor change number, from 1
	StartOp uint64       `json:"start_op"` // counter of Ops[0]
	Time    int64        `json:"time"`     // wall clock ms, informational only
	Message string       `json:"message,omitempty"`
	Deps    []ChangeHash `json:"deps"`
	Ops     []Op         `json:"ops"`
	Hash    ChangeHash   `json:"hash"`
}

// OpID returns the id of the i-th op.
func (c *Change) OpID(i int) OpID {
	return OpID{Counter: c.StartOp + uint64(i), Actor: c.Actor}
}

// MaxOp returns the counter of the last op (StartOp-1 for an empty change).
func (c *Change) MaxOp() uint64 {
	return c.StartOp + uint64(len(c.Ops)) - 1
}

// Validate checks structural well-formedness, not causal context.
func (c *Change) Validate() error {
	if _, err := ParseActorID(string(c.Actor)); err != nil {
		return NewMalformedOperation(fmt.Sprintf("change actor: %v", err))
	}
	if c.Seq == 0 {
		return NewMalformedOperation("change seq must start at 1")
	}
	if c.StartOp == 0 {
		return NewMalformedOperation("change start_op must be positive")
	}
	if !utf8.ValidString(c.Message) {
		return NewMalformedOperation("change message is not valid UTF-8")
	}
	for i := 1; i < len(c.Deps); i++ {
		if c.Deps[i-1] >= c.Deps[i] {
			return NewMalformedOperation("change deps must be sorted and unique")
		}
	}
	for i, op := range c.Ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

// canonical builds the hashed form: every field except Hash.
func (c *Change) canonical() (map[string]any, error) {
	deps := make([]any, len(c.Deps))
	for i, d := range c.Deps {
		deps[i] = string(d)
	}
	ops := make([]any, len(c.Ops))
	for i, op := range c.Ops {
		o, err := op.canonical()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops[i] = o
	}
	return map[string]any{
		"actor":    string(c.Actor),
		"seq":      c.Seq,
		"start_op": c.StartOp,
		"time":     c.Time,
		"message":  c.Message,
		"deps":     deps,
		"ops":      ops,
	}, nil
}

// Seal sorts deps, validates the change and stamps its Hash.
func (c *Change) Seal() error {
	c.Deps = SortHashes(c.Deps)
	if err := c.Validate(); err != nil {
		return err
	}
	h, err := ComputeChangeHash(c)
	if err != nil {
		return err
	}
	c.Hash = h
	return nil
}

// Verify recomputes the hash and compares it with the stamped one.
func (c *Change) Verify() error {
	h, err := ComputeChangeHash(c)
	if err != nil {
		return err
	}
	if h != c.Hash {
		return NewDecodeError(fmt.Sprintf("hash mismatch: stamped %s, computed %s", shortHash(c.Hash), shortHash(h)), nil)
	}
	return nil
}

// Clone returns a deep copy; receivers keep their own copy of every change.
func (c *Change) Clone() *Change {
	out := *c
	out.Deps = slices.Clone(c.Deps)
	out.Ops = make([]Op, len(c.Ops))
	for i, op := range c.Ops {
		op.Pred = slices.Clone(op.Pred)
		out.Ops[i] = op
	}
	return &out
}

// SortHashes returns the sorted, de-duplicated hashes.
func SortHashes(hashes []ChangeHash) []ChangeHash {
	out := slices.Clone(hashes)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []ChangeHash{}
	}
	return out
}

// HashesEqual compares two sorted hash lists.
func HashesEqual(a, b []ChangeHash) bool {
	return slices.Equal(a, b)
}

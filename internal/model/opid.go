package model

import (
	"fmt"
	"strconv"
	"strings"
)

// OpID is the Lamport timestamp of one operation: (counter, actor).
type OpID struct {
	Counter uint64
	Actor   ActorID
}

// String renders the id as "<counter>@<actor>".
func (id OpID) String() string {
	return strconv.FormatUint(id.Counter, 10) + "@" + string(id.Actor)
}

// IsZero reports whether id is the zero OpID.
func (id OpID) IsZero() bool {
	return id.Counter == 0 && id.Actor == ""
}

// Compare orders by counter, then by actor id.
// This order is the conflict tie-break: the greater OpID wins.
func (id OpID) Compare(other OpID) int {
	switch {
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return id.Actor.Compare(other.Actor)
}

// Less reports whether id sorts before other.
func (id OpID) Less(other OpID) bool {
	return id.Compare(other) < 0
}

// ParseOpID parses the "<counter>@<actor>" form.
func ParseOpID(s string) (OpID, error) {
	counterStr, actorStr, ok := strings.Cut(s, "@")
	if !ok {
		return OpID{}, fmt.Errorf("op id %q: missing '@'", s)
	}
	counter, err := strconv.ParseUint(counterStr, 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("op id %q: counter: %w", s, err)
	}
	if counter == 0 {
		return OpID{}, fmt.Errorf("op id %q: counter must be positive", s)
	}
	actor, err := ParseActorID(actorStr)
	if err != nil {
		return OpID{}, fmt.Errorf("op id %q: %w", s, err)
	}
	return OpID{Counter: counter, Actor: actor}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *OpID) UnmarshalText(data []byte) error {
	parsed, err := ParseOpID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ObjID identifies a container. The root map is Root; every other object
// is named after the op that created it.
type ObjID string

// Root is the well-known id of the root map, present in every document.
const Root ObjID = "_root"

// ObjIDFromOp returns the id of the object created by op.
func ObjIDFromOp(op OpID) ObjID {
	return ObjID(op.String())
}

// IsRoot reports whether o is the root object.
func (o ObjID) IsRoot() bool {
	return o == Root
}

// OpID returns the creating op of a non-root object.
func (o ObjID) OpID() (OpID, error) {
	if o.IsRoot() {
		return OpID{}, fmt.Errorf("root object has no creating op")
	}
	return ParseOpID(string(o))
}

// ElemID names a list element: the OpID of the insert that created it,
// or Head for the position before the first element.
type ElemID string

// Head is the reference used to insert at the start of a list.
const Head ElemID = "_head"

// ElemIDFromOp returns the element id created by an insert op.
func ElemIDFromOp(op OpID) ElemID {
	return ElemID(op.String())
}

// OpID returns the insert op of a non-head element.
func (e ElemID) OpID() (OpID, error) {
	if e == Head {
		return OpID{}, fmt.Errorf("head element has no op")
	}
	return ParseOpID(string(e))
}

// ObjType is the kind of a container object.
type ObjType string

const (
	// ObjMap is a string-keyed map.
	ObjMap ObjType = "map"
	// ObjList is an ordered sequence.
	ObjList ObjType = "list"
)

package doc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// magic prefixes every saved document.
var magic = []byte("RCHT")

type savedDoc struct {
	Actors  []model.ActorID `json:"actors"`
	Changes []savedChange   `json:"changes"`
}

// savedChange stores the actor as an index into savedDoc.Actors.
type savedChange struct {
	Actor   int                `json:"actor"`
	Seq     uint64             `json:"seq"`
	StartOp uint64             `json:"start_op"`
	Time    int64              `json:"time"`
	Message string             `json:"message,omitempty"`
	Deps    []model.ChangeHash `json:"deps"`
	Ops     []model.Op         `json:"ops"`
	Hash    model.ChangeHash   `json:"hash"`
}

// Save serializes the applied history. An open transaction is committed
// first; buffered changes are not saved.
func (d *Document) Save() ([]byte, error) {
	if err := d.commitOpen(""); err != nil {
		return nil, err
	}

	sd := savedDoc{Actors: []model.ActorID{}, Changes: make([]savedChange, 0, len(d.history))}
	index := make(map[model.ActorID]int)
	for _, h := range d.history {
		c := d.changes[h]
		idx, ok := index[c.Actor]
		if !ok {
			idx = len(sd.Actors)
			index[c.Actor] = idx
			sd.Actors = append(sd.Actors, c.Actor)
		}
		sd.Changes = append(sd.Changes, savedChange{
			Actor:   idx,
			Seq:     c.Seq,
			StartOp: c.StartOp,
			Time:    c.Time,
			Message: c.Message,
			Deps:    c.Deps,
			Ops:     c.Ops,
			Hash:    c.Hash,
		})
	}

	body, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(magic) + 1 + len(body))
	buf.Write(magic)
	buf.WriteByte(model.DocumentFormatVersion)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Load rebuilds a document from Save output. Any structural problem or
// hash mismatch returns a DECODE_ERROR and no document. The loaded
// document gets a fresh actor unless WithActor is given.
func Load(data []byte, opts ...Option) (*Document, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, model.NewDecodeError("not a saved document", nil)
	}
	if v := data[len(magic)]; v != model.DocumentFormatVersion {
		return nil, model.NewDecodeError(fmt.Sprintf("unsupported format version %d", v), nil)
	}

	var sd savedDoc
	if err := json.Unmarshal(data[len(magic)+1:], &sd); err != nil {
		return nil, model.NewDecodeError("document body", err)
	}

	d := New(opts...)
	for i, sc := range sd.Changes {
		if sc.Actor < 0 || sc.Actor >= len(sd.Actors) {
			return nil, model.NewDecodeError(fmt.Sprintf("change %d: actor index %d out of range", i, sc.Actor), nil)
		}
		c := &model.Change{
			Actor:   sd.Actors[sc.Actor],
			Seq:     sc.Seq,
			StartOp: sc.StartOp,
			Time:    sc.Time,
			Message: sc.Message,
			Deps:    sc.Deps,
			Ops:     sc.Ops,
			Hash:    sc.Hash,
		}
		if c.Deps == nil {
			c.Deps = []model.ChangeHash{}
		}
		if err := c.Validate(); err != nil {
			return nil, model.NewDecodeError(fmt.Sprintf("change %d", i), err)
		}
		if err := c.Verify(); err != nil {
			return nil, model.NewDecodeError(fmt.Sprintf("change %d", i), err)
		}
		if missing := d.absentDeps(c); len(missing) > 0 {
			return nil, model.NewDecodeError(fmt.Sprintf("change %d: dependency %s not saved before it", i, missing[0].Short()), nil)
		}
		if err := d.applyChange(c); err != nil {
			return nil, model.NewDecodeError(fmt.Sprintf("change %d", i), err)
		}
	}

	d.logger.Debug("loaded document", "changes", len(d.history), "heads", d.heads.Cardinality())
	return d, nil
}

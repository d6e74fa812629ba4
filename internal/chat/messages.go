package chat

import (
	"slices"

	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
)

// Message is one chat entry as read back from the document.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	Timestamp uint64 `json:"timestamp"`
	Edited    bool   `json:"edited,omitempty"`
}

// GetMessages returns every complete message sorted by timestamp. Equal
// timestamps keep key order. Entries missing a field, or holding a value
// of the wrong type, are skipped.
func (r *Replica) GetMessages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return readMessages(r.doc)
}

func readMessages(d *doc.Document) []Message {
	var out []Message
	for key, v := range d.MapRange(model.Root) {
		if !isMessageKey(key) || !v.IsObject() || v.Type != model.ObjMap {
			continue
		}
		m, ok := readMessage(d, key, v.Obj)
		if !ok {
			continue
		}
		out = append(out, m)
	}

	slices.SortStableFunc(out, func(a, b Message) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return out
}

func readMessage(d *doc.Document, key string, obj model.ObjID) (Message, bool) {
	scalar := func(field string) (model.Scalar, bool) {
		v, ok, err := d.Get(obj, field)
		if err != nil || !ok || v.IsObject() {
			return nil, false
		}
		return v.Scalar, true
	}

	m := Message{ID: key}

	s, ok := scalar(fieldUserID)
	if !ok {
		return Message{}, false
	}
	if m.UserID, ok = model.AsString(s); !ok {
		return Message{}, false
	}

	if s, ok = scalar(fieldContent); !ok {
		return Message{}, false
	}
	if m.Content, ok = model.AsString(s); !ok {
		return Message{}, false
	}

	if s, ok = scalar(fieldTimestamp); !ok {
		return Message{}, false
	}
	if m.Timestamp, ok = model.AsUint(s); !ok {
		return Message{}, false
	}

	if s, ok = scalar(fieldEdited); ok {
		m.Edited, _ = model.AsBool(s)
	}
	return m, true
}

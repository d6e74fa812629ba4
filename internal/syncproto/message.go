package syncproto

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/replichat/internal/model"
)

// Have summarizes the changes the sender has beyond LastSync.
type Have struct {
	LastSync []model.ChangeHash `json:"last_sync"`
	Bloom    *Bloom             `json:"bloom"`
}

// Message is one protocol unit.
type Message struct {
	// Heads is the sender's frontier.
	Heads []model.ChangeHash

	// Need lists hashes the sender knows it is missing.
	Need []model.ChangeHash

	// Have summarizes the sender's history. Empty when the sender is
	// still waiting on changes it asked for.
	Have []Have

	// Changes are changes the sender believes the receiver lacks.
	Changes []*model.Change
}

type messageJSON struct {
	Version int                `json:"version"`
	Heads   []model.ChangeHash `json:"heads"`
	Need    []model.ChangeHash `json:"need"`
	Have    []Have             `json:"have"`
	Changes []*model.Change    `json:"changes"`
}

// EncodeMessage serializes msg as versioned JSON.
func EncodeMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(messageJSON{
		Version: model.SyncMessageVersion,
		Heads:   nonNil(msg.Heads),
		Need:    nonNil(msg.Need),
		Have:    msg.Have,
		Changes: msg.Changes,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses EncodeMessage output. Change hashes are not
// verified here; ReceiveSyncMessage does that when applying.
func DecodeMessage(data []byte) (*Message, error) {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return nil, model.NewDecodeError("sync message", err)
	}
	if mj.Version != model.SyncMessageVersion {
		return nil, model.NewDecodeError(fmt.Sprintf("sync message version %d", mj.Version), nil)
	}
	for _, c := range mj.Changes {
		if c == nil {
			return nil, model.NewDecodeError("sync message: null change", nil)
		}
	}
	return &Message{
		Heads:   nonNil(mj.Heads),
		Need:    nonNil(mj.Need),
		Have:    mj.Have,
		Changes: mj.Changes,
	}, nil
}

func nonNil(h []model.ChangeHash) []model.ChangeHash {
	if h == nil {
		return []model.ChangeHash{}
	}
	return h
}

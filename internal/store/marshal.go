package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/replichat/internal/model"
)

// marshalChange converts a change to JSON TEXT for storage.
// HTML escaping is disabled so stored content matches what was hashed.
func marshalChange(c *model.Change) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("marshal change: %w", err)
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalChange parses a stored body and checks it still hashes to the
// hash it was stored under.
func unmarshalChange(data string, hash model.ChangeHash) (*model.Change, error) {
	var c model.Change
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, model.NewDecodeError("stored change "+hash.Short(), err)
	}
	if c.Hash != hash {
		return nil, model.NewDecodeError(fmt.Sprintf("stored change %s has hash %s", hash.Short(), c.Hash.Short()), nil)
	}
	if err := c.Validate(); err != nil {
		return nil, model.NewDecodeError("stored change "+hash.Short(), err)
	}
	if err := c.Verify(); err != nil {
		return nil, model.NewDecodeError("stored change "+hash.Short(), err)
	}
	return &c, nil
}

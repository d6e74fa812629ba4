package syncproto

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/roach88/replichat/internal/model"
)

// DefaultFalsePositiveRate is the Bloom filter false positive target.
const DefaultFalsePositiveRate = 0.01

// Bloom summarizes a set of change hashes.
// A nil or empty Bloom contains nothing.
type Bloom struct {
	filter *bloom.BloomFilter
}

// NewBloom builds a filter over hashes sized for the given false positive rate.
func NewBloom(hashes []model.ChangeHash, fpRate float64) *Bloom {
	n := uint(len(hashes))
	if n == 0 {
		n = 1
	}
	f := bloom.NewWithEstimates(n, fpRate)
	for _, h := range hashes {
		f.Add(hashKey(h))
	}
	return &Bloom{filter: f}
}

// Contains reports whether h is (probably) in the set.
func (b *Bloom) Contains(h model.ChangeHash) bool {
	if b == nil || b.filter == nil {
		return false
	}
	return b.filter.Test(hashKey(h))
}

// MarshalJSON implements json.Marshaler.
func (b *Bloom) MarshalJSON() ([]byte, error) {
	if b == nil || b.filter == nil {
		return []byte("null"), nil
	}
	return b.filter.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bloom) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.filter = nil
		return nil
	}
	f := &bloom.BloomFilter{}
	if err := f.UnmarshalJSON(data); err != nil {
		return model.NewDecodeError("bloom filter", err)
	}
	b.filter = f
	return nil
}

// hashKey feeds the raw digest to the filter, falling back to the text
// form for hashes that are not valid hex.
func hashKey(h model.ChangeHash) []byte {
	if b := h.Bytes(); b != nil {
		return b
	}
	return []byte(h)
}

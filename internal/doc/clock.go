package doc

// lamport is the document's logical op clock.
//
// Every op id counter is strictly greater than any counter the document has
// seen, local or remote, which makes (counter, actor) unique and consistent
// with causality.
//
// Not safe for concurrent use; the document is single-writer.
type lamport struct {
	max uint64
}

// next returns the counter for a new local op.
func (c *lamport) next() uint64 {
	c.max++
	return c.max
}

// peek returns the counter next() would return.
func (c *lamport) peek() uint64 {
	return c.max + 1
}

// observe advances the clock past a remote counter.
func (c *lamport) observe(counter uint64) {
	if counter > c.max {
		c.max = counter
	}
}

// current returns the highest counter seen.
func (c *lamport) current() uint64 {
	return c.max
}

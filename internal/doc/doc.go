// Package doc implements the per-replica document store.
//
// A Document is a map-of-maps (and lists) built from an arena of immutable
// changes indexed by hash. Local writes accumulate in an open transaction
// that is committed as one change; remote changes are applied in causal
// order.
//
// DELIVERY POLICY:
// Changes whose dependencies are missing are BUFFERED, never rejected or
// dropped. They are applied automatically once the missing changes arrive.
// MissingDeps reports what the buffer is waiting for.
//
// CONFLICTS:
// Concurrent writes to one key keep every value (see GetAll); reads return
// the op with the greatest (counter, actor). This is not an error path.
//
// A Document is not safe for concurrent use. Each replica owns its document
// and serializes access to it.
package doc

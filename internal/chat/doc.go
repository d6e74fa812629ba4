// Package chat maps a chat room onto a replicated document.
//
// Each message is a map under the document root, keyed "msg-<op id>", with
// user_id, content and timestamp fields (plus edited after an edit).
// Replicas exchange changes directly (Deliver, Broadcast) or through the
// sync protocol (SyncWith and the per-peer message helpers), and persist
// through a ChangeLog.
package chat

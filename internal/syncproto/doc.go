// Package syncproto implements the two-party sync protocol that reconciles
// the change histories of two documents.
//
// Each side keeps one State per peer. The caller alternates
// GenerateSyncMessage and ReceiveSyncMessage in both directions until both
// generators report nothing to send in the same round (Converge does this
// in-process). Messages carry the sender's heads, the hashes it is missing,
// a Bloom filter over the changes it has since the last shared heads, and
// the changes it has determined the peer lacks.
//
// Bloom false positives can make a sender withhold a change the peer lacks;
// the peer then lists that change's hash in Need on the next round.
package syncproto

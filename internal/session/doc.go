// Package session implements the connection session manager: per-socket
// identity, room membership, subscription bookkeeping, idle eviction, and
// shutdown broadcast.
//
// Rooms are modeled as two inverse indexes kept consistent solely by the
// Manager: room to set of session ids, and per-session subscription sets.
// Identity-scoped rooms (sub:<subject>, role:<role>) are joined at connect
// for direct addressing and are independent of channel subscriptions.
//
// The Manager implements pipeline.Broadcaster, so the publish pipeline
// fans out through the same room index the subscribe path maintains.
package session

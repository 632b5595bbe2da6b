// Package id generates 128-bit, time-ordered message identifiers.
//
// IDs embed a millisecond timestamp followed by a per-process sequence, so
// the hex encoding sorts lexicographically in publish order. That property
// lets the message store iterate a channel prefix and get chronological
// order for free.
package id

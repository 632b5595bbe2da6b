// Package messages persists channel messages and their delivery counters.
// Message ids are time-ordered, so a channel prefix scan returns publish
// order without a secondary index.
package messages

// Package runtime owns the process-wide resources of a single-node
// instance: the key-value store, the loaded configuration, and the policy
// engine. Everything above it borrows from here.
package runtime

// Package policy implements the authorization layer for subscribe and
// publish intents.
//
// The Engine interface is the row-level-security collaborator contract:
// ProbeRead for subscribe-style visibility checks and AttemptWrite for
// publish-style insert checks, each evaluated independently under a
// per-call SecurityContext. CELEngine is the default implementation,
// storing one CEL expression per object name; absent expressions
// default to allow.
//
// The Gate composes channel resolution with the engine: a missing or
// disabled channel denies before the engine is consulted, and engine
// errors surface as plain denials so policy internals never reach
// clients.
package policy

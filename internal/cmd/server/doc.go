// Package serverrun exposes a shared Run entrypoint used by the CLI to
// start the ripple runtime with the WebSocket and admin HTTP servers,
// handling lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", WSAddr: ":7070", HTTPAddr: ":7071", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun

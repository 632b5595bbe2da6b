// Package pebblestore provides a thin wrapper around Pebble with fsync
// policy, snapshots, batches, ordered prefix scans, and minimal metrics
// hooks.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Ordered scans
//	_ = db.ScanPrefix([]byte("chan/name/"), func(k, v []byte) bool { return true })
package pebblestore

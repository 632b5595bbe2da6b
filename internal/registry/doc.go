// Package registry implements the persisted channel catalog. Channels are
// keyed by pattern; a pattern may embed the SQL-LIKE % wildcard, and
// Resolve maps a concrete channel name to its governing channel with
// exact-match precedence and a stable lexicographic tie-break among
// wildcard candidates.
//
// Example:
//
//	reg := registry.New(db, logger)
//	ch, _ := reg.Create(ctx, registry.CreateParams{Pattern: "orders:%"})
//	got, ok := reg.Resolve(ctx, "orders:42") // got.ID == ch.ID
package registry

// Package webhook delivers published messages to the HTTP endpoints
// registered on a channel. Each endpoint is posted independently with
// exponential-backoff retries; the delivered count flows back into the
// message record through the pipeline.
package webhook

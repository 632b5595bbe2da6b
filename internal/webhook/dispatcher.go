package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rzbill/ripple/internal/pipeline"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Stats receives delivery results, satisfied by *pipeline.Pipeline.
type Stats interface {
	UpdateDeliveryStats(ctx context.Context, messageID string, delivered int) error
}

// Options are the per-endpoint delivery tunables.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
}

// Dispatcher delivers published messages to channel webhook endpoints.
// Each job is handled in its own goroutine; each endpoint is posted with
// exponential-backoff retries and a per-attempt timeout. Delivery is
// at-most-once per endpoint from the message's point of view: a message
// that exhausts retries is dropped, not queued.
type Dispatcher struct {
	client *http.Client
	opts   Options
	stats  Stats
	logger logpkg.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// body is the JSON document posted to each endpoint.
type body struct {
	MessageID string          `json:"messageId"`
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// New creates a dispatcher. Stats is bound separately because the pipeline
// needs the dispatcher at construction time.
func New(opts Options, logger logpkg.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger.WithComponent("webhook"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// BindStats attaches the delivery-stats sink.
func (d *Dispatcher) BindStats(s Stats) { d.stats = s }

// Dispatch implements pipeline.Dispatcher. It returns immediately; delivery
// runs in the background.
func (d *Dispatcher) Dispatch(job pipeline.Job) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(job)
	}()
}

// Shutdown waits for in-flight deliveries, then releases the dispatcher
// context. Deliveries are bounded by the retry cap and per-attempt timeout,
// so the wait is finite.
func (d *Dispatcher) Shutdown() {
	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) deliver(job pipeline.Job) {
	doc, err := json.Marshal(body{
		MessageID: job.MessageID,
		Channel:   job.Channel,
		Event:     job.Event,
		Payload:   job.Payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		d.logger.Error("marshal webhook body", logpkg.Str("id", job.MessageID), logpkg.Err(err))
		return
	}

	delivered := 0
	for _, endpoint := range job.Endpoints {
		if err := d.post(endpoint, doc); err != nil {
			d.logger.Warn("webhook delivery failed",
				logpkg.Str("id", job.MessageID),
				logpkg.Str("endpoint", endpoint),
				logpkg.Err(err),
			)
			continue
		}
		delivered++
	}

	if d.stats != nil {
		if err := d.stats.UpdateDeliveryStats(d.ctx, job.MessageID, delivered); err != nil {
			d.logger.Error("record delivery stats",
				logpkg.Str("id", job.MessageID),
				logpkg.Err(err),
			)
		}
	}
	d.logger.Debug("webhook job done",
		logpkg.Str("id", job.MessageID),
		logpkg.Int("endpoints", len(job.Endpoints)),
		logpkg.Int("delivered", delivered),
	)
}

// post attempts one endpoint with exponential backoff. Non-2xx responses
// count as failures and are retried.
func (d *Dispatcher) post(endpoint string, doc []byte) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.opts.MaxRetries)),
		d.ctx,
	)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, endpoint, bytes.NewReader(doc))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("endpoint returned %d", resp.StatusCode)
		}
		return nil
	}, policy)
}

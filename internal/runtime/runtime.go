package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/rzbill/ripple/internal/config"
	"github.com/rzbill/ripple/internal/policy"
	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, config, and the policy engine for a single-node
// instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	eng    *policy.CELEngine
}

// Open initializes the underlying storage and policy engine and returns a
// Runtime.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	eng, err := policy.NewCELEngine(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runtime{db: db, config: opts.Config, eng: eng}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Policies returns the policy engine.
func (r *Runtime) Policies() *policy.CELEngine { return r.eng }

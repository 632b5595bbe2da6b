package serverrun

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/ripple/internal/auth"
	cfgpkg "github.com/rzbill/ripple/internal/config"
	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/pipeline"
	"github.com/rzbill/ripple/internal/policy"
	"github.com/rzbill/ripple/internal/registry"
	"github.com/rzbill/ripple/internal/runtime"
	httpserver "github.com/rzbill/ripple/internal/server/http"
	wsserver "github.com/rzbill/ripple/internal/server/ws"
	"github.com/rzbill/ripple/internal/session"
	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	"github.com/rzbill/ripple/internal/webhook"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	WSAddr        string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the WebSocket and admin HTTP servers and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so direct callers
	// get signal handling for free.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Config.JWTSecret == "" {
		return errors.New("jwt secret is required (config jwtSecret or RIPPLE_JWT_SECRET)")
	}
	if opts.WSAddr == "" {
		opts.WSAddr = opts.Config.WSAddr
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = opts.Config.HTTPAddr
	}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	cfg := &logpkg.Config{
		Level:  getenvDefault("RIPPLE_LOG_LEVEL", "info"),
		Format: getenvDefault("RIPPLE_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting ripple server",
		logpkg.Str("ws", opts.WSAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", cfg.Level),
		logpkg.Str("format", cfg.Format),
	)

	reg := registry.New(rt.DB(), procLogger)
	gate := policy.NewGate(reg, rt.Policies(), procLogger)
	store := messages.NewStore(rt.DB(), procLogger)

	mgr := session.NewManager(gate, session.Options{
		IdleTimeout:   time.Duration(opts.Config.Session.IdleTimeoutMs) * time.Millisecond,
		SweepInterval: time.Duration(opts.Config.Session.SweepIntervalMs) * time.Millisecond,
	}, procLogger)
	disp := webhook.New(webhook.Options{
		Timeout:    time.Duration(opts.Config.Webhook.TimeoutMs) * time.Millisecond,
		MaxRetries: opts.Config.Webhook.MaxRetries,
	}, procLogger)
	pipe := pipeline.New(reg, gate, store, mgr, disp, procLogger)
	mgr.BindPublisher(pipe)
	disp.BindStats(pipe)
	mgr.StartSweep(sctx)

	wsrv := wsserver.NewServer(auth.NewVerifier(opts.Config.JWTSecret), mgr, wsserver.Options{
		MaxPayloadBytes: int64(opts.Config.Session.MaxPayloadBytes),
	}, procLogger)
	hsrv := httpserver.New(reg, store, rt.Policies(), pipe, rt, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serveWS(sctx, opts.WSAddr, wsrv); err != nil && sctx.Err() == nil {
			procLogger.Error("ws server error", logpkg.Err(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Drain order matters: stop accepting, notify clients, finish webhook
	// deliveries, then the deferred rt.Close tears down storage.
	hsrv.Close()
	mgr.Shutdown("server shutting down")
	disp.Shutdown()
	wg.Wait()
	return nil
}

// serveWS mounts the WebSocket handler at /ws and serves until ctx is
// cancelled.
func serveWS(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	srv := &http.Server{Handler: mux}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

package policy

import (
	"context"
	"testing"

	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

func newEngineForTest(t *testing.T) *CELEngine {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	eng, err := NewCELEngine(db, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestMissingPolicyDefaultsToAllow(t *testing.T) {
	eng := newEngineForTest(t)
	ctx := context.Background()
	granted, err := eng.ProbeRead(ctx, ObjectChannels, SecurityContext{Subject: "u1", Role: "authenticated"})
	if err != nil || !granted {
		t.Fatalf("expected default allow, got %v %v", granted, err)
	}
}

func TestProbeReadEvaluatesContext(t *testing.T) {
	eng := newEngineForTest(t)
	ctx := context.Background()
	if err := eng.SetPolicy(ctx, ObjectChannels, `role == "service" || channel.startsWith("public:")`); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	granted, err := eng.ProbeRead(ctx, ObjectChannels, SecurityContext{Subject: "u1", Role: "service", Channel: "orders:1"})
	if err != nil || !granted {
		t.Fatalf("service role should pass: %v %v", granted, err)
	}
	granted, err = eng.ProbeRead(ctx, ObjectChannels, SecurityContext{Subject: "u1", Role: "authenticated", Channel: "public:news"})
	if err != nil || !granted {
		t.Fatalf("public channel should pass: %v %v", granted, err)
	}
	granted, err = eng.ProbeRead(ctx, ObjectChannels, SecurityContext{Subject: "u1", Role: "authenticated", Channel: "orders:1"})
	if err != nil || granted {
		t.Fatalf("expected deny: %v %v", granted, err)
	}
}

func TestAttemptWriteSeesRow(t *testing.T) {
	eng := newEngineForTest(t)
	ctx := context.Background()
	if err := eng.SetPolicy(ctx, ObjectMessages, `row.senderId == subject && event != "forbidden"`); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	row := map[string]interface{}{"senderId": "u1", "channel": "c", "payload": map[string]interface{}{}}
	sctx := SecurityContext{Subject: "u1", Role: "authenticated", Channel: "c", Event: "updated"}
	granted, err := eng.AttemptWrite(ctx, ObjectMessages, row, sctx)
	if err != nil || !granted {
		t.Fatalf("expected grant: %v %v", granted, err)
	}

	sctx.Event = "forbidden"
	granted, err = eng.AttemptWrite(ctx, ObjectMessages, row, sctx)
	if err != nil || granted {
		t.Fatalf("expected deny: %v %v", granted, err)
	}
}

func TestSetPolicyRejectsBadExpression(t *testing.T) {
	eng := newEngineForTest(t)
	ctx := context.Background()
	if err := eng.SetPolicy(ctx, ObjectChannels, `role ==`); err == nil {
		t.Fatalf("expected compile error")
	}
	if err := eng.SetPolicy(ctx, ObjectChannels, `1 + 1`); err != nil {
		// non-bool expressions compile; they fail at eval time
		t.Fatalf("set policy: %v", err)
	}
	if granted, err := eng.ProbeRead(ctx, ObjectChannels, SecurityContext{}); err == nil || granted {
		t.Fatalf("non-bool result should error and deny, got %v %v", granted, err)
	}
}

func TestDropPolicyRevertsToAllow(t *testing.T) {
	eng := newEngineForTest(t)
	ctx := context.Background()
	if err := eng.SetPolicy(ctx, ObjectChannels, `false`); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if granted, _ := eng.ProbeRead(ctx, ObjectChannels, SecurityContext{}); granted {
		t.Fatalf("expected deny while policy installed")
	}
	if err := eng.DropPolicy(ctx, ObjectChannels); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if granted, err := eng.ProbeRead(ctx, ObjectChannels, SecurityContext{}); err != nil || !granted {
		t.Fatalf("expected allow after drop: %v %v", granted, err)
	}
}

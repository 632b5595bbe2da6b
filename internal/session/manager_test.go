package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/pipeline"
	"github.com/rzbill/ripple/internal/policy"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []interface{}
	closes []string
}

func (f *fakeSender) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeSender) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, reason)
	return nil
}

func (f *fakeSender) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) frame(i int) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[i]
}

func (f *fakeSender) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closes)
}

type fakeAuthorizer struct {
	denied map[string]bool
	calls  int
}

func (f *fakeAuthorizer) CheckSubscribe(_ context.Context, channel string, _ auth.Identity) bool {
	f.calls++
	return !f.denied[channel]
}

type fakePublisher struct {
	err      error
	lastChan string
	calls    int
}

func (f *fakePublisher) Publish(_ context.Context, channel, event string, payload json.RawMessage, ident auth.Identity, senderType string) (*messages.Message, error) {
	f.calls++
	f.lastChan = channel
	if f.err != nil {
		return nil, f.err
	}
	return &messages.Message{Channel: channel, Event: event, Payload: payload, SenderType: senderType, SenderID: ident.Subject}, nil
}

func testLogger(t *testing.T) logpkg.Logger {
	t.Helper()
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return logger
}

func newTestManager(t *testing.T) (*Manager, *fakeAuthorizer, *fakePublisher) {
	t.Helper()
	authz := &fakeAuthorizer{denied: map[string]bool{}}
	pub := &fakePublisher{}
	m := NewManager(authz, Options{IdleTimeout: time.Minute, SweepInterval: time.Minute}, testLogger(t))
	m.BindPublisher(pub)
	return m, authz, pub
}

func TestConnectJoinsIdentityRooms(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Connect(auth.Identity{Subject: "u1", Role: "authenticated"}, &fakeSender{})
	if s == nil {
		t.Fatal("connect returned nil")
	}
	if m.Count() != 1 {
		t.Fatalf("count: %d", m.Count())
	}
	if m.RoomSize("sub:u1") != 1 || m.RoomSize("role:authenticated") != 1 {
		t.Fatalf("identity rooms not joined")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Connect(auth.Identity{Subject: "u1", Role: "authenticated"}, &fakeSender{})
	if ack := m.Subscribe(context.Background(), s, "orders:1"); !ack.OK {
		t.Fatalf("subscribe: %+v", ack)
	}

	if !m.Disconnect(s.ID, "test") {
		t.Fatal("first disconnect should report true")
	}
	if m.Disconnect(s.ID, "test") {
		t.Fatal("second disconnect should report false")
	}
	if m.Count() != 0 || m.RoomSize("orders:1") != 0 || m.RoomSize("sub:u1") != 0 {
		t.Fatal("state not fully cleared")
	}
}

func TestSubscribeIdempotentAndCounted(t *testing.T) {
	m, authz, _ := newTestManager(t)
	s := m.Connect(auth.Identity{Subject: "u1"}, &fakeSender{})

	ack := m.Subscribe(context.Background(), s, "orders:1")
	if !ack.OK || ack.Channel != "orders:1" {
		t.Fatalf("ack: %+v", ack)
	}
	again := m.Subscribe(context.Background(), s, "orders:1")
	if !again.OK {
		t.Fatalf("repeat subscribe must succeed: %+v", again)
	}
	if authz.calls != 1 {
		t.Fatalf("authorizer consulted %d times, want 1", authz.calls)
	}
	if m.RoomSize("orders:1") != 1 {
		t.Fatalf("room size: %d", m.RoomSize("orders:1"))
	}
	if !m.IsSubscribed(s, "orders:1") {
		t.Fatal("not marked subscribed")
	}
}

func TestSubscribeDeniedYieldsFailAck(t *testing.T) {
	m, authz, _ := newTestManager(t)
	authz.denied["secret:1"] = true
	s := m.Connect(auth.Identity{Subject: "u1"}, &fakeSender{})

	ack := m.Subscribe(context.Background(), s, "secret:1")
	if ack.OK {
		t.Fatal("denied subscribe must not ack ok")
	}
	if ack.Error == nil || ack.Error.Code != CodeUnauthorized {
		t.Fatalf("ack error: %+v", ack.Error)
	}
	if m.RoomSize("secret:1") != 0 {
		t.Fatal("denied subscriber must not join the room")
	}
}

func TestUnsubscribeLeavesRoom(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Connect(auth.Identity{Subject: "u1"}, &fakeSender{})
	m.Subscribe(context.Background(), s, "orders:1")

	m.Unsubscribe(s, "orders:1")
	if m.IsSubscribed(s, "orders:1") || m.RoomSize("orders:1") != 0 {
		t.Fatal("unsubscribe did not clear membership")
	}

	// unsubscribing again is harmless
	m.Unsubscribe(s, "orders:1")
}

func TestPublishRequiresSubscription(t *testing.T) {
	m, _, pub := newTestManager(t)
	sender := &fakeSender{}
	s := m.Connect(auth.Identity{Subject: "u1"}, sender)

	m.Publish(context.Background(), s, "orders:1", "updated", nil)
	if pub.calls != 0 {
		t.Fatal("pipeline must not see unsubscribed publish")
	}
	if sender.frameCount() != 1 {
		t.Fatalf("frames: %d", sender.frameCount())
	}
	ev, ok := sender.frame(0).(ErrorEvent)
	if !ok || ev.Code != CodeNotSubscribed {
		t.Fatalf("frame: %+v", sender.frame(0))
	}
}

func TestPublishMapsErrorsToCodes(t *testing.T) {
	m, _, pub := newTestManager(t)
	sender := &fakeSender{}
	s := m.Connect(auth.Identity{Subject: "u1"}, sender)
	m.Subscribe(context.Background(), s, "orders:1")

	pub.err = policy.ErrUnauthorized
	m.Publish(context.Background(), s, "orders:1", "updated", nil)
	ev := sender.frame(sender.frameCount() - 1).(ErrorEvent)
	if ev.Code != CodeUnauthorized {
		t.Fatalf("code: %s", ev.Code)
	}

	pub.err = errors.New("disk on fire")
	m.Publish(context.Background(), s, "orders:1", "updated", nil)
	ev = sender.frame(sender.frameCount() - 1).(ErrorEvent)
	if ev.Code != CodeInternal {
		t.Fatalf("code: %s", ev.Code)
	}

	pub.err = nil
	m.Publish(context.Background(), s, "orders:1", "updated", json.RawMessage(`{"a":1}`))
	if pub.lastChan != "orders:1" || pub.calls != 3 {
		t.Fatalf("pipeline calls: %d to %q", pub.calls, pub.lastChan)
	}
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	m, _, _ := newTestManager(t)
	inSender, outSender := &fakeSender{}, &fakeSender{}
	in := m.Connect(auth.Identity{Subject: "u1"}, inSender)
	m.Connect(auth.Identity{Subject: "u2"}, outSender)
	m.Subscribe(context.Background(), in, "orders:1")

	env := pipeline.Envelope{
		Meta:  pipeline.Meta{MessageID: "m1", Channel: "orders:1", SenderType: messages.SenderTypeUser, SenderID: "u9"},
		Event: "updated",
	}
	n := m.Broadcast("orders:1", env)
	if n != 1 {
		t.Fatalf("audience: %d", n)
	}
	if inSender.frameCount() != 1 || outSender.frameCount() != 0 {
		t.Fatalf("delivery: in=%d out=%d", inSender.frameCount(), outSender.frameCount())
	}
	frame := inSender.frame(0).(EventFrame)
	if frame.Type != "event" || frame.Meta.MessageID != "m1" {
		t.Fatalf("frame: %+v", frame)
	}
}

func TestSendToSubjectAndRole(t *testing.T) {
	m, _, _ := newTestManager(t)
	a, b := &fakeSender{}, &fakeSender{}
	m.Connect(auth.Identity{Subject: "u1", Role: "service"}, a)
	m.Connect(auth.Identity{Subject: "u2", Role: "authenticated"}, b)

	if n := m.SendToSubject("u1", Notice{Type: "notice", Message: "hi"}); n != 1 {
		t.Fatalf("subject fan-out: %d", n)
	}
	if n := m.SendToRole("authenticated", Notice{Type: "notice", Message: "hi"}); n != 1 {
		t.Fatalf("role fan-out: %d", n)
	}
	if a.frameCount() != 1 || b.frameCount() != 1 {
		t.Fatalf("delivery: a=%d b=%d", a.frameCount(), b.frameCount())
	}
}

func TestSweepEvictsIdleExactlyOnce(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.opts.IdleTimeout = 10 * time.Millisecond
	idleSender, liveSender := &fakeSender{}, &fakeSender{}
	idle := m.Connect(auth.Identity{Subject: "idle"}, idleSender)
	live := m.Connect(auth.Identity{Subject: "live"}, liveSender)

	time.Sleep(20 * time.Millisecond)
	live.Touch()

	m.sweep()
	if m.Count() != 1 {
		t.Fatalf("count after sweep: %d", m.Count())
	}
	if idleSender.closeCount() != 1 {
		t.Fatalf("idle closes: %d", idleSender.closeCount())
	}
	if liveSender.closeCount() != 0 {
		t.Fatal("live session must survive the sweep")
	}

	// the transport read loop also reports the disconnect; the second
	// teardown must be a no-op
	if m.Disconnect(idle.ID, "read loop exit") {
		t.Fatal("sweep already disconnected this session")
	}
}

func TestShutdownNotifiesAndRefusesConnects(t *testing.T) {
	m, _, _ := newTestManager(t)
	sender := &fakeSender{}
	m.Connect(auth.Identity{Subject: "u1"}, sender)

	m.Shutdown("server restarting")
	if m.Count() != 0 {
		t.Fatalf("count: %d", m.Count())
	}
	if sender.frameCount() != 1 {
		t.Fatalf("frames: %d", sender.frameCount())
	}
	notice := sender.frame(0).(Notice)
	if notice.Message != "server restarting" {
		t.Fatalf("notice: %+v", notice)
	}
	if sender.closeCount() != 1 {
		t.Fatalf("closes: %d", sender.closeCount())
	}
	if m.Connect(auth.Identity{Subject: "u2"}, &fakeSender{}) != nil {
		t.Fatal("connect after shutdown must be refused")
	}
}

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/pipeline"
	"github.com/rzbill/ripple/internal/policy"
	"github.com/rzbill/ripple/internal/registry"
	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

type healthOK struct{}

func (healthOK) CheckHealth(context.Context) error { return nil }

func newTestAPI(t *testing.T) (*httptest.Server, *registry.Service, *messages.Store) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})

	reg := registry.New(db, logger)
	eng, err := policy.NewCELEngine(db, logger)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	gate := policy.NewGate(reg, eng, logger)
	store := messages.NewStore(db, logger)
	pipe := pipeline.New(reg, gate, store, nil, nil, logger)

	api := New(reg, store, eng, pipe, healthOK{}, logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, reg, store
}

func postJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	var body map[string]string
	resp := getJSON(t, srv.URL+"/v1/healthz", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
}

func TestChannelLifecycle(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/v1/channels/create", map[string]interface{}{
		"pattern":     "orders:%",
		"description": "order updates",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	var ch registry.Channel
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ch.ID == "" || !ch.Enabled {
		t.Fatalf("channel: %+v", ch)
	}

	// duplicate pattern conflicts
	if resp := postJSON(t, srv.URL+"/v1/channels/create", map[string]string{"pattern": "orders:%"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: %d", resp.StatusCode)
	}

	// invalid pattern is a 400
	if resp := postJSON(t, srv.URL+"/v1/channels/create", map[string]string{"pattern": "bad pattern!"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid: %d", resp.StatusCode)
	}

	// disable via update
	resp = postJSON(t, srv.URL+"/v1/channels/update", map[string]interface{}{
		"id": ch.ID, "enabled": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d", resp.StatusCode)
	}
	var updated registry.Channel
	_ = json.NewDecoder(resp.Body).Decode(&updated)
	if updated.Enabled {
		t.Fatal("channel should be disabled")
	}

	var list struct {
		Channels []registry.Channel `json:"channels"`
	}
	getJSON(t, srv.URL+"/v1/channels/list", &list)
	if len(list.Channels) != 1 {
		t.Fatalf("list: %+v", list)
	}

	if resp := postJSON(t, srv.URL+"/v1/channels/delete", map[string]string{"id": ch.ID}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/v1/channels/delete", map[string]string{"id": ch.ID}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete again: %d", resp.StatusCode)
	}
}

func TestSystemPublishAndMessageList(t *testing.T) {
	srv, reg, _ := newTestAPI(t)
	if _, err := reg.Create(context.Background(), registry.CreateParams{Pattern: "alerts"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := postJSON(t, srv.URL+"/v1/channels/publish", map[string]interface{}{
		"channel": "alerts", "event": "raised",
		"payload": map[string]string{"severity": "high"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish: %d", resp.StatusCode)
	}
	var pub struct {
		MessageID string `json:"messageId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&pub)
	if pub.MessageID == "" {
		t.Fatal("missing message id")
	}

	var list struct {
		Messages []messages.Message `json:"messages"`
	}
	getJSON(t, srv.URL+"/v1/messages/list?channel=alerts", &list)
	if len(list.Messages) != 1 {
		t.Fatalf("messages: %+v", list)
	}
	got := list.Messages[0]
	if got.SenderType != messages.SenderTypeSystem || got.SenderID != "" || got.Event != "raised" {
		t.Fatalf("message: %+v", got)
	}

	// publish to an unknown channel is forbidden
	resp = postJSON(t, srv.URL+"/v1/channels/publish", map[string]string{"channel": "ghost", "event": "e"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("ghost publish: %d", resp.StatusCode)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/v1/policies/set", map[string]string{
		"object": policy.ObjectChannels, "expression": `role == "service"`,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set: %d", resp.StatusCode)
	}

	// a policy that does not compile is rejected
	resp = postJSON(t, srv.URL+"/v1/policies/set", map[string]string{
		"object": policy.ObjectChannels, "expression": `role ==`,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad expr: %d", resp.StatusCode)
	}

	var got struct {
		Expression string `json:"expression"`
		Exists     bool   `json:"exists"`
	}
	getJSON(t, srv.URL+"/v1/policies/get?object="+policy.ObjectChannels, &got)
	if !got.Exists || got.Expression != `role == "service"` {
		t.Fatalf("get: %+v", got)
	}

	if resp := postJSON(t, srv.URL+"/v1/policies/drop", map[string]string{"object": policy.ObjectChannels}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("drop: %d", resp.StatusCode)
	}
	getJSON(t, srv.URL+"/v1/policies/get?object="+policy.ObjectChannels, &got)
	if got.Exists {
		t.Fatalf("dropped policy still present: %+v", got)
	}
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/policy"
	"github.com/rzbill/ripple/internal/registry"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Publisher is the system publish path, satisfied by *pipeline.Pipeline.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload json.RawMessage, ident auth.Identity, senderType string) (*messages.Message, error)
}

// Health reports backend readiness, satisfied by *runtime.Runtime.
type Health interface {
	CheckHealth(ctx context.Context) error
}

// Server is the admin/control-plane HTTP API: channel CRUD, policy
// management, system publish, and message inspection. It is meant to sit
// behind an operator-trusted boundary, not the public internet.
type Server struct {
	reg    *registry.Service
	store  *messages.Store
	eng    *policy.CELEngine
	pub    Publisher
	health Health
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New wires the admin API routes.
func New(reg *registry.Service, store *messages.Store, eng *policy.CELEngine, pub Publisher, health Health, logger logpkg.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		reg:    reg,
		store:  store,
		eng:    eng,
		pub:    pub,
		health: health,
		srv:    &http.Server{Handler: cors(mux)},
		logger: logger.WithComponent("http"),
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/channels/create", s.handleChannelCreate)
	mux.HandleFunc("/v1/channels/update", s.handleChannelUpdate)
	mux.HandleFunc("/v1/channels/delete", s.handleChannelDelete)
	mux.HandleFunc("/v1/channels/list", s.handleChannelList)
	mux.HandleFunc("/v1/channels/publish", s.handlePublish)
	mux.HandleFunc("/v1/messages/list", s.handleMessageList)
	mux.HandleFunc("/v1/policies/set", s.handlePolicySet)
	mux.HandleFunc("/v1/policies/drop", s.handlePolicyDrop)
	mux.HandleFunc("/v1/policies/get", s.handlePolicyGet)
	return s
}

// Handler exposes the wired routes for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is cancelled, then drains with a short
// shutdown grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps registry errors to their status codes; anything else is a
// plain 500 without internal detail.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pattern"})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, registry.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "pattern already exists"})
	default:
		s.logger.Error("admin request failed", logpkg.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.CheckHealth(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type channelCreateReq struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	WebhookURLs []string `json:"webhookUrls"`
	Disabled    bool     `json:"disabled"`
}

func (s *Server) handleChannelCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req channelCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ch, err := s.reg.Create(r.Context(), registry.CreateParams{
		Pattern:     req.Pattern,
		Description: req.Description,
		WebhookURLs: req.WebhookURLs,
		Disabled:    req.Disabled,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

type channelUpdateReq struct {
	ID          string    `json:"id"`
	Pattern     *string   `json:"pattern"`
	Description *string   `json:"description"`
	WebhookURLs *[]string `json:"webhookUrls"`
	Enabled     *bool     `json:"enabled"`
}

func (s *Server) handleChannelUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req channelUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ch, err := s.reg.Update(r.Context(), req.ID, registry.UpdateParams{
		Pattern:     req.Pattern,
		Description: req.Description,
		WebhookURLs: req.WebhookURLs,
		Enabled:     req.Enabled,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type channelDeleteReq struct {
	ID string `json:"id"`
}

func (s *Server) handleChannelDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req channelDeleteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.reg.Delete(r.Context(), req.ID); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	chans, err := s.reg.List(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if chans == nil {
		chans = []*registry.Channel{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": chans})
}

type publishReq struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handlePublish is the system publish path: the server itself is the
// sender, so policy sees role "service" and the fan-out meta carries no
// sender id.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" || req.Event == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ident := auth.Identity{Subject: "system", Role: "service"}
	msg, err := s.pub.Publish(r.Context(), req.Channel, req.Event, req.Payload, ident, messages.SenderTypeSystem)
	if err != nil {
		if errors.Is(err, policy.ErrUnauthorized) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
			return
		}
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"messageId":  msg.ID,
		"wsAudience": msg.WSAudience,
	})
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		limit, _ = strconv.Atoi(q)
	}
	msgs, err := s.store.ListByChannel(r.Context(), channel, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*messages.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type policySetReq struct {
	Object     string `json:"object"`
	Expression string `json:"expression"`
}

func (s *Server) handlePolicySet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req policySetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Object == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.eng.SetPolicy(r.Context(), req.Object, req.Expression); err != nil {
		// compile errors included
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type policyDropReq struct {
	Object string `json:"object"`
}

func (s *Server) handlePolicyDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req policyDropReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Object == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.eng.DropPolicy(r.Context(), req.Object); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	object := r.URL.Query().Get("object")
	if object == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	expr, ok := s.eng.Policy(r.Context(), object)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object":     object,
		"expression": expr,
		"exists":     ok,
	})
}

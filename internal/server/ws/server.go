package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/session"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Options are the WebSocket endpoint tunables.
type Options struct {
	// MaxPayloadBytes bounds one inbound frame; oversized frames kill the
	// connection.
	MaxPayloadBytes int64
}

// Server terminates WebSocket connections: it authenticates the handshake,
// upgrades, and runs the per-connection read loop against the session
// manager.
type Server struct {
	verifier *auth.Verifier
	sessions *session.Manager
	upgrader websocket.Upgrader
	opts     Options
	logger   logpkg.Logger
}

// NewServer creates the WebSocket endpoint handler.
func NewServer(verifier *auth.Verifier, sessions *session.Manager, opts Options, logger logpkg.Logger) *Server {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 1 << 20
	}
	return &Server{
		verifier: verifier,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger.WithComponent("ws"),
	}
}

// ServeHTTP is the /ws handshake. Credentials are checked before the
// upgrade so invalid tokens get a plain 401, not a broken socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", logpkg.Err(err))
		return
	}

	sender := newSender(conn)
	sess := s.sessions.Connect(ident, sender)
	if sess == nil {
		_ = sender.Close("server shutting down")
		return
	}
	go s.readLoop(conn, sender, sess)
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// readLoop owns the connection lifecycle: it is the only reader, and its
// exit is the single place a connection turns into a disconnect.
func (s *Server) readLoop(conn *websocket.Conn, sender *wsSender, sess *session.Session) {
	conn.SetReadLimit(s.opts.MaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, stopPing := context.WithCancel(context.Background())
	go s.pingLoop(pingCtx, sender)

	reason := "client closed"
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read error"
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Debug("malformed frame", logpkg.Str("session", sess.ID), logpkg.Err(err))
			continue
		}
		s.handle(sess, frame)
	}

	stopPing()
	if s.sessions.Disconnect(sess.ID, reason) {
		_ = sender.Close(reason)
	}
}

// handle routes one inbound frame. Subscribe and unsubscribe run inline so
// their effects are ordered with later frames from the same client;
// publish runs in its own goroutine because it blocks on storage.
func (s *Server) handle(sess *session.Session, frame clientFrame) {
	switch frame.Type {
	case frameSubscribe:
		ack := s.sessions.Subscribe(context.Background(), sess, frame.Channel)
		if err := sess.Send(ack); err != nil {
			s.logger.Debug("send ack failed", logpkg.Str("session", sess.ID), logpkg.Err(err))
		}
	case frameUnsubscribe:
		s.sessions.Unsubscribe(sess, frame.Channel)
	case framePublish:
		go s.sessions.Publish(context.Background(), sess, frame.Channel, frame.Event, frame.Payload)
	case framePing:
		sess.Touch()
		_ = sess.Send(pong{Type: "pong"})
	default:
		s.logger.Debug("unknown frame type",
			logpkg.Str("session", sess.ID),
			logpkg.Str("type", frame.Type),
		)
	}
}

func (s *Server) pingLoop(ctx context.Context, sender *wsSender) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

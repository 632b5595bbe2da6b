package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsSender adapts a gorilla connection to session.Sender. The socket
// allows one concurrent writer, so every write path funnels through mu.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func newSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame carrying reason, then tears down the socket.
// Later calls are no-ops.
func (s *wsSender) Close(reason string) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

// session is one live websocket connection. gorilla/websocket allows only one
// concurrent writer, so every outbound frame goes out under the write lock.
type session struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	// lastActivity holds the unix nanos of the last inbound frame.
	lastActivity atomic.Int64

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn) *session {
	s := &session{id: id, conn: conn}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

func (s *session) Send(msg protocol.ServerMessage) error {
	payload, err := protocol.EncodeServer(msg)
	if err != nil {
		return fmt.Errorf("failed to encode server message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// SendAudio pushes synthesized audio as a binary frame.
func (s *session) SendAudio(audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

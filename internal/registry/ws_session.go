package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// Inbound is a client frame; Data is decoded once the event is known.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSSession is a Channel over a websocket connection. Writes are
// serialised because gorilla connections allow one concurrent writer.
type WSSession struct {
	id           string
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{id: uuid.NewString(), conn: conn, writeTimeout: defaultWriteTimeout}
}

func (s *WSSession) ID() string { return s.id }

func (s *WSSession) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(env)
}

// Read blocks for the next client frame.
func (s *WSSession) Read() (Inbound, error) {
	var in Inbound
	err := s.conn.ReadJSON(&in)
	return in, err
}

func (s *WSSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

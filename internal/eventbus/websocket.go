package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wireEvent is the JSON shape pushed over the socket, matching spec
// §6's unsolicited event envelope: { event, data }.
type wireEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// socketSession pairs one upgraded connection with its bus subscriber.
type socketSession struct {
	conn *websocket.Conn
	sub  *Subscriber
	send chan []byte
	log  *zap.Logger
}

// ServeWebSocket upgrades r and streams subscriberID's events to the
// client over a read/write pump pair until the connection drops or the
// subscriber is unsubscribed.
func ServeWebSocket(bus *Bus, subscriberID string, log *zap.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &socketSession{
		conn: conn,
		sub:  bus.Subscribe(subscriberID),
		send: make(chan []byte, 64),
		log:  log,
	}
	defer bus.Unsubscribe(subscriberID)

	go s.pump(r.Context())
	go s.writePump()
	s.readPump()
}

// pump drains the subscriber into the send channel, JSON-encoding each
// event. It exits when the subscriber is unsubscribed or ctx is done.
func (s *socketSession) pump(ctx context.Context) {
	defer close(s.send)
	for {
		e, ok := s.sub.Receive(ctx)
		if !ok {
			return
		}
		payload, err := json.Marshal(wireEvent{Event: e.Name, Data: e.Data})
		if err != nil {
			s.log.Warn("failed to marshal event for websocket push", zap.Error(err))
			continue
		}
		select {
		case s.send <- payload:
		case <-ctx.Done():
			return
		}
	}
}

// readPump discards inbound messages (this transport is push-only) but
// must keep reading to process pong frames and detect connection close.
func (s *socketSession) readPump() {
	defer s.conn.Close()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *socketSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

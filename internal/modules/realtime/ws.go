// README: Websocket channel adapter: buffered outbound queue, write pump, read pump.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8 << 10
)

type WSChannel struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func NewWSChannel(conn *websocket.Conn, buffer int, log zerolog.Logger) *WSChannel {
	if buffer <= 0 {
		buffer = 64
	}
	return &WSChannel{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send queues the event. It reports false when the queue is full or the channel is closed.
func (w *WSChannel) Send(ev Event) bool {
	b, err := json.Marshal(ev)
	if err != nil {
		w.log.Error().Err(err).Str("event", ev.Name).Msg("encode event")
		return false
	}
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.send <- b:
		return true
	default:
		return false
	}
}

func (w *WSChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *WSChannel) Done() <-chan struct{} { return w.done }

// WritePump drains the queue to the socket and keeps the peer alive with pings.
func (w *WSChannel) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.Close()
	}()
	for {
		select {
		case <-w.done:
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				w.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.log.Debug().Err(err).Msg("ws ping failed")
				return
			}
		}
	}
}

// ReadPump decodes inbound frames and hands them to handle until the peer goes away.
// Malformed frames are answered with an error event and otherwise ignored.
func (w *WSChannel) ReadPump(handle func(Inbound)) error {
	defer w.Close()
	w.conn.SetReadLimit(maxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
			w.Send(Event{Name: EventError, Data: ErrorPayload{Message: "malformed frame"}})
			continue
		}
		handle(in)
	}
}

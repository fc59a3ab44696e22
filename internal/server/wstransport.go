// SPDX-License-Identifier: MIT

package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlabs/voxgate/internal/session"
)

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 10 * time.Second
	// pongWait is how long the peer may stay silent before the read fails.
	pongWait = 60 * time.Second
	// pingPeriod paces keepalive pings; must be shorter than pongWait.
	pingPeriod = 20 * time.Second
	// maxMessageBytes caps a single inbound frame. Audio chunks are small;
	// anything bigger is a misbehaving client.
	maxMessageBytes = 1 << 20
)

// wsTransport adapts a websocket connection to the session transport
// contract. All writes, keepalive pings included, go through writeMu so
// frames never interleave.
type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.keepalive()
	return t
}

// keepalive pings the peer until the transport is closed. A failed ping is
// left for the read side to notice via the expiring deadline.
func (t *wsTransport) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) Receive() ([]byte, error) {
	_, payload, err := t.conn.ReadMessage()
	if err != nil {
		// A websocket read failure is unrecoverable; close or error, the
		// session is over either way.
		return nil, session.ErrDisconnected
	}
	return payload, nil
}

func (t *wsTransport) Send(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return session.ErrDisconnected
	}
	return nil
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

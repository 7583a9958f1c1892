package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// WSTransport is a MessageTransport over a websocket connection, the wire
// the clearnode-style settlement nodes speak.
type WSTransport struct {
	url string

	mtx  sync.Mutex // guards conn and writes
	conn *websocket.Conn
}

var _ MessageTransport = (*WSTransport)(nil)

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{url: url}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.mtx.Lock()
	t.conn = conn
	t.mtx.Unlock()
	return nil
}

func (t *WSTransport) Send(payload []byte) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) Next() ([]byte, error) {
	t.mtx.Lock()
	conn := t.conn
	t.mtx.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	// Reads deliberately run outside the mutex; gorilla allows one
	// concurrent reader alongside one writer.
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (t *WSTransport) Close() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

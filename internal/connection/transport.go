package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one message on a transport.
type Frame struct {
	Binary bool
	Data   []byte
}

// Transport is a single open bidirectional connection.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Ping() error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebsocketDialer dials websocket endpoints.
type WebsocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Dial opens a websocket connection to endpoint.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake == 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshake}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}
	t := &wsTransport{conn: conn, readTimeout: d.ReadTimeout, writeTimeout: writeTimeout}
	if t.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		})
	}
	return t, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if t.readTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	return Frame{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

func (t *wsTransport) WriteFrame(f Frame) error {
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(mt, f.Data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

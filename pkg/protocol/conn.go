package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxMessageSize bounds one frame; checkpoint uploads dominate
	maxMessageSize = 32 << 20 // 32 MiB

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrMalformedEnvelope marks frames that arrived but did not parse. The
// connection stays usable; transport errors are returned unwrapped.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Conn is one envelope-oriented peer connection. WriteEnvelope is safe
// for concurrent use; ReadEnvelope must stay on a single reader.
type Conn interface {
	ReadEnvelope() (*Envelope, error)
	WriteEnvelope(env *Envelope) error
	Close() error
	RemoteAddr() string
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(maxMessageSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadEnvelope() (*Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return &env, nil
}

func (c *wsConn) WriteEnvelope(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade promotes an HTTP request to an envelope connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

// Dial connects to a foreman WebSocket endpoint.
func Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

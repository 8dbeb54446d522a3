package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
)

// Close codes the session distinguishes.
const (
	ClosePolicyViolation = websocket.ClosePolicyViolation // 1008, bad token
	CloseAbnormal        = websocket.CloseAbnormalClosure // 1006
)

// Conn is one established link. ReadMessage blocks until a binary message
// arrives or the link closes.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport dials links.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError reports a link closed by the peer with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("link closed: %d %s", e.Code, e.Reason)
}

// closeCode extracts the close code from a read error. Anything without a
// close frame counts as abnormal.
func closeCode(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	var wce *websocket.CloseError
	if errors.As(err, &wce) {
		return wce.Code, wce.Text
	}
	if err != nil {
		return CloseAbnormal, err.Error()
	}
	return CloseAbnormal, ""
}

// Websocket is the production transport.
type Websocket struct {
	HandshakeTimeout time.Duration
}

// Dial implements Transport.
func (w Websocket) Dial(ctx context.Context, url string) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: w.HandshakeTimeout}
	if d.HandshakeTimeout == 0 {
		d.HandshakeTimeout = 10 * time.Second
	}
	c, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, &CloseError{Code: ClosePolicyViolation, Reason: resp.Status}
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return wsConn{c}, nil
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w wsConn) Close() error {
	return w.c.Close()
}

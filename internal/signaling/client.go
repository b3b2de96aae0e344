// Package signaling is the client side of the hub's WebSocket transport.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const (
	// ConnectTimeout bounds the dial and WebSocket handshake.
	ConnectTimeout = 10 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrConnectTimeout = errors.New("signaling connect timed out")
	ErrTransport      = errors.New("signaling transport error")
	ErrClosed         = errors.New("signaling client closed")
)

// Client manages the WebSocket connection to the hub.
type Client struct {
	conn     *websocket.Conn
	log      *slog.Logger
	incoming chan models.Envelope
	outgoing chan models.Envelope
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to the hub at serverURL. It fails with ErrConnectTimeout
// when the handshake does not finish within ConnectTimeout or before ctx's
// own deadline.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		if isTimeout(dialCtx, err) {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, u.Host)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, u.Host, err)
	}

	c := &Client{
		conn:     conn,
		log:      logger,
		incoming: make(chan models.Envelope, 32),
		outgoing: make(chan models.Envelope, 32),
		done:     make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.mu.Unlock()
}

// Err returns the transport error that ended the connection, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump reads envelopes until the connection ends, then closes Incoming.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !c.closing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Warn("signaling connection lost", "error", err)
				c.fail(err)
			}
			return
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued envelopes and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues env for the hub.
func (c *Client) Send(ctx context.Context, env models.Envelope) error {
	if err := c.Err(); err != nil {
		return err
	}
	if c.closing() {
		return ErrClosed
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming delivers envelopes from the hub. It is closed when the
// connection ends; check Err to tell a drop from a local Close.
func (c *Client) Incoming() <-chan models.Envelope {
	return c.incoming
}

// Close sends a close frame and shuts the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

package signaling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			env.From = "hub"
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func receive(t *testing.T, c *Client) (models.Envelope, bool) {
	t.Helper()
	select {
	case env, ok := <-c.Incoming():
		return env, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for envelope")
		return models.Envelope{}, false
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	server := echoServer(t)
	c, err := Dial(context.Background(), wsURL(server), logging.Discard())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	env, _ := models.NewEnvelope(models.TypeJoinRoom, "R1", models.JoinRoomPayload{RoomID: "R1", UserID: "alice"})
	if err := c.Send(context.Background(), env); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, ok := receive(t, c)
	if !ok {
		t.Fatalf("incoming closed: %v", c.Err())
	}
	var p models.JoinRoomPayload
	if got.Type != models.TypeJoinRoom || got.From != "hub" || got.Decode(&p) != nil || p.UserID != "alice" {
		t.Fatalf("unexpected echo %#v", got)
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	// Accepts TCP but never answers the WebSocket handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, "ws://"+ln.Addr().String()+"/ws", logging.Discard())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
}

func TestClient_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), "ws://"+addr+"/ws", logging.Discard())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClient_DropReportsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop without a close frame.
		conn.UnderlyingConn().Close()
	}))
	defer server.Close()

	c, err := Dial(context.Background(), wsURL(server), logging.Discard())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, ok := receive(t, c); ok {
		t.Fatalf("expected incoming to close")
	}
	if !errors.Is(c.Err(), ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", c.Err())
	}
	if err := c.Send(context.Background(), models.Envelope{Type: models.TypeLeaveRoom}); !errors.Is(err, ErrTransport) {
		t.Fatalf("send after drop: %v", err)
	}
}

func TestClient_CloseIsClean(t *testing.T) {
	server := echoServer(t)
	c, err := Dial(context.Background(), wsURL(server), logging.Discard())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	c.Close()
	c.Close()
	for {
		if _, ok := receive(t, c); !ok {
			break
		}
	}
	if c.Err() != nil {
		t.Fatalf("local close reported %v", c.Err())
	}
	if err := c.Send(context.Background(), models.Envelope{Type: models.TypeLeaveRoom}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

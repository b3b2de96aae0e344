package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/hub"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/middleware"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const testSecret = "test-secret"

type fakeHistory struct {
	messages  []models.ChatMessage
	err       error
	lastLimit int
}

func (f *fakeHistory) Messages(_ context.Context, _ string, limit int) ([]models.ChatMessage, error) {
	f.lastLimit = limit
	return f.messages, f.err
}

func newTestServer(t *testing.T, history ChatHistory) (*httptest.Server, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(hub.NewMemoryStore(), nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	router := NewRouter(Deps{
		Hub:            h,
		History:        history,
		ICEServers:     []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		Logger:         logging.Discard(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func get(t *testing.T, url, token string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env models.Envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, userID string) models.RoomJoinedPayload {
	t.Helper()
	env, err := models.NewEnvelope(models.TypeJoinRoom, roomID, models.JoinRoomPayload{RoomID: roomID, UserID: userID})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	sendEnvelope(t, conn, env)

	reply := readEnvelope(t, conn)
	if reply.Type != models.TypeRoomJoined {
		t.Fatalf("expected room-joined, got %s %s", reply.Type, reply.Payload)
	}
	var payload models.RoomJoinedPayload
	if err := reply.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/health", "")
	if status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	var resp struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status field %q", resp.Status)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", resp.Timestamp, err)
	}
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginFilter([]string{"http://allowed.test"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		method string
		origin string
		status int
		cors   bool
	}{
		{"allowed", http.MethodGet, "http://allowed.test", http.StatusOK, true},
		{"forbidden", http.MethodGet, "http://evil.test", http.StatusForbidden, false},
		{"no origin", http.MethodGet, "", http.StatusOK, false},
		{"preflight", http.MethodOptions, "http://allowed.test", http.StatusNoContent, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/x", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status %d, want %d", w.Code, tc.status)
			}
			got := w.Header().Get("Access-Control-Allow-Origin")
			if tc.cors && got != tc.origin {
				t.Fatalf("allow-origin %q", got)
			}
			if !tc.cors && got != "" {
				t.Fatalf("unexpected allow-origin %q", got)
			}
		})
	}
}

func TestOriginFilter_Wildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginFilter([]string{"*"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://anything.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"pw"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := middleware.ParseToken(testSecret, body.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != "admin" || body.UserID != "admin" {
		t.Fatalf("user %q / %q", claims.UserID, body.UserID)
	}

	bad, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"admin"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: status %d", bad.StatusCode)
	}
}

func TestICEServers(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/api/ice-servers", "")
	if status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	var resp struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.ICEServers) != 1 || len(resp.ICEServers[0].URLs) != 1 || resp.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("servers %#v", resp.ICEServers)
	}
}

func TestRooms_ReflectLiveSockets(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	token, err := middleware.IssueToken(testSecret, "admin", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	if status, _ := get(t, srv.URL+"/api/rooms", ""); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: status %d", status)
	}

	alice := dialSocket(t, srv)
	bob := dialSocket(t, srv)
	joinRoom(t, alice, "R1", "alice")
	joinRoom(t, bob, "R1", "bob")

	status, body := get(t, srv.URL+"/api/rooms", token)
	if status != http.StatusOK {
		t.Fatalf("list: status %d", status)
	}
	var list struct {
		Rooms []models.RoomInfo `json:"rooms"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Rooms[0].ID != "R1" || list.Rooms[0].MemberCount != 2 {
		t.Fatalf("rooms %#v", list)
	}
	if len(list.Rooms[0].Members) != 0 {
		t.Fatalf("listing leaked members: %#v", list.Rooms[0].Members)
	}

	status, body = get(t, srv.URL+"/api/rooms/R1", "")
	if status != http.StatusOK {
		t.Fatalf("get: status %d", status)
	}
	var info models.RoomInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.MemberCount != 2 || len(info.Members) != 2 {
		t.Fatalf("room %#v", info)
	}

	if status, _ := get(t, srv.URL+"/api/rooms/nope", ""); status != http.StatusNotFound {
		t.Fatalf("missing room: status %d", status)
	}
}

func TestRoomMessages(t *testing.T) {
	stored := []models.ChatMessage{{ID: "m1", RoomID: "R1", UserID: "alice", Content: "hi"}}

	t.Run("history", func(t *testing.T) {
		history := &fakeHistory{messages: stored}
		srv, _ := newTestServer(t, history)

		status, body := get(t, srv.URL+"/api/rooms/R1/messages?limit=1000", "")
		if status != http.StatusOK {
			t.Fatalf("status %d", status)
		}
		if history.lastLimit != maxHistoryLimit {
			t.Fatalf("limit %d, want clamp to %d", history.lastLimit, maxHistoryLimit)
		}
		var resp struct {
			Messages []models.ChatMessage `json:"messages"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Messages) != 1 || resp.Messages[0].Content != "hi" {
			t.Fatalf("messages %#v", resp.Messages)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeHistory{})
		if status, _ := get(t, srv.URL+"/api/rooms/R1/messages?limit=-3", ""); status != http.StatusBadRequest {
			t.Fatalf("status %d", status)
		}
	})

	t.Run("store failure is empty", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeHistory{err: errors.New("down")})
		status, body := get(t, srv.URL+"/api/rooms/R1/messages", "")
		if status != http.StatusOK || !strings.Contains(string(body), `"messages":[]`) {
			t.Fatalf("status %d body %s", status, body)
		}
	})

	t.Run("no persistence", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		status, body := get(t, srv.URL+"/api/rooms/R1/messages", "")
		if status != http.StatusOK || !strings.Contains(string(body), `"messages":[]`) {
			t.Fatalf("status %d body %s", status, body)
		}
	})
}

func TestSignaling_RelayAndDisconnect(t *testing.T) {
	srv, h := newTestServer(t, nil)
	alice := dialSocket(t, srv)
	bob := dialSocket(t, srv)

	aj := joinRoom(t, alice, "R1", "alice")
	bj := joinRoom(t, bob, "R1", "bob")
	if len(bj.Users) != 1 || bj.Users[0].SocketID != aj.SocketID {
		t.Fatalf("bob saw %#v", bj.Users)
	}

	joined := readEnvelope(t, alice)
	if joined.Type != models.TypeUserJoined {
		t.Fatalf("expected user-joined, got %s", joined.Type)
	}

	offer, err := models.NewEnvelope(models.TypeOffer, "R1", models.OfferPayload{
		Offer: models.Description{Type: models.DescriptionOffer, SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	offer.TargetPeerID = aj.PeerID
	offer.From = "spoofed"
	sendEnvelope(t, bob, offer)

	relayed := readEnvelope(t, alice)
	if relayed.Type != models.TypeOffer || relayed.From != bj.SocketID || relayed.TargetPeerID != aj.PeerID {
		t.Fatalf("relayed %#v", relayed)
	}

	bob.Close()

	left := readEnvelope(t, alice)
	if left.Type != models.TypeUserLeft {
		t.Fatalf("expected user-left, got %s", left.Type)
	}
	var payload models.UserLeftPayload
	if err := left.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.SocketID != bj.SocketID || payload.UserID != "bob" {
		t.Fatalf("user-left %#v", payload)
	}

	info, ok, err := h.Room(context.Background(), "R1")
	if err != nil || !ok || info.MemberCount != 1 {
		t.Fatalf("room after drop: %#v ok=%v err=%v", info, ok, err)
	}
}

func TestSignaling_RoomFull(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for i := range hub.MaxRoomSize {
		conn := dialSocket(t, srv)
		joinRoom(t, conn, "R1", "user-"+string(rune('a'+i)))
	}

	late := dialSocket(t, srv)
	env, err := models.NewEnvelope(models.TypeJoinRoom, "R1", models.JoinRoomPayload{RoomID: "R1", UserID: "late"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	sendEnvelope(t, late, env)

	reply := readEnvelope(t, late)
	if reply.Type != models.TypeError {
		t.Fatalf("expected error, got %s", reply.Type)
	}
	var payload models.ErrorPayload
	if err := reply.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Message != "Room is full" {
		t.Fatalf("message %q", payload.Message)
	}
}

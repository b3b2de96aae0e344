package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

var errUnexpectedStatus = errors.New("unexpected status")

// apiClient talks to the server's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type healthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (c *apiClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%w %d", errUnexpectedStatus, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Health(ctx context.Context) (healthStatus, error) {
	var h healthStatus
	err := c.do(ctx, http.MethodGet, "/health", "", nil, &h)
	return h, err
}

// Login returns a bearer token for the admin endpoints.
func (c *apiClient) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

func (c *apiClient) Rooms(ctx context.Context, token string) ([]models.RoomInfo, error) {
	var resp struct {
		Rooms []models.RoomInfo `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", token, nil, &resp); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return resp.Rooms, nil
}

func (c *apiClient) Room(ctx context.Context, roomID string) (models.RoomInfo, error) {
	var info models.RoomInfo
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), "", nil, &info); err != nil {
		return models.RoomInfo{}, fmt.Errorf("get room: %w", err)
	}
	return info, nil
}

// signalingURL maps the HTTP base URL onto the WebSocket endpoint.
func signalingURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path += "/ws"
	}
	return u.String(), nil
}

// Package client talks to a paste server: storing and fetching encrypted
// pastes, and driving the LAN signaling relay for peer-to-peer transfer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clipzy/clipzy-server/internal/model"
	"github.com/clipzy/clipzy-server/internal/policy"
)

const defaultTimeout = 15 * time.Second

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// default with a short timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}

	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	statusErr := &StatusError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		statusErr.Message = body.Error
		statusErr.Code = body.Code
	}
	return nil, statusErr
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	res, err := c.send(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type storeRequest struct {
	Ciphertext string `json:"ciphertext"`
	TTLSeconds *int64 `json:"ttlSeconds"`
}

// Store uploads an already sealed paste. A ttl of policy.NoExpiry asks for
// a permanent paste.
func (c *Client) Store(ctx context.Context, ciphertext string, ttl time.Duration) (string, error) {
	req := storeRequest{Ciphertext: ciphertext}
	if ttl != policy.NoExpiry {
		secs := int64(ttl / time.Second)
		req.TTLSeconds = &secs
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/store", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Get returns the stored ciphertext of a paste.
func (c *Client) Get(ctx context.Context, id string) (string, error) {
	var resp struct {
		Ciphertext string `json:"ciphertext"`
	}
	if err := c.do(ctx, http.MethodGet, "/get", url.Values{"id": {id}}, nil, &resp); err != nil {
		return "", err
	}
	return resp.Ciphertext, nil
}

// Raw asks the server to decrypt a paste with key and returns the plaintext.
func (c *Client) Raw(ctx context.Context, id, key string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/raw/"+url.PathEscape(id), url.Values{"key": {key}}, nil)
	if err != nil {
		return "", err
	}
	res, err := c.send(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

const signalPath = "/lan/signal"

func (c *Client) CreateRoom(ctx context.Context) (*model.Room, error) {
	var resp struct {
		Room *model.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, signalPath, nil, map[string]string{"action": "create-room"}, &resp); err != nil {
		return nil, err
	}
	return resp.Room, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, deviceName string, deviceType model.DeviceType) (*model.Room, *model.Device, error) {
	var resp struct {
		Room   *model.Room   `json:"room"`
		Device *model.Device `json:"device"`
	}
	body := map[string]string{
		"action":     "join-room",
		"roomId":     roomID,
		"deviceName": deviceName,
		"deviceType": string(deviceType),
	}
	if err := c.do(ctx, http.MethodPost, signalPath, nil, body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Room, resp.Device, nil
}

func (c *Client) Room(ctx context.Context, roomID string) (*model.Room, error) {
	var resp struct {
		Room *model.Room `json:"room"`
	}
	query := url.Values{"action": {"room"}, "roomId": {roomID}}
	if err := c.do(ctx, http.MethodGet, signalPath, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Room, nil
}

// Signal relays a signaling payload to another device in the room.
func (c *Client) Signal(ctx context.Context, roomID string, t model.SignalType, from, to string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode signal data: %w", err)
	}
	body := map[string]any{
		"action":     "signal",
		"roomId":     roomID,
		"type":       t,
		"fromDevice": from,
		"toDevice":   to,
		"data":       json.RawMessage(raw),
	}
	return c.do(ctx, http.MethodPost, signalPath, nil, body, nil)
}

// Poll fetches messages newer than cursor and returns them with the cursor
// to use next time.
func (c *Client) Poll(ctx context.Context, roomID, deviceID string, cursor int64) ([]*model.SignalMessage, int64, error) {
	var resp struct {
		Messages []*model.SignalMessage `json:"messages"`
		Cursor   int64                  `json:"cursor"`
	}
	query := url.Values{
		"action":   {"poll"},
		"roomId":   {roomID},
		"deviceId": {deviceID},
		"cursor":   {strconv.FormatInt(cursor, 10)},
	}
	if err := c.do(ctx, http.MethodGet, signalPath, query, nil, &resp); err != nil {
		return nil, cursor, err
	}

	next := max(cursor, resp.Cursor)
	for _, m := range resp.Messages {
		next = max(next, m.Timestamp)
	}
	return resp.Messages, next, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID, deviceID string) error {
	query := url.Values{"roomId": {roomID}, "deviceId": {deviceID}}
	return c.do(ctx, http.MethodDelete, signalPath, query, nil, nil)
}

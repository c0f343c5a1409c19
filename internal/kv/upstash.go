package kv

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
)

const (
	upstashMaxResponseBytes = 8 << 20
	upstashDefaultTimeout   = 10 * time.Second
)

// UpstashStore talks to an Upstash-compatible Redis REST endpoint.
//
// Values are JSON-encoded before they are written, so every stored value is
// a JSON string. Reads decode the response envelope and then the stored
// JSON string; a stored value that is not a JSON string is ErrCorrupt.
type UpstashStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewUpstashStore(baseURL, token string, client *http.Client) *UpstashStore {
	if client == nil {
		client = &http.Client{Timeout: upstashDefaultTimeout}
	}
	return &UpstashStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type upstashResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *UpstashStore) do(ctx context.Context, op, method, endpoint string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, body)
	if err != nil {
		return nil, backendErr("upstash", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, backendErr("upstash", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, upstashMaxResponseBytes))
	if err != nil {
		return nil, backendErr("upstash", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	var envelope upstashResponse
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := envelope.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, backendErr("upstash", op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return nil, backendErr("upstash", op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if envelope.Error != "" {
		return nil, backendErr("upstash", op, fmt.Errorf("%s", envelope.Error))
	}
	return envelope.Result, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// encodeValue produces the stored representation of value. HTML escaping is
// off so the bytes match what browser clients write for the same string.
func encodeValue(value string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func (s *UpstashStore) Get(ctx context.Context, key string) (string, error) {
	result, err := s.do(ctx, "get", http.MethodGet, "/get/"+url.PathEscape(key), nil)
	if err != nil {
		return "", err
	}
	if isJSONNull(result) {
		return "", ErrNotFound
	}

	var stored string
	if err := json.Unmarshal(result, &stored); err != nil {
		return "", backendErr("upstash", "get", fmt.Errorf("unexpected result: %w", err))
	}

	var value string
	if err := json.Unmarshal([]byte(stored), &value); err != nil {
		return "", fmt.Errorf("%w: key %s: %v", ErrCorrupt, key, err)
	}
	return value, nil
}

func (s *UpstashStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return backendErr("upstash", "set", err)
	}

	endpoint := "/set/" + url.PathEscape(key)
	if ttl > 0 {
		endpoint += "?EX=" + strconv.FormatInt(ttlSeconds(ttl), 10)
	}

	result, err := s.do(ctx, "set", http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return err
	}

	var status string
	if err := json.Unmarshal(result, &status); err != nil || status != "OK" {
		return backendErr("upstash", "set", fmt.Errorf("unexpected result %s", string(result)))
	}
	return nil
}

func (s *UpstashStore) Delete(ctx context.Context, key string) (int64, error) {
	result, err := s.do(ctx, "del", http.MethodPost, "/del/"+url.PathEscape(key), nil)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, backendErr("upstash", "del", fmt.Errorf("unexpected result %s", string(result)))
	}
	return n, nil
}

func (s *UpstashStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	result, err := s.do(ctx, "keys", http.MethodGet, "/keys/"+url.PathEscape(pattern), nil)
	if err != nil {
		if err == ErrNotFound {
			return []string{}, nil
		}
		return nil, err
	}
	if isJSONNull(result) {
		return []string{}, nil
	}

	var keys []string
	if err := json.Unmarshal(result, &keys); err != nil {
		return nil, backendErr("upstash", "keys", fmt.Errorf("unexpected result: %w", err))
	}
	return keys, nil
}

// CompareAndSwap runs casScript through the REST command endpoint. The
// comparison happens on stored representations, so expected and value are
// encoded the same way Set encodes them.
func (s *UpstashStore) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error) {
	encExpected, encValue := "", ""
	var err error
	if expected != "" {
		if encExpected, err = encodeValue(expected); err != nil {
			return false, backendErr("upstash", "cas", err)
		}
	}
	if value != "" {
		if encValue, err = encodeValue(value); err != nil {
			return false, backendErr("upstash", "cas", err)
		}
	}

	var ttlMillis int64
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}

	command := []string{"EVAL", casScriptSource, "1", key, encExpected, encValue, strconv.FormatInt(ttlMillis, 10)}
	body, err := json.Marshal(command)
	if err != nil {
		return false, backendErr("upstash", "cas", err)
	}

	result, err := s.do(ctx, "cas", http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		if err == ErrNotFound {
			return false, backendErr("upstash", "cas", fmt.Errorf("command endpoint not found"))
		}
		return false, err
	}

	var swapped int64
	if err := json.Unmarshal(result, &swapped); err != nil {
		return false, backendErr("upstash", "cas", fmt.Errorf("unexpected result %s", string(result)))
	}
	return swapped == 1, nil
}

func (s *UpstashStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

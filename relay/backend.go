package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Backend is the notification-delivery collaborator. Implementations talk
// to whatever bot or messaging service actually delivers notifications.
type Backend interface {
	// SendTest delivers a test notification to the chat.
	SendTest(ctx context.Context, chatID string) (bool, error)

	// Validate reports whether the chat ID is deliverable.
	Validate(ctx context.Context, chatID string) (bool, error)
}

// HTTPBackend talks JSON-over-HTTP to a remote delivery service.
type HTTPBackend struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPBackend creates a backend client for the delivery service at
// baseURL (e.g. "http://bot-relay:8090").
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

type backendRequest struct {
	ChatID string `json:"chatId"`
}

type backendResponse struct {
	Success bool `json:"success"`
	IsValid bool `json:"isValid"`
}

func (b *HTTPBackend) SendTest(ctx context.Context, chatID string) (bool, error) {
	resp, err := b.postJSON(ctx, "/test", &backendRequest{ChatID: chatID})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (b *HTTPBackend) Validate(ctx context.Context, chatID string) (bool, error) {
	resp, err := b.postJSON(ctx, "/validate", &backendRequest{ChatID: chatID})
	if err != nil {
		return false, err
	}
	return resp.IsValid, nil
}

func (b *HTTPBackend) postJSON(ctx context.Context, path string, body *backendRequest) (*backendResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("delivery service error: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	result := &backendResponse{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}

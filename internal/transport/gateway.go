package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayClient sends messages through the WhatsApp gateway's HTTP API.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGatewayClient creates a gateway client. timeout bounds a single
// request; the dispatcher applies its own per-attempt deadline on top.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Send posts one message. HTTP 429 and 5xx responses and network
// failures are transient; any other 4xx is permanent (bad number,
// rejected content).
func (c *GatewayClient) Send(ctx context.Context, phone, body string) error {
	data, err := json.Marshal(sendRequest{Phone: phone, Body: body})
	if err != nil {
		return Permanent(phone, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return Permanent(phone, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(phone, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}

	var errResp errorResponse
	reason := fmt.Errorf("HTTP %d", resp.StatusCode)
	if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
		reason = fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(phone, reason)
	}
	return Permanent(phone, reason)
}

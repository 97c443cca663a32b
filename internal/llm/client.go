package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Client calls the LLM chat-completions endpoint. It does not implement
// retry itself — that lives in the sandbox turn runner (§4.4.1), which needs
// to emit before_model_call/model_retry/model_error events around each
// attempt. Client only knows how to make one HTTP round trip.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
}

// NewClient builds a Client with a sane default timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 120 * time.Second},
		BaseURL: baseURL,
		APIKey:  apiKey,
	}
}

// Chat performs one chat-completions call. A non-2xx response is returned
// as a *StatusError so the caller can classify retryability.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err // network-class error; caller classifies by text
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out ChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	return &out, nil
}

var retryableText = regexp.MustCompile(`(?i)fetch failed|network|socket|timeout|timed out|ECONNRESET|ECONNREFUSED|EAI_AGAIN`)

// IsRetryable classifies an error from Chat per §4.4.1: HTTP 429 and
// 500-504 are retryable, as is any error whose text matches the transport
// failure patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		sc := statusErr.StatusCode
		return sc == 429 || (sc >= 500 && sc <= 504)
	}
	return retryableText.MatchString(err.Error())
}

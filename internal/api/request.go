package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// APIError represents an error from the LS API.
type APIError struct {
	StatusCode int
	Code       string // rsp_cd when the broker rejected the request
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ls api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ls api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs one HTTP POST. TR requests carry the tr_cd header; the
// token endpoint sends a form body instead of JSON.
func (c *Client) doRequest(ctx context.Context, path, trCode string, payload []byte, form string) ([]byte, error) {
	var body io.Reader
	if form != "" {
		body = strings.NewReader(form)
	} else {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+c.cachedToken())
		req.Header.Set("tr_cd", trCode)
		req.Header.Set("tr_cont", "N")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       data,
		}
	}

	return data, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, path, trCode string, payload []byte, form string) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
				"tr_cd", trCode,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		data, err := c.doRequest(ctx, path, trCode, payload, form)
		if err == nil {
			return data, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// postTR executes a TR request and decodes the response, rejecting bodies
// whose rsp_cd signals a broker-side failure.
func (c *Client) postTR(ctx context.Context, path, trCode string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", trCode, err)
	}

	data, err := c.doWithRetry(ctx, path, trCode, payload, "")
	if err != nil {
		return err
	}

	var rsp struct {
		RspCd  string `json:"rsp_cd"`
		RspMsg string `json:"rsp_msg"`
	}
	if err := json.Unmarshal(data, &rsp); err == nil &&
		rsp.RspCd != "" && rsp.RspCd != protocol.RspSuccess {
		return &APIError{
			StatusCode: http.StatusOK,
			Code:       rsp.RspCd,
			Message:    rsp.RspMsg,
			Body:       data,
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", trCode, err)
	}

	return nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// tokenRefreshMargin renews tokens this long before they expire so requests
// in flight never race the expiry.
const tokenRefreshMargin = 60 * time.Second

// TokenResponse is the body of a successful /oauth2/token call.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Token returns a valid access token, issuing a new one when the cached
// token is missing or close to expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	return c.IssueToken(ctx)
}

// IssueToken requests a fresh access token and caches it.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":   {"client_credentials"},
		"appkey":       {c.appKey},
		"appsecretkey": {c.secretKey},
		"scope":        {"oob"},
	}

	data, err := c.doWithRetry(ctx, "/oauth2/token", "", nil, form.Encode())
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	var rsp TokenResponse
	if err := json.Unmarshal(data, &rsp); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if rsp.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.mu.Lock()
	c.accessToken = rsp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(rsp.ExpiresIn) * time.Second)
	c.mu.Unlock()

	c.logger.Info("access token issued", "expires_in", rsp.ExpiresIn)
	return rsp.AccessToken, nil
}

// TokenSource returns a function yielding a valid token for subscription
// payloads and websocket handshakes. It reissues the token near expiry, so
// a reconnect hours after startup does not present a stale credential.
// When reissue fails the last known token is returned and the attempt
// proceeds; the broker's rejection then surfaces through the usual error
// routing.
func (c *Client) TokenSource() func() string {
	return func() string {
		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		token, err := c.Token(ctx)
		if err != nil {
			c.logger.Warn("token refresh failed, using cached token", "error", err)
			return c.cachedToken()
		}
		return token
	}
}

func (c *Client) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

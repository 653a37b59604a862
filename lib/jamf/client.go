// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jamfup/jamfup/lib/clock"
)

// tokenPath is the OAuth2 client-credentials token endpoint.
const tokenPath = "/api/oauth/token"

// defaultRequestTimeout bounds a single HTTP request. Package uploads
// can legitimately run for tens of minutes on slow links, so the
// transport must not cut them off; the orchestrator's own retry and
// poll budgets are the timeout mechanism for everything shorter.
const defaultRequestTimeout = 30 * time.Minute

// maxResponseSize bounds response body reads so a misbehaving server
// cannot exhaust memory. Real Jamf API responses are orders of
// magnitude smaller.
const maxResponseSize int64 = 256 << 20

// Upload retry defaults: 3 total attempts with a fixed 10-second
// cooldown. The upload endpoint needs simple cooldown after a 5xx, not
// congestion avoidance, so the backoff is constant rather than
// exponential.
const (
	defaultUploadAttempts      = 3
	defaultUploadRetryInterval = 10 * time.Second
)

// Config holds what Connect needs to establish a session.
type Config struct {
	// BaseURL is the Jamf Pro instance root, e.g.
	// "https://example.jamfcloud.com". Trailing slashes are stripped.
	BaseURL string

	// ClientID and ClientSecret are the API client credentials for the
	// OAuth2 client-credentials grant.
	ClientID     string
	ClientSecret string

	// HTTPClient is used for all requests. Defaults to a client with a
	// 30-minute request timeout so large uploads are never cut off by
	// the transport.
	HTTPClient *http.Client

	// Clock provides time operations for the upload retry backoff.
	// Defaults to clock.Real(). Inject a FakeClock in tests.
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// UploadAttempts and UploadRetryInterval override the upload retry
	// budget. Zero values select the defaults (3 attempts, 10s apart).
	UploadAttempts      int
	UploadRetryInterval time.Duration
}

// Client is an authenticated Jamf Pro API session. The bearer token is
// acquired in Connect and immutable afterward; a Client is safe for
// use from a single workflow run.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	clock      clock.Clock
	logger     *slog.Logger

	uploadAttempts      int
	uploadRetryInterval time.Duration
}

// Connect exchanges the client credentials for a bearer token and
// returns a ready-to-use client. Fails with *AuthenticationError when
// the exchange is rejected or the token payload is malformed.
func Connect(ctx context.Context, config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("jamf: BaseURL is required")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("jamf: ClientID and ClientSecret are required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	uploadAttempts := config.UploadAttempts
	if uploadAttempts <= 0 {
		uploadAttempts = defaultUploadAttempts
	}
	uploadRetryInterval := config.UploadRetryInterval
	if uploadRetryInterval <= 0 {
		uploadRetryInterval = defaultUploadRetryInterval
	}

	token, err := authenticate(ctx, httpClient, baseURL, config.ClientID, config.ClientSecret)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:             baseURL,
		httpClient:          httpClient,
		token:               token,
		clock:               clk,
		logger:              logger,
		uploadAttempts:      uploadAttempts,
		uploadRetryInterval: uploadRetryInterval,
	}, nil
}

// authenticate performs the form-encoded OAuth2 client-credentials
// exchange.
func authenticate(ctx context.Context, httpClient *http.Client, baseURL, clientID, clientSecret string) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"grant_type":    {"client_credentials"},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("jamf: creating token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("jamf: reaching token endpoint: %w", err)
	}
	defer response.Body.Close()

	body, err := readBody(response.Body)
	if err != nil {
		return "", fmt.Errorf("jamf: reading token response: %w", err)
	}

	if !isSuccess(response.StatusCode) {
		return "", &AuthenticationError{StatusCode: response.StatusCode, Body: string(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", &AuthenticationError{Reason: fmt.Sprintf("parsing token response: %v", err)}
	}
	if token.AccessToken == "" {
		return "", &AuthenticationError{Reason: "token response contains no access_token"}
	}
	return token.AccessToken, nil
}

// send executes an authenticated request and returns the status code
// and bounded response body. It does not classify non-2xx statuses —
// each operation wraps those in its own error type.
func (client *Client) send(ctx context.Context, method, path, accept string, requestBody any) (int, []byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, fmt.Errorf("jamf: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("jamf: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", accept)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("jamf: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := readBody(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("jamf: reading response body: %w", err)
	}
	return response.StatusCode, body, nil
}

// readBody reads a response body up to maxResponseSize bytes.
func readBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxResponseSize))
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

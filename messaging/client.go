// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rowdee3/whysper/lib/config"
	"github.com/rowdee3/whysper/lib/netutil"
	"github.com/rowdee3/whysper/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Do not set a Timeout on it — /sync long-polls would be
	// cut off mid-hold. Use CallTimeout to bound synchronous calls.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// CallTimeout bounds every request except /sync. Zero means no
	// client-side bound; callers control lifetime through their
	// context.
	CallTimeout time.Duration

	// Sync tunes Listeners created against sessions of this client.
	// Zero-value fields fall back to the package defaults.
	Sync config.SyncConfig
}

// Client is an unauthenticated Matrix client. It holds the homeserver
// URL and HTTP transport, shared across Sessions.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	callTimeout time.Duration
	syncConfig  config.SyncConfig
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(clientConfig ClientConfig) (*Client, error) {
	if clientConfig.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build request URLs by direct
	// concatenation. This avoids double-encoding issues with Go's
	// url.URL.String(), which re-encodes Path even when RawPath is set
	// if it doesn't consider RawPath a valid encoding of Path.
	if _, err := url.Parse(clientConfig.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", clientConfig.HomeserverURL, err)
	}

	httpClient := clientConfig.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := clientConfig.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(clientConfig.HomeserverURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		callTimeout: clientConfig.CallTimeout,
		syncConfig:  clientConfig.Sync,
	}, nil
}

// NewClientFromConfig creates a Client from a loaded configuration.
func NewClientFromConfig(cfg config.Config, logger *slog.Logger) (*Client, error) {
	return NewClient(ClientConfig{
		HomeserverURL: cfg.HomeserverURL,
		Logger:        logger,
		CallTimeout:   cfg.HTTPTimeout(),
		Sync:          cfg.Sync,
	})
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// ServerVersions returns the Matrix protocol versions and unstable
// features supported by the homeserver. Unauthenticated — useful for
// checking whether the homeserver is reachable before login.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server versions failed: %w", err)
	}

	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	return &response, nil
}

// registerPath is the account registration endpoint, shared by the
// discovery GET and the registration POST.
const registerPath = "/_matrix/client/v3/register"

// Register creates a new account and returns an authenticated Session.
//
// Homeservers vary in how they run the registration flow: some assign
// a User-Interactive Auth session on a discovery GET, some only hand
// it out as a 401 response to the first POST, and open servers
// complete registration on the POST directly. All three shapes are
// accepted:
//   - A discovery GET fetches a flow session ID when the server
//     offers one (server rejections of the GET are ignored).
//   - The POST carries m.login.dummy auth with that session ID.
//   - A 401 to the POST with a fresh session ID triggers one retry.
func (c *Client) Register(ctx context.Context, request RegisterRequest) (*Session, error) {
	if request.Username == "" {
		return nil, fmt.Errorf("messaging: username is required for registration")
	}
	if request.Password == nil {
		return nil, fmt.Errorf("messaging: password is required for registration")
	}

	query := url.Values{"kind": []string{"user"}}

	flowSession := ""
	body, err := c.doRequest(ctx, http.MethodGet, registerPath, nil, nil, query)
	if err == nil || isServerRejection(err) {
		// The discovery body (200 or an error response that still
		// carries a UIAA session) may name the flow session.
		flowSession = extractFlowSession(body)
	} else {
		return nil, fmt.Errorf("messaging: registration discovery failed: %w", err)
	}

	body, err = c.doRequest(ctx, http.MethodPost, registerPath, nil, registerPayload(request, flowSession), query)
	if err != nil && isUnauthorizedUIAA(err) {
		// The server assigned (or reassigned) the flow session on the
		// POST. Complete the flow once with the session it named.
		if assigned := extractFlowSession(body); assigned != "" && assigned != flowSession {
			body, err = c.doRequest(ctx, http.MethodPost, registerPath, nil, registerPayload(request, assigned), query)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: registration failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse register response: %w", err)
	}

	c.logger.Info("registered account",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return c.sessionFromAuth(&authResponse)
}

// registerPayload builds the registration request body. Password is
// converted to string at the JSON serialization boundary; the heap
// copy is short-lived.
func registerPayload(request RegisterRequest, flowSession string) map[string]any {
	auth := map[string]any{"type": "m.login.dummy"}
	if flowSession != "" {
		auth["session"] = flowSession
	}
	payload := map[string]any{
		"username":      request.Username,
		"password":      request.Password.String(),
		"auth":          auth,
		"inhibit_login": false,
	}
	if request.DisplayName != "" {
		payload["displayname"] = request.DisplayName
	}
	return payload
}

// Login authenticates with username and password, returning a Session.
// The password Buffer is read but not closed — the caller retains
// ownership. A wrong password is an ordinary *MatrixError
// (M_FORBIDDEN), detectable with IsAuthError.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer) (*Session, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	loginRequest := LoginRequest{
		Type: "m.login.password",
		Identifier: LoginIdentifier{
			Type: "m.id.user",
			User: username,
		},
		Password:                 password.String(),
		InitialDeviceDisplayName: "whysper",
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return c.sessionFromAuth(&authResponse)
}

// SessionFromToken creates a Session from an existing access token
// string. The token is moved into mmap-backed memory; the original
// string remains on the heap briefly until collected.
//
// This does NOT validate the token — the first API call will fail if
// it is invalid. Use Session.WhoAmI to check a stored token. The
// caller must Close the returned Session.
func (c *Client) SessionFromToken(userID, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("messaging: access token is required")
	}
	tokenBuffer, err := secret.NewFromString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &Session{
		client:      c,
		accessToken: tokenBuffer,
		userID:      userID,
	}, nil
}

func (c *Client) sessionFromAuth(auth *AuthResponse) (*Session, error) {
	if auth.AccessToken == "" {
		return nil, fmt.Errorf("messaging: server response missing access token")
	}
	tokenBuffer, err := secret.NewFromString(auth.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &Session{
		client:      c,
		accessToken: tokenBuffer,
		userID:      auth.UserID,
		deviceID:    auth.DeviceID,
	}, nil
}

// doRequest performs a JSON API request bounded by the configured call
// timeout. On 2xx, returns the body. On any other HTTP status, returns
// the raw body alongside a *MatrixError. accessToken may be nil for
// unauthenticated endpoints; query may be nil.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query url.Values) ([]byte, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return c.doLongRequest(ctx, method, path, accessToken, requestBody, query)
}

// doLongRequest is doRequest without the call-timeout bound. /sync
// uses it directly: the server intentionally holds the connection for
// the long-poll window, and the poller's context governs cancellation.
func (c *Client) doLongRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Server returned non-JSON error. This should not happen with
		// a spec-compliant server, but fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}

// doRequestRaw performs a request with a raw body (for media upload).
func (c *Client) doRequestRaw(ctx context.Context, method, path string, accessToken *secret.Buffer, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return nil, &matrixErr
}

// isUnauthorizedUIAA checks if an error is a 401 from the UIAA flow.
// This is the expected response when registration requires
// authentication stages.
func isUnauthorizedUIAA(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}

// isServerRejection reports whether err is an HTTP-level rejection
// from the homeserver (as opposed to a transport failure). During
// registration discovery a rejection is tolerated — the server simply
// doesn't offer a flow session that way.
func isServerRejection(err error) bool {
	var matrixErr *MatrixError
	return errors.As(err, &matrixErr)
}

// extractFlowSession pulls the UIAA session ID out of a register
// response body. Returns "" when the body has none.
func extractFlowSession(body []byte) string {
	var flowResponse struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(body, &flowResponse); err != nil {
		return ""
	}
	return flowResponse.Session
}

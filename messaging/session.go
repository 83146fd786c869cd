// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rowdee3/whysper/lib/secret"
)

// Session is an authenticated Matrix session. It wraps a Client with
// an access token for authenticated API calls. All methods are
// synchronous and safe to call from any goroutine; the Session itself
// is read-only after creation.
//
// The access token is stored in a secret.Buffer (mmap-backed, locked
// against swap, excluded from core dumps). The caller must call Close
// when the Session is no longer needed.
type Session struct {
	client      *Client
	accessToken *secret.Buffer
	userID      string
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID
// (e.g., "@alice:example.org").
func (s *Session) UserID() string {
	return s.userID
}

// DeviceID returns the device ID for this session. Empty when the
// session was created from a bare token.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// AccessToken returns the access token as a heap string. This creates
// a brief copy from the mmap-backed buffer — use only at boundaries
// that require a string. Prefer passing the Session itself.
func (s *Session) AccessToken() string {
	return s.accessToken.String()
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a sync error to force
// the next request to establish a fresh TCP connection.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory (zeros, unlocks, unmaps).
// Idempotent — safe to call multiple times.
func (s *Session) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// WhoAmI validates the access token and returns the user ID. Useful
// for checking whether a stored token is still valid.
func (s *Session) WhoAmI(ctx context.Context) (string, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// JoinRoom joins a room by ID or alias. The server resolves aliases;
// the client applies no validation beyond presence. Joining an
// already-joined room succeeds. Returns the server-assigned room ID.
func (s *Session) JoinRoom(ctx context.Context, roomRef string) (string, error) {
	if roomRef == "" {
		return "", fmt.Errorf("messaging: room reference is required")
	}
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomRef)
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: join room %q failed: %w", roomRef, err)
	}

	var response struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the user has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]string, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.accessToken, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// LeaveRoom leaves a room by ID.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/leave"
	_, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("messaging: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// ResolveAlias resolves a room alias (e.g., "#lobby:example.org") to
// a room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias string) (string, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias)
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: resolve alias %q failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// GetDisplayName fetches the display name for a user from their
// profile. Returns an empty string (not an error) if the user has no
// display name set.
func (s *Session) GetDisplayName(ctx context.Context, userID string) (string, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID) + "/displayname"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: get display name for %q failed: %w", userID, err)
	}

	var response DisplayNameResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse display name response: %w", err)
	}
	return response.DisplayName, nil
}

// SendText sends a plain text message to a room. Returns the event ID.
func (s *Session) SendText(ctx context.Context, roomID, body string) (string, error) {
	return s.SendMessage(ctx, roomID, NewTextMessage(body))
}

// SendMessage sends an m.room.message event to a room using Matrix's
// idempotent PUT with a per-call transaction ID: a retried send with
// the same transaction ID is deduplicated server-side. Returns the
// event ID.
func (s *Session) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	transactionID := newTransactionID()
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) +
		"/send/m.room.message/" + url.PathEscape(transactionID)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: send message to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// Messages fetches one page of room history, always paginating
// backward (newest first). With an empty From cursor the page holds
// the most recent events; chaining the returned NextCursor pages
// strictly further back. Exhausted history yields an empty page, not
// an error.
//
// Only m.room.message events are returned. Every returned event
// carries a timestamp: the server's origin_server_ts, or the capture
// time when the server omits one.
func (s *Session) Messages(ctx context.Context, roomID string, options MessagesOptions) (*MessagesPage, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/messages"

	query := url.Values{}
	query.Set("dir", "b")
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}
	if options.From != "" {
		query.Set("from", options.From)
	}
	query.Set("filter", historyFilter(options.MsgType))

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %q failed: %w", roomID, err)
	}

	var response roomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse messages response: %w", err)
	}

	receivedAt := time.Now()
	page := &MessagesPage{
		Events:     make([]MessageEvent, 0, len(response.Chunk)),
		NextCursor: response.End,
	}
	for _, event := range response.Chunk {
		if event.Type != "m.room.message" {
			continue
		}
		page.Events = append(page.Events, newMessageEvent(roomID, event, receivedAt))
	}
	return page, nil
}

// historyFilter builds the server-side event filter for history
// pagination. Filtering on the server keeps unwanted message kinds
// off the wire entirely.
func historyFilter(msgType string) string {
	filter := map[string]any{
		"types": []string{"m.room.message"},
	}
	if msgType != "" {
		filter["msgtypes"] = []string{msgType}
	}
	encoded, _ := json.Marshal(filter)
	return string(encoded)
}

// Sync performs one incremental sync with the homeserver. For an
// initial sync, leave options.Since empty. For long-polling, set
// options.Timeout to the server-side hold in milliseconds. The call
// is bounded only by ctx, never by the client's call timeout — the
// server holds the connection on purpose.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doLongRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// newTransactionID generates a unique transaction ID for idempotent
// event sending. Uniqueness per call is what makes server-side
// deduplication of retried sends safe.
func newTransactionID() string {
	return "whysper-" + uuid.NewString()
}

// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/rowdee3/whysper/lib/secret"
)

// RegisterRequest holds parameters for registering a new account.
// Password is stored in an mmap-backed buffer (locked against swap,
// excluded from core dumps). The caller retains ownership of the
// buffer — Register reads from it but does not close it.
type RegisterRequest struct {
	Username    string
	Password    *secret.Buffer
	DisplayName string
}

// AuthResponse is returned by the register and login endpoints.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               LoginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// LoginIdentifier names the account being logged in, in the
// m.id.user form.
type LoginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`

	// URL is the mxc content URI for media messages (m.image).
	URL string `json:"url,omitempty"`

	// Info carries media metadata for m.image messages.
	Info *MediaInfo `json:"info,omitempty"`
}

// MediaInfo describes an uploaded media object referenced by a
// message.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewImageMessage creates an m.image message referencing uploaded
// content. body is the fallback text (conventionally the filename).
func NewImageMessage(body string, uri ContentURI, mimeType string, size int64) MessageContent {
	return MessageContent{
		MsgType: "m.image",
		Body:    body,
		URL:     uri.String(),
		Info: &MediaInfo{
			MimeType: mimeType,
			Size:     size,
		},
	}
}

// Event is a raw Matrix event as it appears in sync and pagination
// responses. Room-message events are converted to [MessageEvent]
// before crossing the package boundary.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         string         `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// MessagesOptions controls backward pagination through room history.
type MessagesOptions struct {
	// Limit caps the number of events returned. Zero uses the server
	// default.
	Limit int

	// From is the history cursor returned by a previous call. Empty
	// means "the most recent events".
	From string

	// MsgType restricts results server-side to one message kind
	// (e.g., "m.text", "m.image"). Empty returns all room messages.
	MsgType string
}

// MessagesPage is one page of room history, newest first.
type MessagesPage struct {
	// Events are the room-message events in the page, in the server's
	// backward order (newest first). Empty when history is exhausted.
	Events []MessageEvent

	// NextCursor is the server's pagination token for events older
	// than the oldest event in this page. Pass it as
	// MessagesOptions.From to page further back. Independent of any
	// Listener's sync cursor.
	NextCursor string
}

// roomMessagesResponse is the wire shape of GET /rooms/{id}/messages.
type roomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Only joined rooms carry timeline events this package
// delivers.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by the send endpoints.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []string `json:"joined_rooms"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  string   `json:"room_id"`
	Servers []string `json:"servers"`
}

// UploadResponse is returned by the media upload endpoint.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// DisplayNameResponse is returned by the profile displayname endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "time"

// MessageKind classifies a room message for consumers.
type MessageKind string

const (
	// KindText is a plain text message (m.text).
	KindText MessageKind = "text"
	// KindImage is an image message (m.image) referencing uploaded
	// content.
	KindImage MessageKind = "image"
	// KindOther covers every other msgtype (notices, emotes, files).
	// Body still carries the fallback text.
	KindOther MessageKind = "other"
)

// MessageEvent is a room message as delivered to consumers, from both
// live sync and backward pagination. It is immutable once constructed
// and is the only type that crosses the Listener's concurrency
// boundary.
type MessageEvent struct {
	// ID is the server-assigned event ID. Unique; treat as opaque.
	// Consumers needing deduplication across live sync and history
	// pagination key on it.
	ID string

	// RoomID is the room the message was sent to.
	RoomID string

	// Sender is the Matrix user ID of the author.
	Sender string

	// Timestamp is milliseconds since the epoch: the server's
	// origin_server_ts, or the capture time when the server omitted
	// one. Never zero.
	Timestamp int64

	// Kind classifies the message; Body is its text (for images, the
	// fallback text, conventionally the filename).
	Kind MessageKind
	Body string

	// ContentURI, MimeType, and Size describe the referenced media
	// for KindImage events. ContentURI is the raw mxc string from the
	// event; parse it with ParseContentURI before downloading.
	ContentURI string
	MimeType   string
	Size       int64
}

// newMessageEvent converts a raw m.room.message event into the
// consumer-facing form. receivedAt supplies the timestamp fallback for
// events the server delivered without origin_server_ts.
func newMessageEvent(roomID string, event Event, receivedAt time.Time) MessageEvent {
	message := MessageEvent{
		ID:        event.EventID,
		RoomID:    roomID,
		Sender:    event.Sender,
		Timestamp: event.OriginServerTS,
		Kind:      KindOther,
	}
	if message.Timestamp == 0 {
		message.Timestamp = receivedAt.UnixMilli()
	}

	body, _ := event.Content["body"].(string)
	message.Body = body

	msgType, _ := event.Content["msgtype"].(string)
	switch msgType {
	case "m.text":
		message.Kind = KindText
	case "m.image":
		message.Kind = KindImage
		message.ContentURI, _ = event.Content["url"].(string)
		if info, ok := event.Content["info"].(map[string]any); ok {
			message.MimeType, _ = info["mimetype"].(string)
			if size, ok := info["size"].(float64); ok {
				message.Size = int64(size)
			}
		}
	}
	return message
}

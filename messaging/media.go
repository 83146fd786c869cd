// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ContentURI is a parsed mxc:// content locator: a server name and a
// media ID, nothing else. Construct one with ParseContentURI — the
// zero value is not valid.
type ContentURI struct {
	serverName string
	mediaID    string
}

// ParseContentURI validates and splits a raw mxc URI
// (e.g., "mxc://example.org/abc123"). The scheme must be mxc and the
// remainder must be exactly two non-empty path segments; anything
// else fails with an error wrapping ErrInvalidContentURI, before any
// network activity.
func ParseContentURI(raw string) (ContentURI, error) {
	rest, ok := strings.CutPrefix(raw, "mxc://")
	if !ok {
		return ContentURI{}, fmt.Errorf("%w: missing mxc scheme: %q", ErrInvalidContentURI, raw)
	}
	serverName, mediaID, ok := strings.Cut(rest, "/")
	if !ok {
		return ContentURI{}, fmt.Errorf("%w: missing media ID segment: %q", ErrInvalidContentURI, raw)
	}
	if serverName == "" || mediaID == "" {
		return ContentURI{}, fmt.Errorf("%w: empty segment: %q", ErrInvalidContentURI, raw)
	}
	if strings.Contains(mediaID, "/") {
		return ContentURI{}, fmt.Errorf("%w: expected exactly two segments: %q", ErrInvalidContentURI, raw)
	}
	return ContentURI{serverName: serverName, mediaID: mediaID}, nil
}

// String returns the mxc form (e.g., "mxc://example.org/abc123").
func (u ContentURI) String() string {
	return "mxc://" + u.serverName + "/" + u.mediaID
}

// ServerName returns the origin authority segment.
func (u ContentURI) ServerName() string { return u.serverName }

// MediaID returns the opaque media ID segment.
func (u ContentURI) MediaID() string { return u.mediaID }

// IsZero reports whether the ContentURI is the zero value.
func (u ContentURI) IsZero() bool { return u.serverName == "" && u.mediaID == "" }

// UploadMedia uploads content to the homeserver's media repository
// and returns its content URI. When contentType is empty it is
// sniffed from the filename extension, defaulting to
// application/octet-stream.
func (s *Session) UploadMedia(ctx context.Context, data []byte, filename, contentType string) (ContentURI, error) {
	if contentType == "" {
		contentType = sniffContentType(filename)
	}

	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}

	body, err := s.client.doRequestRaw(ctx, http.MethodPost, "/_matrix/media/v3/upload",
		s.accessToken, query, contentType, bytes.NewReader(data))
	if err != nil {
		return ContentURI{}, fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ContentURI{}, fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}

	uri, err := ParseContentURI(response.ContentURI)
	if err != nil {
		return ContentURI{}, fmt.Errorf("messaging: server returned unusable content URI %q: %w", response.ContentURI, err)
	}
	return uri, nil
}

// DownloadMedia fetches the content behind a ContentURI. The URI has
// already been validated by ParseContentURI, so a malformed locator
// can never reach the network layer.
func (s *Session) DownloadMedia(ctx context.Context, uri ContentURI) ([]byte, error) {
	if uri.IsZero() {
		return nil, fmt.Errorf("messaging: download: %w: zero value", ErrInvalidContentURI)
	}
	path := "/_matrix/media/v3/download/" +
		url.PathEscape(uri.ServerName()) + "/" + url.PathEscape(uri.MediaID())

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: download %s failed: %w", uri, err)
	}
	return body, nil
}

// SendImage uploads the image at filePath and sends it to the room as
// an m.image message. Returns the event ID of the sent message.
//
// The two server calls are not transactional: if the upload succeeds
// and the send fails, the uploaded content is orphaned on the
// homeserver. The error reports which step failed.
func (s *Session) SendImage(ctx context.Context, roomID, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("messaging: reading image %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	contentType := sniffContentType(filename)

	uri, err := s.UploadMedia(ctx, data, filename, contentType)
	if err != nil {
		return "", err
	}

	eventID, err := s.SendMessage(ctx, roomID, NewImageMessage(filename, uri, contentType, int64(len(data))))
	if err != nil {
		return "", fmt.Errorf("messaging: image uploaded as %s but send failed: %w", uri, err)
	}
	return eventID, nil
}

// sniffContentType resolves a MIME type from a filename extension,
// falling back to application/octet-stream.
func sniffContentType(filename string) string {
	if contentType := mime.TypeByExtension(filepath.Ext(filename)); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

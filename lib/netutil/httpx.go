// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response readers for the
// Matrix client transport.
//
// All response body reads are capped at MaxResponseSize so that a
// misbehaving homeserver cannot drive the client into unbounded
// allocation. The cap applies to JSON API responses and to media
// downloads, both of which are materialized fully in memory before
// being handed to the caller.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize caps response body reads at 256 MB. Sync and
// pagination responses are orders of magnitude smaller; the limit is
// generous enough to cover any media object a chat client should be
// asked to hold in memory.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for use in diagnostic
// messages. Read errors are ignored — a partial or empty body is
// still useful in an error string.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}

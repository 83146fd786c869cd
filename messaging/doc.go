// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a client for the Matrix client-server API: it
// authenticates sessions, joins rooms, sends and receives text and
// media messages, and maintains a live view of room activity through
// a long-polling sync loop.
//
// The package provides three core types. [Client] is an unauthenticated
// client holding the homeserver URL and HTTP transport; its Register
// and Login methods return authenticated [Session] values. Session
// wraps the Client with an access token for room directory, message,
// and media operations — all synchronous, safe to call from any
// goroutine. [Listener] is the sync engine: one cancellable poller
// goroutine per watched room, each owning its own sync cursor and
// delivering [MessageEvent] values to a caller-supplied sink.
//
// Two independent cursor spaces exist and are never conflated: the
// sync cursor (forward, live) is owned exclusively by a Listener's
// poller, while the history cursor (backward pagination) is returned
// from [Session.Messages] and passed back in by the caller. Backward
// pagination may re-surface events already seen live; callers needing
// global deduplication key on the event ID.
//
// All API errors from the homeserver are returned as [*MatrixError]
// with the standard Matrix error code (M_FORBIDDEN, M_NOT_FOUND, ...)
// and HTTP status. [IsMatrixError] tests for a specific code. Request
// URLs are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters
// (such as room aliases with slashes).
//
// Access tokens and passwords live in [secret.Buffer] values (mmap
// memory locked against swap and excluded from core dumps); callers
// must Close sessions to release the protected memory.
package messaging

// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MediaCache is a bounded download cache keyed by content URI, with
// LRU eviction. Matrix media is immutable — a media ID always refers
// to the same bytes — so cached entries never go stale and no TTL is
// needed; the entry cap alone bounds memory.
//
// The cache is optional: Session.DownloadMedia works without it, and
// callers with their own storage layer can ignore it entirely.
// Safe for concurrent use.
type MediaCache struct {
	session *Session
	entries *lru.Cache[string, []byte]
}

// NewMediaCache creates a cache over the session's media downloads,
// holding at most maxEntries objects.
func NewMediaCache(session *Session, maxEntries int) (*MediaCache, error) {
	entries, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("messaging: creating media cache: %w", err)
	}
	return &MediaCache{
		session: session,
		entries: entries,
	}, nil
}

// Get returns the content behind uri, downloading it on a cache miss.
// The returned slice is shared with the cache — callers must not
// modify it.
func (c *MediaCache) Get(ctx context.Context, uri ContentURI) ([]byte, error) {
	key := uri.String()
	if data, ok := c.entries.Get(key); ok {
		return data, nil
	}

	data, err := c.session.DownloadMedia(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, data)
	return data, nil
}

// Len returns the number of cached objects.
func (c *MediaCache) Len() int {
	return c.entries.Len()
}

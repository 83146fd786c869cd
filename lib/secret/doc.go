// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive byte strings — account passwords and
// Matrix access tokens — in memory that the Go runtime never manages.
//
// A Buffer is backed by an anonymous mmap region locked into physical
// RAM with mlock (so it cannot be swapped to disk) and marked with
// MADV_DONTDUMP (so it never appears in core dumps). Because the
// region lives outside the Go heap, the garbage collector cannot copy
// or relocate it, and Close can guarantee the bytes are zeroed before
// the memory is released.
//
// Buffers convert to ordinary strings only at API boundaries that
// demand one (JSON request bodies, Authorization headers). Those heap
// copies are short-lived; the mmap region remains the durable copy
// until Close.
package secret

// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestParseContentURI(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			raw        string
			serverName string
			mediaID    string
		}{
			{"mxc://serverA/abc123", "serverA", "abc123"},
			{"mxc://matrix.example.org/GCmhgzMPRjqgpODLsNQzVuHZ", "matrix.example.org", "GCmhgzMPRjqgpODLsNQzVuHZ"},
		}
		for _, test := range tests {
			uri, err := ParseContentURI(test.raw)
			if err != nil {
				t.Errorf("ParseContentURI(%q) failed: %v", test.raw, err)
				continue
			}
			if uri.ServerName() != test.serverName {
				t.Errorf("ParseContentURI(%q): server name %q, want %q", test.raw, uri.ServerName(), test.serverName)
			}
			if uri.MediaID() != test.mediaID {
				t.Errorf("ParseContentURI(%q): media ID %q, want %q", test.raw, uri.MediaID(), test.mediaID)
			}
			if uri.String() != test.raw {
				t.Errorf("ParseContentURI(%q): round-trip gave %q", test.raw, uri.String())
			}
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []string{
			"",
			"mxc://",
			"mxc://serverA",
			"mxc://serverA/",
			"mxc:///abc123",
			"mxc://serverA/abc/extra",
			"https://serverA/abc123",
			"serverA/abc123",
		}
		for _, raw := range tests {
			uri, err := ParseContentURI(raw)
			if err == nil {
				t.Errorf("ParseContentURI(%q) succeeded: %+v", raw, uri)
				continue
			}
			if !errors.Is(err, ErrInvalidContentURI) {
				t.Errorf("ParseContentURI(%q): error does not wrap ErrInvalidContentURI: %v", raw, err)
			}
			if !uri.IsZero() {
				t.Errorf("ParseContentURI(%q): non-zero URI on error: %+v", raw, uri)
			}
		}
	})
}

func TestUploadMedia(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", request.Method)
		}
		if request.URL.Path != "/_matrix/media/v3/upload" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if got := request.URL.Query().Get("filename"); got != "photo.png" {
			t.Errorf("unexpected filename: %q", got)
		}
		if got := request.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("unexpected content type: %q", got)
		}
		body, err := io.ReadAll(request.Body)
		if err != nil {
			t.Fatalf("reading upload body: %v", err)
		}
		if string(body) != "fake png bytes" {
			t.Errorf("unexpected upload body: %q", body)
		}
		writeJSON(writer, UploadResponse{ContentURI: "mxc://local/media1"})
	}))

	// Empty content type exercises the extension sniff.
	uri, err := session.UploadMedia(context.Background(), []byte("fake png bytes"), "photo.png", "")
	if err != nil {
		t.Fatalf("UploadMedia failed: %v", err)
	}
	if uri.String() != "mxc://local/media1" {
		t.Errorf("unexpected content URI: %s", uri)
	}
}

func TestUploadMediaBadServerURI(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, UploadResponse{ContentURI: "not-an-mxc-uri"})
	}))

	_, err := session.UploadMedia(context.Background(), []byte("data"), "file.bin", "application/octet-stream")
	if !errors.Is(err, ErrInvalidContentURI) {
		t.Errorf("expected ErrInvalidContentURI, got: %v", err)
	}
}

func TestDownloadMedia(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assertAuth(t, request, "test-token")
			if request.URL.Path != "/_matrix/media/v3/download/local/media1" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			writer.Write([]byte("media bytes"))
		}))

		uri, err := ParseContentURI("mxc://local/media1")
		if err != nil {
			t.Fatalf("ParseContentURI failed: %v", err)
		}
		data, err := session.DownloadMedia(context.Background(), uri)
		if err != nil {
			t.Fatalf("DownloadMedia failed: %v", err)
		}
		if string(data) != "media bytes" {
			t.Errorf("unexpected data: %q", data)
		}
	})

	t.Run("zero URI never reaches the network", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("request reached the server for a zero content URI")
		}))

		_, err := session.DownloadMedia(context.Background(), ContentURI{})
		if !errors.Is(err, ErrInvalidContentURI) {
			t.Errorf("expected ErrInvalidContentURI, got: %v", err)
		}
	})
}

func TestSendImage(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(imagePath, []byte("png payload"), 0o600); err != nil {
		t.Fatalf("writing test image: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		var uploaded bool
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			switch {
			case request.URL.Path == "/_matrix/media/v3/upload":
				uploaded = true
				writeJSON(writer, UploadResponse{ContentURI: "mxc://local/img1"})
			case request.Method == http.MethodPut:
				if !uploaded {
					t.Error("message sent before upload completed")
				}
				var content MessageContent
				if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
					t.Fatalf("decoding message content: %v", err)
				}
				if content.MsgType != "m.image" {
					t.Errorf("unexpected msgtype: %s", content.MsgType)
				}
				if content.Body != "cat.png" {
					t.Errorf("unexpected body: %s", content.Body)
				}
				if content.URL != "mxc://local/img1" {
					t.Errorf("unexpected content URL: %s", content.URL)
				}
				if content.Info == nil || content.Info.MimeType != "image/png" || content.Info.Size != int64(len("png payload")) {
					t.Errorf("unexpected media info: %+v", content.Info)
				}
				writeJSON(writer, SendEventResponse{EventID: "$img1"})
			default:
				t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
			}
		}))

		eventID, err := session.SendImage(context.Background(), "!room1:local", imagePath)
		if err != nil {
			t.Fatalf("SendImage failed: %v", err)
		}
		if eventID != "$img1" {
			t.Errorf("unexpected event ID: %s", eventID)
		}
	})

	t.Run("send failure after upload", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path == "/_matrix/media/v3/upload" {
				writeJSON(writer, UploadResponse{ContentURI: "mxc://local/img2"})
				return
			}
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeForbidden, Message: "not in room"})
		}))

		_, err := session.SendImage(context.Background(), "!room1:local", imagePath)
		if err == nil {
			t.Fatal("expected error when send fails after upload")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN, got: %v", err)
		}
	})

	t.Run("missing file fails without network", func(t *testing.T) {
		_, session := newTestSession(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("request reached the server for a missing file")
		}))

		if _, err := session.SendImage(context.Background(), "!room1:local", filepath.Join(t.TempDir(), "absent.png")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}

func TestSniffContentType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"cat.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"noextension", "application/octet-stream"},
		{"archive.unknownext", "application/octet-stream"},
	}
	for _, test := range tests {
		if got := sniffContentType(test.filename); got != test.want {
			t.Errorf("sniffContentType(%q) = %q, want %q", test.filename, got, test.want)
		}
	}
}

func TestMediaCache(t *testing.T) {
	var downloads int
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		downloads++
		writer.Write([]byte("cached bytes"))
	}))

	cache, err := NewMediaCache(session, 4)
	if err != nil {
		t.Fatalf("NewMediaCache failed: %v", err)
	}

	uri, err := ParseContentURI("mxc://local/media1")
	if err != nil {
		t.Fatalf("ParseContentURI failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		data, err := cache.Get(context.Background(), uri)
		if err != nil {
			t.Fatalf("Get failed on iteration %d: %v", i, err)
		}
		if string(data) != "cached bytes" {
			t.Errorf("unexpected data: %q", data)
		}
	}
	if downloads != 1 {
		t.Errorf("expected exactly 1 download, got %d", downloads)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 cached entry, got %d", cache.Len())
	}
}

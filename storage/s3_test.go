package storage

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewStorageServiceRequiresBucket(t *testing.T) {
	if _, err := NewStorageService("eu-west-1", "", "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var s *StorageService
	if err := s.UploadBytes("k", nil, "text/plain"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil service upload: %v", err)
	}
}

func TestObjectKeyAndPresign(t *testing.T) {
	s, err := NewStorageService("eu-west-1", "AKIDEXAMPLE", "secret", "tourdesk-test")
	if err != nil {
		t.Fatalf("NewStorageService: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 6, 9, 12, 0, 0, 0, time.UTC) }

	key := s.ObjectKey("/manifests/", "../manifest_2026-06-10.xlsx")
	if !strings.HasPrefix(key, "manifests/2026/06/09/") || !strings.HasSuffix(key, "-manifest_2026-06-10.xlsx") {
		t.Fatalf("key = %s", key)
	}

	url, err := s.PresignGet(key, 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(url, "tourdesk-test") || !strings.Contains(url, "X-Amz-Signature=") {
		t.Fatalf("unexpected presigned url %s", url)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"m.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"a.ZIP":  "application/zip",
		"x":      "application/octet-stream",
		"r.json": "application/json",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

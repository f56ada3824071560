package objectstore

import (
	"context"
	"testing"
)

func TestScreenshotKey(t *testing.T) {
	got := ScreenshotKey("run-1", "p1", 1700000000000)
	want := "run-1/p1_1700000000000.jpg"
	if got != want {
		t.Errorf("ScreenshotKey() = %q, want %q", got, want)
	}
}

func TestMemUploader_UploadAndGet(t *testing.T) {
	u := NewMemUploader()
	key := ScreenshotKey("run-1", "p1", 1700000000000)

	url, err := u.Upload(context.Background(), key, []byte("jpeg-bytes"), ScreenshotContentType)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url == "" {
		t.Error("expected a non-empty URL")
	}

	got, ok := u.Get(key)
	if !ok {
		t.Fatalf("Get(%q) not found", key)
	}
	if string(got) != "jpeg-bytes" {
		t.Errorf("Get(%q) = %q, want %q", key, got, "jpeg-bytes")
	}
}

package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// MemUploader is an in-memory Uploader, the same role
// tomasbasham-har-capture/internal/storage/disk.go's LocalUploader plays:
// an alternative backend for tests that never touches a real bucket.
type MemUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemUploader creates an empty MemUploader.
func NewMemUploader() *MemUploader {
	return &MemUploader{objects: make(map[string][]byte)}
}

func (u *MemUploader) Upload(_ context.Context, key string, content []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = append([]byte(nil), content...)
	return fmt.Sprintf("mem://%s", key), nil
}

// Get returns the bytes stored under key, and whether anything was stored.
func (u *MemUploader) Get(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.objects[key]
	return b, ok
}

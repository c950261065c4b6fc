package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// MemoryStore is an in-process Store used in tests and local development,
// grounded on the teacher's in-memory database stand-ins
// (internal/persistence/databases/memory_vector.go,
// memory_graph.go) which keep a mutex-guarded map in place of a real
// backend while exposing the same interface as the networked implementation.
type MemoryStore struct {
	mu            sync.Mutex
	versions      map[string][]Attrs // key -> versions oldest..newest
	data          map[string][]byte  // key+"#"+versionID -> bytes
	misconfigured bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]Attrs),
		data:     make(map[string][]byte),
	}
}

// SetMisconfigured forces CheckConfiguration to fail, for exercising startup
// failure handling in tests.
func (m *MemoryStore) SetMisconfigured(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misconfigured = v
}

func (m *MemoryStore) CheckConfiguration(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.misconfigured {
		return Misconfigured("bucket versioning is not enabled")
	}
	return nil
}

func versionKey(key, versionID string) string { return key + "#" + versionID }

func nextVersionID(key string, data []byte, seq int) string {
	h := sha256.Sum256(append([]byte(key), data...))
	return hex.EncodeToString(h[:8]) + "-" + strconv.Itoa(seq)
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (Attrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := len(m.versions[key])
	vid := nextVersionID(key, data, seq)
	attrs := Attrs{
		Key:          key,
		VersionID:    vid,
		Size:         int64(len(data)),
		LastModified: time.Now(),
		ContentType:  contentType,
	}
	m.versions[key] = append(m.versions[key], attrs)
	buf := make([]byte, len(data))
	copy(buf, data)
	m.data[versionKey(key, vid)] = buf
	return attrs, nil
}

func (m *MemoryStore) Get(ctx context.Context, key, versionID string) ([]byte, Attrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.versions[key]
	if !ok || len(versions) == 0 {
		return nil, Attrs{}, apperr.Newf(apperr.NotFound, "blob %q not found", key)
	}

	var attrs Attrs
	if versionID == "" {
		attrs = versions[len(versions)-1]
	} else {
		found := false
		for _, v := range versions {
			if v.VersionID == versionID {
				attrs = v
				found = true
				break
			}
		}
		if !found {
			return nil, Attrs{}, apperr.Newf(apperr.NotFound, "blob %q version %q not found", key, versionID)
		}
	}
	if attrs.Deleted {
		return nil, Attrs{}, apperr.Newf(apperr.NotFound, "blob %q is deleted", key)
	}

	data, ok := m.data[versionKey(key, attrs.VersionID)]
	if !ok {
		return nil, Attrs{}, apperr.Newf(apperr.NotFound, "blob %q not found", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, attrs, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.versions[key]
	if !ok {
		// Deleting a key with no prior versions still creates a tombstone,
		// matching S3's DeleteObject semantics under versioning.
		versions = nil
	}
	seq := len(versions)
	tombstone := Attrs{
		Key:          key,
		VersionID:    nextVersionID(key, []byte("__delete__"), seq),
		LastModified: time.Now(),
		Deleted:      true,
	}
	m.versions[key] = append(versions, tombstone)
	return nil
}

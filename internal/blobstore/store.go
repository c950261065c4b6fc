// Package blobstore implements the Blob Store Adapter: content-addressed
// storage of (already encrypted) document bytes with mandatory object
// versioning, so a delete never destroys data outright — it leaves a
// version-aware tombstone a later restore can see past. Grounded on the
// teacher's internal/objectstore package (the ObjectStore interface shape,
// S3Store's use of aws-sdk-go-v2, and its sentinel-error style) generalized
// to the spec's versioned-blob contract, which the teacher's object store
// does not itself need since it stores project files, not immutable
// document payloads.
package blobstore

import (
	"context"
	"time"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// Attrs describes a stored blob version.
type Attrs struct {
	Key          string
	VersionID    string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Deleted      bool // true if VersionID names a delete marker
}

// Store is the Blob Store Adapter contract. Every implementation must
// support versioning: Put never overwrites a prior version in place, and
// Delete creates a new, retrievable tombstone version rather than removing
// history.
type Store interface {
	// Put stores data under key, returning the version id of the write.
	Put(ctx context.Context, key string, data []byte, contentType string) (Attrs, error)

	// Get retrieves the named version of key, or the latest non-deleted
	// version if versionID is empty. Returns apperr.NotFound if the key (or
	// that version of it) doesn't exist, or if the latest version is a
	// delete marker.
	Get(ctx context.Context, key, versionID string) ([]byte, Attrs, error)

	// Delete writes a delete marker for key. It does not erase prior
	// versions; Get with an explicit versionID can still retrieve them.
	Delete(ctx context.Context, key string) error

	// CheckConfiguration verifies the backing bucket has versioning and
	// server-side encryption enabled. The service calls this once at
	// startup and treats a non-nil error as fatal, since storing
	// plaintext-adjacent ciphertext into a bucket that can silently lose
	// history or skip encryption-at-rest defeats the point of the adapter.
	CheckConfiguration(ctx context.Context) error
}

// Misconfigured reports that the backing bucket does not satisfy the
// adapter's versioning/SSE requirements.
func Misconfigured(msg string) error {
	return apperr.New(apperr.Storage, "blob store misconfigured: "+msg)
}

// Package storage moves closed database files between the local disk and an
// object store.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors of storage backends.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	ETag     string // hex MD5 for single-part uploads
	Modified time.Time
}

// Backend stores files under keys. Implementations exist for the local
// filesystem and S3.
type Backend interface {
	// Put uploads the file at localPath and returns the ETag of the object.
	Put(ctx context.Context, localPath, key string) (string, error)

	// Get downloads key to localPath, replacing any existing file.
	Get(ctx context.Context, key, localPath string) error

	// Stat returns ErrObjectNotFound if key does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

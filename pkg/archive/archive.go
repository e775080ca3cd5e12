// Package archive publishes closed tradb, trfdb and pridb files to an object store
// and fetches them into a local cache for reading.
//
// Files are addressed by key, e.g. "2024/run1.tradb". The extension of the
// key selects the file kind. Fetched files are reused while their size and
// ETag match the stored object.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/internal/storage"
	"github.com/aewave/aewave/pkg/config"
	"github.com/aewave/aewave/pkg/pridb"
	"github.com/aewave/aewave/pkg/tradb"
	"github.com/aewave/aewave/pkg/trfdb"
	"github.com/aewave/aewave/pkg/types"
)

// Archive is safe for concurrent use.
type Archive struct {
	backend     storage.Backend
	cacheDir    string
	concurrency int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an archive on backend that caches fetched files in cacheDir.
func New(backend storage.Backend, cacheDir string, concurrency int) (*Archive, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("archive: cache directory is required")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: failed to create cache directory: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Archive{
		backend:     backend,
		cacheDir:    cacheDir,
		concurrency: concurrency,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// Open creates the backend named by cfg.
func Open(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var backend storage.Backend
	switch cfg.Backend {
	case "local":
		local, err := storage.NewLocalBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = local
	case "s3":
		s3, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		return nil, fmt.Errorf("archive: no backend configured")
	}
	return New(backend, cfg.CacheDir, cfg.Concurrency)
}

// kind returns the file extension of key if it names a supported file.
func kind(key string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	switch ext {
	case tradb.Extension, trfdb.Extension, pridb.Extension:
		return ext, nil
	}
	return "", aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "archive keys must end in .tradb, .trfdb or .pridb").
		WithDetails(map[string]interface{}{"key": key, "extension": ext})
}

func validKey(key string) error {
	clean := path.Clean(key)
	if key == "" || clean != key || strings.HasPrefix(clean, "../") || clean == ".." || path.IsAbs(clean) {
		return fmt.Errorf("archive: invalid key %q", key)
	}
	return nil
}

// Publish uploads the file at localPath under key. An empty key uses the
// file name. The file must open read-only as the kind its key names, so a
// file still held by a writer is rejected.
func (a *Archive) Publish(ctx context.Context, localPath, key string) (storage.ObjectInfo, error) {
	if key == "" {
		key = filepath.Base(localPath)
	}
	if err := validKey(key); err != nil {
		return storage.ObjectInfo{}, err
	}
	ext, err := kind(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := verify(localPath, ext); err != nil {
		return storage.ObjectInfo{}, err
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	etag, err := a.backend.Put(ctx, localPath, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	log.Printf("archive: published %s as %s (%d bytes)", localPath, key, fi.Size())
	return storage.ObjectInfo{Key: key, Size: fi.Size(), ETag: etag, Modified: fi.ModTime()}, nil
}

func verify(localPath, ext string) error {
	switch ext {
	case tradb.Extension:
		s, err := tradb.Open(localPath, types.ModeReadOnly, tradb.WithoutExtensionCheck())
		if err != nil {
			return err
		}
		return s.Close()
	case pridb.Extension:
		s, err := pridb.Open(localPath, types.ModeReadOnly, pridb.WithoutExtensionCheck())
		if err != nil {
			return err
		}
		return s.Close()
	default:
		s, err := trfdb.Open(localPath, types.ModeReadOnly, trfdb.WithoutExtensionCheck())
		if err != nil {
			return err
		}
		return s.Close()
	}
}

func (a *Archive) lock(key string) func() {
	a.mu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	a.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (a *Archive) cachePath(key string) string {
	return filepath.Join(a.cacheDir, filepath.FromSlash(key))
}

// Fetch makes key available in the cache and returns the local path.
// It returns storage.ErrObjectNotFound for unknown keys.
func (a *Archive) Fetch(ctx context.Context, key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if _, err := kind(key); err != nil {
		return "", err
	}
	unlock := a.lock(key)
	defer unlock()

	info, err := a.backend.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	local := a.cachePath(key)
	if fresh(local, info) {
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("archive: failed to create cache directory: %w", err)
	}
	tmp := local + ".part"
	if err := a.backend.Get(ctx, key, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: failed to move %s into cache: %w", key, err)
	}
	log.Printf("archive: fetched %s (%d bytes)", key, info.Size)
	return local, nil
}

// fresh reports whether the cached file matches the stored object.
// Multipart ETags are not content hashes and only the size is compared.
func fresh(local string, info storage.ObjectInfo) bool {
	fi, err := os.Stat(local)
	if err != nil || fi.Size() != info.Size {
		return false
	}
	if info.ETag == "" || strings.Contains(info.ETag, "-") {
		return true
	}
	etag, err := storage.FileETag(local)
	return err == nil && etag == info.ETag
}

// FetchAll fetches keys in parallel and returns their local paths. Keys that
// failed are missing from the result and their errors are joined.
func (a *Archive) FetchAll(ctx context.Context, keys []string) (map[string]string, error) {
	sem := semaphore.NewWeighted(int64(a.concurrency))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	paths := make(map[string]string, len(keys))
	seen := make(map[string]bool, len(keys))

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer sem.Release(1)
			local, err := a.Fetch(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			paths[key] = local
		}(key)
	}
	wg.Wait()
	return paths, errors.Join(errs...)
}

// List returns the tradb, trfdb and pridb objects below prefix.
func (a *Archive) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects, err := a.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := objects[:0]
	for _, obj := range objects {
		if _, err := kind(obj.Key); err == nil {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Remove deletes key from the store and the cache.
func (a *Archive) Remove(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	unlock := a.lock(key)
	defer unlock()

	if err := a.backend.Delete(ctx, key); err != nil {
		return err
	}
	if err := os.Remove(a.cachePath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// OpenTradb fetches key and opens it read-only.
func (a *Archive) OpenTradb(ctx context.Context, key string, opts ...tradb.Option) (tradb.Reader, error) {
	if ext, err := kind(key); err != nil || ext != tradb.Extension {
		return nil, aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "key does not name a tradb file").
			WithDetails(map[string]interface{}{"key": key})
	}
	local, err := a.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return tradb.OpenReader(local, opts...)
}

// OpenTrfdb fetches key and opens it read-only.
func (a *Archive) OpenTrfdb(ctx context.Context, key string) (*trfdb.Store, error) {
	if ext, err := kind(key); err != nil || ext != trfdb.Extension {
		return nil, aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "key does not name a trfdb file").
			WithDetails(map[string]interface{}{"key": key})
	}
	local, err := a.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return trfdb.Open(local, types.ModeReadOnly)
}

// OpenPridb fetches key and opens it read-only.
func (a *Archive) OpenPridb(ctx context.Context, key string) (*pridb.Store, error) {
	if ext, err := kind(key); err != nil || ext != pridb.Extension {
		return nil, aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "key does not name a pridb file").
			WithDetails(map[string]interface{}{"key": key})
	}
	local, err := a.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return pridb.Open(local, types.ModeReadOnly)
}

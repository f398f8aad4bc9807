package blobstore

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/huevec/resource"
)

// CacheOptions configures a CachingStore.
type CacheOptions struct {
	// MaxBlobBytes is the largest blob the cache will hold. Bigger
	// blobs pass through uncached. Defaults to a quarter of the
	// capacity.
	MaxBlobBytes int64

	// Controller, when set, accounts cached bytes against the global
	// memory budget. Blobs that do not fit the budget are served
	// uncached instead of blocking.
	Controller *resource.Controller
}

// CachingStore wraps a BlobStore and keeps recently read blobs in
// memory. Snapshots and manifests are read repeatedly during fetch and
// list operations; caching them whole avoids re-downloading from
// remote backends.
//
// Blobs are treated as immutable between writes: Put, Create and
// Delete invalidate the cached copy. Readers holding a blob opened
// before the invalidation keep their consistent view.
type CachingStore struct {
	inner BlobStore
	rc    *resource.Controller

	capacity int64
	maxBlob  int64

	mu      sync.Mutex
	used    int64
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore wraps inner with an in-memory cache of capacityBytes.
func NewCachingStore(inner BlobStore, capacityBytes int64, optFns ...func(o *CacheOptions)) *CachingStore {
	opts := CacheOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBlobBytes <= 0 {
		opts.MaxBlobBytes = capacityBytes / 4
	}

	return &CachingStore{
		inner:    inner,
		rc:       opts.Controller,
		capacity: capacityBytes,
		maxBlob:  opts.MaxBlobBytes,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Open implements BlobStore. Cache hits are served from memory; misses
// small enough to cache are read through.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.lookup(name); ok {
		s.hits.Add(1)
		return &memoryBlob{data: data}, nil
	}
	s.misses.Add(1)

	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	size := b.Size()
	if size > s.maxBlob || size > s.capacity {
		return b, nil
	}
	if s.rc != nil && !s.rc.TryAcquireMemory(size) {
		return b, nil
	}

	data := make([]byte, size)
	if _, err := readFull(b, data); err != nil {
		if s.rc != nil {
			s.rc.ReleaseMemory(size)
		}
		_ = b.Close()
		return nil, err
	}
	_ = b.Close()

	s.insert(name, data)
	return &memoryBlob{data: data}, nil
}

// Create implements BlobStore. The cached copy is dropped when the new
// content becomes visible.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingWritableBlob{inner: w, store: s, name: name}, nil
}

// Put implements BlobStore.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete implements BlobStore.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List implements BlobStore.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the hit and miss counts since construction.
func (s *CachingStore) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}

func (s *CachingStore) lookup(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

func (s *CachingStore) insert(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[name]; ok {
		s.removeLocked(el)
	}

	el := s.lru.PushFront(&cacheEntry{name: name, data: data})
	s.entries[name] = el
	s.used += int64(len(data))

	for s.used > s.capacity {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeLocked(back)
	}
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[name]; ok {
		s.removeLocked(el)
	}
}

func (s *CachingStore) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	s.lru.Remove(el)
	delete(s.entries, entry.name)
	s.used -= int64(len(entry.data))
	if s.rc != nil {
		s.rc.ReleaseMemory(int64(len(entry.data)))
	}
}

func readFull(b Blob, p []byte) (int, error) {
	var n int
	for n < len(p) {
		m, err := b.ReadAt(p[n:], int64(n))
		n += m
		if err != nil {
			if n == len(p) {
				return n, nil
			}
			return n, err
		}
	}
	return n, nil
}

// invalidatingWritableBlob drops the cached copy once new content has
// been committed.
type invalidatingWritableBlob struct {
	inner WritableBlob
	store *CachingStore
	name  string
}

func (w *invalidatingWritableBlob) Write(p []byte) (int, error) {
	return w.inner.Write(p)
}

func (w *invalidatingWritableBlob) Close() error {
	err := w.inner.Close()
	w.store.invalidate(w.name)
	return err
}

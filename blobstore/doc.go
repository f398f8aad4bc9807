// Package blobstore provides storage abstraction for shared huevec
// artifacts: store snapshots, color tables and projection files.
//
// BlobStore is the interface for reading and writing named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap reads
//   - MemoryStore: in-process, for tests and ephemeral pipelines
//   - s3.Store: Amazon S3 (or any S3-compatible endpoint)
//   - minio.Store: MinIO via the native client
//
// A CachingStore can wrap any backend to keep recently read blobs in
// memory.
//
// # Publishing
//
// Publish and Fetch move whole revision snapshots between a vector
// store and a shared blob store. A revision is published under
// vectors/<revision>/ together with a manifest and a commit marker;
// readers only trust revisions whose marker exists.
package blobstore

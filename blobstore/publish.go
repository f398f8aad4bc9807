package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/huevec/codec"
	"github.com/hupe1980/huevec/persistence"
	"github.com/hupe1980/huevec/resource"
	"github.com/hupe1980/huevec/vectorstore"
)

// Published revisions live under a fixed layout:
//
//	vectors/<revision>/colorvectors.hvs
//	vectors/<revision>/manifest.json
//	vectors/<revision>/COMMIT
//
// The COMMIT marker is written last. Fetch treats a revision without it
// as absent, so a crashed or concurrent publish never exposes a partial
// upload.
const (
	revisionPrefix   = "vectors/"
	snapshotBlobName = "colorvectors.hvs"
	manifestBlobName = "manifest.json"
	commitBlobName   = "COMMIT"
)

// RevisionPath returns the blob directory of a published revision.
func RevisionPath(revision string) string {
	return revisionPrefix + revision
}

func snapshotPath(revision string) string {
	return RevisionPath(revision) + "/" + snapshotBlobName
}

func manifestPath(revision string) string {
	return RevisionPath(revision) + "/" + manifestBlobName
}

func commitPath(revision string) string {
	return RevisionPath(revision) + "/" + commitBlobName
}

// Manifest describes a published revision. It is stored next to the
// snapshot as manifest.json and returned by Publish and Fetch.
type Manifest struct {
	Revision     string    `json:"revision"`
	CreatedAt    time.Time `json:"created_at"`
	Words        int       `json:"words"`
	Vectors      int       `json:"vectors"`
	SnapshotSize int64     `json:"snapshot_size"`
	Checksum     uint32    `json:"checksum"`
	Codec        string    `json:"codec"`
}

// RevisionRegistry coordinates publishers that share a blob store. A
// registry commit must be atomic: the first publisher of a revision
// wins and later attempts fail with ErrRevisionCommitted.
type RevisionRegistry interface {
	// Commit records revision as published at manifestPath.
	Commit(ctx context.Context, revision, manifestPath string) error

	// Lookup returns the manifest path of a committed revision, or
	// ErrNotFound.
	Lookup(ctx context.Context, revision string) (string, error)
}

// PublishOptions configures Publish.
type PublishOptions struct {
	// Codec encodes the snapshot sections. Defaults to codec.Default.
	Codec codec.Codec

	// Compression selects the snapshot section compression. Defaults
	// to zstd.
	Compression vectorstore.Compression

	// Registry, when set, arbitrates concurrent publishers before the
	// COMMIT marker is written.
	Registry RevisionRegistry

	// Controller limits transfer concurrency and upload bandwidth.
	Controller *resource.Controller

	// Force republishes a revision that already has a COMMIT marker.
	// It does not bypass the registry.
	Force bool
}

// FetchOptions configures Fetch.
type FetchOptions struct {
	// Codec overrides codec resolution. When nil, the codec named in
	// the snapshot header is used.
	Codec codec.Codec

	// MergeWords merges fetched word vectors into existing ones
	// instead of overwriting them.
	MergeWords bool

	// Controller limits transfer concurrency and download bandwidth.
	Controller *resource.Controller
}

// Publish exports revision from s and uploads it to bs. The snapshot
// and manifest upload concurrently; the COMMIT marker follows only
// after both succeed. Returns ErrRevisionCommitted when the revision
// is already published and Force is off.
func Publish(ctx context.Context, bs BlobStore, s vectorstore.Store, revision string, optFns ...func(o *PublishOptions)) (*Manifest, error) {
	if err := validateRevisionName(revision); err != nil {
		return nil, err
	}

	opts := PublishOptions{
		Codec:       codec.Default,
		Compression: vectorstore.CompressionZstd,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	if !opts.Force {
		committed, err := Exists(ctx, bs, commitPath(revision))
		if err != nil {
			return nil, err
		}
		if committed {
			return nil, fmt.Errorf("blobstore: revision %q: %w", revision, ErrRevisionCommitted)
		}
	}

	var buf bytes.Buffer
	err := vectorstore.Export(ctx, &buf, s, func(o *vectorstore.ExportOptions) {
		o.Codec = opts.Codec
		o.Compression = opts.Compression
		o.Revisions = []string{revision}
	})
	if err != nil {
		return nil, err
	}
	snapshot := buf.Bytes()

	manifest, err := buildManifest(ctx, s, revision, snapshot, opts.Codec.Name())
	if err != nil {
		return nil, err
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("blobstore: marshal manifest: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return upload(gctx, bs, snapshotPath(revision), snapshot, opts.Controller)
	})
	g.Go(func() error {
		return upload(gctx, bs, manifestPath(revision), manifestData, opts.Controller)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Registry != nil {
		if err := opts.Registry.Commit(ctx, revision, manifestPath(revision)); err != nil {
			return nil, err
		}
	}

	marker := manifest.CreatedAt.Format(time.RFC3339) + "\n"
	if err := bs.Put(ctx, commitPath(revision), []byte(marker)); err != nil {
		return nil, err
	}

	return manifest, nil
}

// Fetch downloads a published revision from bs and restores it into s.
// The snapshot checksum is verified against the manifest before any
// data reaches the store. Returns ErrNotFound when the revision has no
// COMMIT marker.
func Fetch(ctx context.Context, bs BlobStore, s vectorstore.Store, revision string, optFns ...func(o *FetchOptions)) (*Manifest, error) {
	if err := validateRevisionName(revision); err != nil {
		return nil, err
	}

	opts := FetchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	committed, err := Exists(ctx, bs, commitPath(revision))
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, fmt.Errorf("blobstore: revision %q not committed: %w", revision, ErrNotFound)
	}

	var (
		manifest Manifest
		snapshot []byte
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := download(gctx, bs, manifestPath(revision), opts.Controller)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("blobstore: unmarshal manifest: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		data, err := download(gctx, bs, snapshotPath(revision), opts.Controller)
		if err != nil {
			return err
		}
		snapshot = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if int64(len(snapshot)) != manifest.SnapshotSize {
		return nil, fmt.Errorf("blobstore: snapshot size mismatch: manifest %d, got %d", manifest.SnapshotSize, len(snapshot))
	}
	if actual := persistence.Checksum(snapshot); actual != manifest.Checksum {
		return nil, fmt.Errorf("blobstore: snapshot %q: %w", revision,
			&persistence.ChecksumMismatchError{Expected: manifest.Checksum, Actual: actual})
	}

	err = vectorstore.Import(ctx, bytes.NewReader(snapshot), s, func(o *vectorstore.ImportOptions) {
		o.Codec = opts.Codec
		o.MergeWords = opts.MergeWords
	})
	if err != nil {
		return nil, err
	}

	return &manifest, nil
}

// ListPublished returns the committed revisions in bs, sorted.
func ListPublished(ctx context.Context, bs BlobStore) ([]string, error) {
	names, err := bs.List(ctx, revisionPrefix)
	if err != nil {
		return nil, err
	}

	var revisions []string
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, revisionPrefix)
		if !ok {
			continue
		}
		revision, ok := strings.CutSuffix(rest, "/"+commitBlobName)
		if !ok || revision == "" || strings.Contains(revision, "/") {
			continue
		}
		revisions = append(revisions, revision)
	}

	return revisions, nil
}

// LoadManifest reads the manifest of a published revision without
// fetching the snapshot.
func LoadManifest(ctx context.Context, bs BlobStore, revision string) (*Manifest, error) {
	if err := validateRevisionName(revision); err != nil {
		return nil, err
	}

	data, err := ReadAll(ctx, bs, manifestPath(revision))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("blobstore: unmarshal manifest: %w", err)
	}

	return &manifest, nil
}

func buildManifest(ctx context.Context, s vectorstore.Store, revision string, snapshot []byte, codecName string) (*Manifest, error) {
	words, err := s.ListWords(ctx, revision)
	if err != nil {
		return nil, err
	}

	vectors := 0
	for _, word := range words {
		images, err := s.ListImages(ctx, word, revision)
		if err != nil {
			return nil, err
		}
		vectors += len(images)
	}

	return &Manifest{
		Revision:     revision,
		CreatedAt:    time.Now().UTC(),
		Words:        len(words),
		Vectors:      vectors,
		SnapshotSize: int64(len(snapshot)),
		Checksum:     persistence.Checksum(snapshot),
		Codec:        codecName,
	}, nil
}

func upload(ctx context.Context, bs BlobStore, name string, data []byte, rc *resource.Controller) error {
	if err := rc.AcquireTransfer(ctx); err != nil {
		return err
	}
	defer rc.ReleaseTransfer()

	w, err := bs.Create(ctx, name)
	if err != nil {
		return err
	}

	if _, err := resource.NewRateLimitedWriter(ctx, w, rc).Write(data); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

func download(ctx context.Context, bs BlobStore, name string, rc *resource.Controller) ([]byte, error) {
	if err := rc.AcquireTransfer(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseTransfer()

	b, err := bs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	data := make([]byte, b.Size())
	r := resource.NewRateLimitedReader(ctx, io.NewSectionReader(b, 0, b.Size()), rc)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return data, nil
}

func validateRevisionName(revision string) error {
	if revision == "" {
		return fmt.Errorf("blobstore: empty revision")
	}
	if strings.ContainsAny(revision, "/\x00") {
		return fmt.Errorf("blobstore: invalid revision %q", revision)
	}
	return nil
}

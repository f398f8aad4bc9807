// Package huevec computes and aggregates perceptual color vectors from
// images associated with words.
//
// The pipeline converts raw RGB images into a perceptually uniform
// color space (JzAzBz) through a precomputed lookup table, digests each
// image into per-channel histograms over an optional spatial pyramid,
// assembles fixed-length feature vectors, and folds them into per-word
// running statistics. Everything is keyed under a named revision inside
// a pluggable vector store, and revisions can be exported, imported and
// shared through blob storage.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	table := colorspace.BuildTable()
//	p, err := huevec.New(
//	    huevec.WithTable(table),
//	    huevec.WithRevision("campaign-2024"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer p.Close()
//
//	vec, err := p.Process(ctx, huevec.Image{
//	    ID:   "img-001",
//	    Word: "sunset",
//	    Raw:  raw,
//	})
//
// Batch processing over the worker pool:
//
//	results := p.ProcessBatch(ctx, images)
//	for _, r := range results {
//	    if r.Err != nil {
//	        log.Printf("image %s: %v", r.ID, r.Err)
//	    }
//	}
//
// Query the aggregates:
//
//	wv, err := p.WordVector(ctx, "sunset")
//	neighbors, err := p.Nearest(ctx, "sunset", 5)
//
// Share a revision:
//
//	err = p.ExportFile(ctx, "colorvectors.hvs")
//	manifest, err := p.Publish(ctx, blobStore)
package huevec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/blobstore"
	"github.com/hupe1980/huevec/codec"
	"github.com/hupe1980/huevec/colorgram"
	"github.com/hupe1980/huevec/colorspace"
	"github.com/hupe1980/huevec/distance"
	"github.com/hupe1980/huevec/feature"
	"github.com/hupe1980/huevec/resource"
	"github.com/hupe1980/huevec/vectorstore"
	"github.com/hupe1980/huevec/vocab"
)

// Image is one unit of pipeline input: raw pixels tagged with the word
// they illustrate and a stable image identifier.
type Image struct {
	ID   string
	Word string
	Raw  colorspace.RawImage
}

// Result is the outcome of processing one image in a batch. Word holds
// the normalized aggregation key; on failure it is empty and Err
// carries the cause.
type Result struct {
	ID     string
	Word   string
	Vector feature.Vector
	Err    error
}

// Neighbor pairs a word with its distance from a query word's
// aggregate mean.
type Neighbor struct {
	Word     string
	Distance float64
}

// NearestOptions configures Nearest queries.
type NearestOptions struct {
	// Metric selects the distance function over aggregate means.
	// Default: squared Euclidean.
	Metric distance.Metric
}

// Pipeline is the color-vector extraction and aggregation pipeline.
//
// Process, ProcessBatch and Close are safe for concurrent use; Close
// drains in-flight work before releasing anything. Import and Fetch
// must not run concurrently with processing: they replace the running
// statistics wholesale.
type Pipeline struct {
	table       *colorspace.Table
	ownsTable   bool
	converter   *colorspace.Converter
	generator   *colorgram.Generator
	extractor   *feature.Extractor
	normalizer  *vocab.Normalizer
	aggregator  *aggregate.Aggregator
	store       vectorstore.Store
	ownsStore   bool
	revision    string
	rc          *resource.Controller
	pool        *workerPool
	codec       codec.Codec
	compression vectorstore.Compression
	metrics     MetricsCollector
	logger      *Logger
	flushMu     sync.Mutex
	closed      atomic.Bool
}

// New creates a Pipeline. A color table is required, either loaded by
// the caller (WithTable) or opened from a path (WithTablePath); without
// one New fails with *ErrMissingColorTable.
//
// When the pipeline's store already holds word vectors for the
// configured revision, they seed the running statistics, so a resumed
// run keeps extending the same aggregates.
func New(optFns ...Option) (*Pipeline, error) {
	opts := applyOptions(optFns)

	table := opts.table
	ownsTable := false
	if table == nil {
		if opts.tablePath == "" {
			return nil, &ErrMissingColorTable{cause: errors.New("no color table configured")}
		}
		t, err := colorspace.OpenTable(opts.tablePath)
		if err != nil {
			return nil, translateError(err)
		}
		table = t
		ownsTable = true
	}

	projection := opts.transform
	if projection == nil && opts.transformPath != "" {
		proj, err := feature.OpenProjection(opts.transformPath)
		if err != nil {
			if ownsTable {
				_ = table.Close()
			}
			return nil, translateError(err)
		}
		projection = proj
	}

	normalizer := opts.normalizer
	if normalizer == nil {
		normalizer = vocab.NewNormalizer(func(o *vocab.Options) {
			o.Stemming = opts.stemming
		})
	}

	store := opts.store
	ownsStore := false
	if store == nil {
		store = vectorstore.NewMemoryStore()
		ownsStore = true
	}

	p := &Pipeline{
		table:     table,
		ownsTable: ownsTable,
		converter: colorspace.NewConverter(table),
		generator: colorgram.NewGenerator(table, func(o *colorgram.Config) {
			o.Bins = opts.bins
			o.Levels = opts.levels
		}),
		extractor: feature.NewExtractor(opts.bins, opts.levels, func(o *feature.Config) {
			o.IncludeMoments = opts.moments
			o.IncludeBins = true
			o.AllLevels = opts.allLevels
			o.Projection = projection
		}),
		normalizer:  normalizer,
		aggregator:  aggregate.NewAggregator(),
		store:       store,
		ownsStore:   ownsStore,
		revision:    opts.revision,
		rc:          opts.controller,
		pool:        newWorkerPool(opts.workers),
		codec:       opts.codec,
		compression: opts.compression,
		metrics:     opts.metrics,
		logger:      opts.logger,
	}

	if err := p.hydrate(context.Background()); err != nil {
		_ = p.Close()
		return nil, translateError(err)
	}

	return p, nil
}

// hydrate merges the word vectors stored for the pipeline's revision
// into the aggregator. Call only on an empty aggregator; Restore merges
// rather than replaces.
func (p *Pipeline) hydrate(ctx context.Context) error {
	words, err := p.store.ListWords(ctx, p.revision)
	if err != nil {
		return err
	}

	vectors := make([]aggregate.WordVector, 0, len(words))
	for _, word := range words {
		wv, err := p.store.GetWordVector(ctx, word, p.revision)
		if errors.Is(err, vectorstore.ErrNotFound) {
			// Feature vectors exist for the word but no aggregate yet.
			continue
		}
		if err != nil {
			return err
		}
		vectors = append(vectors, wv)
	}
	return p.aggregator.Restore(vectors)
}

// rehydrate rebuilds the running statistics from the store after bulk
// state changes.
func (p *Pipeline) rehydrate(ctx context.Context) error {
	p.aggregator = aggregate.NewAggregator()
	return p.hydrate(ctx)
}

// Process runs the full pipeline for one image: color conversion,
// histogram digest, feature extraction, storage and aggregation. It
// returns the stored feature vector; its provenance carries the
// normalized word.
func (p *Pipeline) Process(ctx context.Context, img Image) (feature.Vector, error) {
	start := time.Now()
	vec, err := p.process(ctx, img)
	duration := time.Since(start)
	p.metrics.RecordProcess(duration, err)
	p.logger.LogProcess(ctx, img.ID, img.Word, len(vec.Values), err)
	return vec, err
}

func (p *Pipeline) process(ctx context.Context, img Image) (feature.Vector, error) {
	if p.closed.Load() {
		return feature.Vector{}, ErrPipelineClosed
	}

	word := p.normalizer.Normalize(img.Word)
	if word == "" {
		return feature.Vector{}, fmt.Errorf("%w: label %q", ErrUnknownWord, img.Word)
	}

	if err := img.Raw.Validate(); err != nil {
		return feature.Vector{}, translateError(err)
	}

	if err := p.rc.AcquireImage(ctx, img.Raw.W, img.Raw.H); err != nil {
		return feature.Vector{}, err
	}
	defer p.rc.ReleaseImage(img.Raw.W, img.Raw.H)

	perceptual, err := p.converter.Convert(img.Raw)
	if err != nil {
		return feature.Vector{}, translateError(err)
	}

	cg, err := p.generator.Generate(perceptual)
	if err != nil {
		return feature.Vector{}, translateError(err)
	}

	vec, err := p.extractor.Extract(cg, feature.Provenance{
		ImageID:   img.ID,
		Word:      word,
		Revision:  p.revision,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return feature.Vector{}, translateError(err)
	}

	if err := p.store.PutVector(ctx, vec); err != nil {
		return feature.Vector{}, translateError(err)
	}

	if _, err := p.aggregator.Contribute(word, p.revision, vec); err != nil {
		return feature.Vector{}, translateError(err)
	}

	// The aggregate is re-read under the lock so concurrent
	// contributions can never overwrite a newer snapshot in the store
	// with an older one.
	p.flushMu.Lock()
	wv, ok := p.aggregator.Get(word, p.revision)
	if ok {
		err = p.store.PutWordVector(ctx, wv)
	}
	p.flushMu.Unlock()
	if err != nil {
		return feature.Vector{}, translateError(err)
	}

	return vec, nil
}

// ProcessBatch runs the pipeline over a set of images on the worker
// pool and returns one Result per input, in input order. A failing
// image never aborts the batch. When ctx is cancelled, scheduling
// stops; images processed up to that point remain stored and
// aggregated, and the remaining results carry the cancellation error.
func (p *Pipeline) ProcessBatch(ctx context.Context, images []Image) []Result {
	start := time.Now()
	results := make([]Result, len(images))

	var wg sync.WaitGroup
	for i := range images {
		idx := i
		img := images[i]
		wg.Add(1)
		err := p.pool.submit(ctx, func() {
			defer wg.Done()
			vec, err := p.process(ctx, img)
			results[idx] = Result{ID: img.ID, Word: vec.Provenance.Word, Vector: vec, Err: err}
		})
		if err != nil {
			wg.Done()
			for j := idx; j < len(images); j++ {
				results[j] = Result{ID: images[j].ID, Err: err}
			}
			break
		}
	}
	wg.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	duration := time.Since(start)
	p.metrics.RecordBatch(len(images), failed, duration)
	p.logger.LogBatch(ctx, len(images), failed)
	return results
}

// WordVector returns the aggregate for word in the pipeline's revision.
// Unknown words fail with ErrUnknownWord.
func (p *Pipeline) WordVector(ctx context.Context, word string) (aggregate.WordVector, error) {
	key := p.normalizer.Normalize(word)
	if key == "" {
		return aggregate.WordVector{}, fmt.Errorf("%w: label %q", ErrUnknownWord, word)
	}

	wv, err := p.store.GetWordVector(ctx, key, p.revision)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return aggregate.WordVector{}, fmt.Errorf("%w: %q", ErrUnknownWord, key)
	}
	return wv, translateError(err)
}

// Vector returns the stored feature vector for one image of a word.
func (p *Pipeline) Vector(ctx context.Context, word, imageID string) (feature.Vector, error) {
	key := p.normalizer.Normalize(word)
	if key == "" {
		return feature.Vector{}, fmt.Errorf("%w: label %q", ErrUnknownWord, word)
	}

	vec, err := p.store.GetVector(ctx, key, p.revision, imageID)
	return vec, translateError(err)
}

// Words returns the sorted words present in the pipeline's revision.
func (p *Pipeline) Words(ctx context.Context) ([]string, error) {
	words, err := p.store.ListWords(ctx, p.revision)
	return words, translateError(err)
}

// Images returns the sorted image IDs stored for a word.
func (p *Pipeline) Images(ctx context.Context, word string) ([]string, error) {
	key := p.normalizer.Normalize(word)
	if key == "" {
		return nil, fmt.Errorf("%w: label %q", ErrUnknownWord, word)
	}

	ids, err := p.store.ListImages(ctx, key, p.revision)
	return ids, translateError(err)
}

// Nearest returns the k words whose aggregate mean colors lie closest
// to word's, nearest first. The query word itself is excluded.
func (p *Pipeline) Nearest(ctx context.Context, word string, k int, optFns ...func(o *NearestOptions)) ([]Neighbor, error) {
	start := time.Now()
	neighbors, err := p.nearest(ctx, word, k, optFns...)
	duration := time.Since(start)
	p.metrics.RecordNearest(k, duration, err)
	p.logger.LogNearest(ctx, k, len(neighbors), err)
	return neighbors, err
}

func (p *Pipeline) nearest(ctx context.Context, word string, k int, optFns ...func(o *NearestOptions)) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	opts := NearestOptions{Metric: distance.MetricL2}
	for _, fn := range optFns {
		fn(&opts)
	}
	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	target, err := p.WordVector(ctx, word)
	if err != nil {
		return nil, err
	}

	words, err := p.store.ListWords(ctx, p.revision)
	if err != nil {
		return nil, translateError(err)
	}

	neighbors := make([]Neighbor, 0, len(words))
	for _, other := range words {
		if other == target.Word {
			continue
		}
		wv, err := p.store.GetWordVector(ctx, other, p.revision)
		if errors.Is(err, vectorstore.ErrNotFound) {
			// Word has images but no aggregate yet.
			continue
		}
		if err != nil {
			return nil, translateError(err)
		}
		if wv.Dim() != target.Dim() {
			// Aggregates of a different dimension cannot be compared.
			continue
		}
		neighbors = append(neighbors, Neighbor{Word: other, Distance: dist(target.Mean, wv.Mean)})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Word < neighbors[j].Word
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func (p *Pipeline) exportOptions(optFns []func(o *vectorstore.ExportOptions)) []func(o *vectorstore.ExportOptions) {
	return append([]func(o *vectorstore.ExportOptions){func(o *vectorstore.ExportOptions) {
		o.Codec = p.codec
		o.Compression = p.compression
		o.Revisions = []string{p.revision}
	}}, optFns...)
}

// Export writes a snapshot of the pipeline's revision to w. Pass
// vectorstore export options to widen the scope or change the codec or
// compression.
func (p *Pipeline) Export(ctx context.Context, w io.Writer, optFns ...func(o *vectorstore.ExportOptions)) error {
	start := time.Now()
	err := translateError(vectorstore.Export(ctx, w, p.store, p.exportOptions(optFns)...))
	p.metrics.RecordExport(time.Since(start), err)
	p.logger.LogExport(ctx, p.revision, err)
	return err
}

// ExportFile writes a snapshot of the pipeline's revision to a file.
func (p *Pipeline) ExportFile(ctx context.Context, path string, optFns ...func(o *vectorstore.ExportOptions)) error {
	start := time.Now()
	err := translateError(vectorstore.ExportFile(ctx, path, p.store, p.exportOptions(optFns)...))
	p.metrics.RecordExport(time.Since(start), err)
	p.logger.LogExport(ctx, p.revision, err)
	return err
}

// Import applies a snapshot to the pipeline's store and rebuilds the
// running statistics from the imported state. Must not run concurrently
// with processing.
func (p *Pipeline) Import(ctx context.Context, r io.ReadSeeker, optFns ...func(o *vectorstore.ImportOptions)) error {
	start := time.Now()
	err := vectorstore.Import(ctx, r, p.store, optFns...)
	if err == nil {
		err = p.rehydrate(ctx)
	}
	err = translateError(err)
	p.metrics.RecordImport(time.Since(start), err)
	p.logger.LogImport(ctx, p.revision, err)
	return err
}

// ImportFile applies a snapshot file to the pipeline's store.
func (p *Pipeline) ImportFile(ctx context.Context, path string, optFns ...func(o *vectorstore.ImportOptions)) error {
	start := time.Now()
	err := vectorstore.ImportFile(ctx, path, p.store, optFns...)
	if err == nil {
		err = p.rehydrate(ctx)
	}
	err = translateError(err)
	p.metrics.RecordImport(time.Since(start), err)
	p.logger.LogImport(ctx, p.revision, err)
	return err
}

// Publish exports the pipeline's revision and uploads it through bs,
// making it fetchable by name. The pipeline's codec, compression and
// resource controller apply unless overridden.
func (p *Pipeline) Publish(ctx context.Context, bs blobstore.BlobStore, optFns ...func(o *blobstore.PublishOptions)) (*blobstore.Manifest, error) {
	start := time.Now()
	fns := append([]func(o *blobstore.PublishOptions){func(o *blobstore.PublishOptions) {
		o.Codec = p.codec
		o.Compression = p.compression
		o.Controller = p.rc
	}}, optFns...)
	manifest, err := blobstore.Publish(ctx, bs, p.store, p.revision, fns...)
	err = translateError(err)
	p.metrics.RecordPublish(time.Since(start), err)
	p.logger.LogPublish(ctx, p.revision, err)
	return manifest, err
}

// Fetch downloads the pipeline's revision from bs, applies it to the
// store and rebuilds the running statistics. Must not run concurrently
// with processing.
func (p *Pipeline) Fetch(ctx context.Context, bs blobstore.BlobStore, optFns ...func(o *blobstore.FetchOptions)) (*blobstore.Manifest, error) {
	start := time.Now()
	fns := append([]func(o *blobstore.FetchOptions){func(o *blobstore.FetchOptions) {
		o.Controller = p.rc
	}}, optFns...)
	manifest, err := blobstore.Fetch(ctx, bs, p.store, p.revision, fns...)
	if err == nil {
		err = p.rehydrate(ctx)
	}
	err = translateError(err)
	p.metrics.RecordFetch(time.Since(start), err)
	p.logger.LogFetch(ctx, p.revision, err)
	return manifest, err
}

// Finalize marks the pipeline's revision read-only. Further Process
// calls into it fail with ErrRevisionFinalized.
func (p *Pipeline) Finalize(ctx context.Context) error {
	err := translateError(p.store.Finalize(ctx, p.revision))
	p.logger.LogFinalize(ctx, p.revision, err)
	return err
}

// Finalized reports whether the pipeline's revision is read-only.
func (p *Pipeline) Finalized(ctx context.Context) (bool, error) {
	ok, err := p.store.Finalized(ctx, p.revision)
	return ok, translateError(err)
}

// Revision returns the revision all pipeline output is keyed under.
func (p *Pipeline) Revision() string {
	return p.revision
}

// VectorLength returns the fixed feature-vector length for the
// pipeline's configuration.
func (p *Pipeline) VectorLength() int {
	return p.extractor.Length()
}

// Store exposes the underlying vector store, e.g. for direct snapshot
// operations across revisions.
func (p *Pipeline) Store() vectorstore.Store {
	return p.store
}

// Normalize returns the aggregation key for a raw word label.
func (p *Pipeline) Normalize(label string) string {
	return p.normalizer.Normalize(label)
}

// Close drains the worker pool and releases resources the pipeline
// opened itself: a table opened from WithTablePath and the default
// in-memory store. A table or store supplied by the caller stays open.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	if p.closed.Swap(true) {
		return nil
	}

	p.pool.close()

	var firstErr error
	if p.ownsTable {
		if err := p.table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.ownsStore {
		if err := p.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

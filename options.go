package huevec

import (
	"log/slog"

	"github.com/hupe1980/huevec/codec"
	"github.com/hupe1980/huevec/colorgram"
	"github.com/hupe1980/huevec/colorspace"
	"github.com/hupe1980/huevec/feature"
	"github.com/hupe1980/huevec/resource"
	"github.com/hupe1980/huevec/vectorstore"
	"github.com/hupe1980/huevec/vocab"
)

// DefaultRevision keys pipeline output when no revision is configured.
const DefaultRevision = "unnamed-revision"

// options holds the internal configuration assembled from Option functions.
type options struct {
	table         *colorspace.Table
	tablePath     string
	bins          int
	levels        int
	moments       bool
	allLevels     bool
	transform     *feature.Projection
	transformPath string
	revision      string
	workers       int
	stemming      bool
	normalizer    *vocab.Normalizer
	store         vectorstore.Store
	codec         codec.Codec
	compression   vectorstore.Compression
	controller    *resource.Controller
	metrics       MetricsCollector
	logger        *Logger
}

// Option configures a Pipeline.
type Option func(*options)

// WithTable supplies an already loaded color table. The caller keeps
// ownership; Pipeline.Close will not close it.
func WithTable(t *colorspace.Table) Option {
	return func(o *options) {
		o.table = t
	}
}

// WithTablePath opens the color table at path. The pipeline owns the
// table and closes it on Close.
func WithTablePath(path string) Option {
	return func(o *options) {
		o.tablePath = path
	}
}

// WithBins sets the histogram resolution per channel.
// Default: 8.
func WithBins(bins int) Option {
	return func(o *options) {
		o.bins = bins
	}
}

// WithLevels sets the spatial pyramid depth. Level 0 is the whole
// image; level l partitions it into 2^l by 2^l cells.
// Default: 1 (level 0 only).
func WithLevels(levels int) Option {
	return func(o *options) {
		o.levels = levels
	}
}

// WithMoments includes or excludes the per-channel mean and variance in
// feature vectors. Default: included.
func WithMoments(enabled bool) Option {
	return func(o *options) {
		o.moments = enabled
	}
}

// WithAllLevels extends feature vectors with the histograms of every
// pyramid level instead of level 0 only. Default: off.
func WithAllLevels(enabled bool) Option {
	return func(o *options) {
		o.allLevels = enabled
	}
}

// WithTransform supplies a fitted projection applied to every feature
// vector.
func WithTransform(p *feature.Projection) Option {
	return func(o *options) {
		o.transform = p
	}
}

// WithTransformPath opens the projection artifact at path.
func WithTransformPath(path string) Option {
	return func(o *options) {
		o.transformPath = path
	}
}

// WithRevision keys all pipeline output under the given revision.
// Default: DefaultRevision.
func WithRevision(revision string) Option {
	return func(o *options) {
		if revision == "" {
			revision = DefaultRevision
		}
		o.revision = revision
	}
}

// WithWorkers sets the worker pool size for batch processing.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithStemming reduces word labels to their Porter stems before keying,
// so "colors" and "colored" aggregate together. Default: off.
func WithStemming(enabled bool) Option {
	return func(o *options) {
		o.stemming = enabled
	}
}

// WithVocab supplies a label normalizer, overriding WithStemming.
func WithVocab(n *vocab.Normalizer) Option {
	return func(o *options) {
		o.normalizer = n
	}
}

// WithStore supplies the vector store backend. The caller keeps
// ownership; Pipeline.Close will not close it.
// Default: an in-memory store owned by the pipeline.
func WithStore(s vectorstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithCodec sets the serialization codec for snapshot export.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the snapshot section compression.
func WithCompression(c vectorstore.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithResourceController bounds decoded-image memory and blob transfer
// bandwidth. Default: unbounded.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithMetricsCollector sets the metrics collector for monitoring operations.
// Default: NoopMetricsCollector (no metrics collection).
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		o.metrics = collector
	}
}

// WithLogger sets the structured logger for operation tracing.
// Default: NoopLogger (no logging).
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel is a convenience option that creates a text logger with
// the specified level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// applyOptions applies option functions and returns the final options.
func applyOptions(optFns []Option) options {
	opts := options{
		bins:        colorgram.DefaultBins,
		levels:      colorgram.DefaultLevels,
		moments:     true,
		revision:    DefaultRevision,
		codec:       codec.Default,
		compression: vectorstore.CompressionZstd,
		metrics:     NoopMetricsCollector{},
		logger:      NoopLogger(),
	}

	for _, fn := range optFns {
		if fn == nil {
			continue
		}
		fn(&opts)
	}

	// The generator and the extractor must agree on the digest shape.
	if opts.bins < 1 {
		opts.bins = colorgram.DefaultBins
	}
	if opts.levels < 1 {
		opts.levels = colorgram.DefaultLevels
	}

	return opts
}

package huevec

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    processCounter  prometheus.Counter
//	    processDuration prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordProcess(duration time.Duration, err error) {
//	    p.processCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordProcess is called after each single-image pipeline run.
	// duration is the total time taken, err is nil if successful.
	RecordProcess(duration time.Duration, err error)

	// RecordBatch is called after each batch run. count is the number
	// of images attempted, failed is the number that failed, duration
	// is the total time taken.
	RecordBatch(count, failed int, duration time.Duration)

	// RecordNearest is called after each nearest-words query. k is the
	// number of neighbors requested.
	RecordNearest(k int, duration time.Duration, err error)

	// RecordExport is called after each snapshot export.
	RecordExport(duration time.Duration, err error)

	// RecordImport is called after each snapshot import.
	RecordImport(duration time.Duration, err error)

	// RecordPublish is called after each blob-store publish.
	RecordPublish(duration time.Duration, err error)

	// RecordFetch is called after each blob-store fetch.
	RecordFetch(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordProcess(time.Duration, error)      {}
func (NoopMetricsCollector) RecordBatch(int, int, time.Duration)     {}
func (NoopMetricsCollector) RecordNearest(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordExport(time.Duration, error)       {}
func (NoopMetricsCollector) RecordImport(time.Duration, error)       {}
func (NoopMetricsCollector) RecordPublish(time.Duration, error)      {}
func (NoopMetricsCollector) RecordFetch(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ProcessCount      atomic.Int64
	ProcessErrors     atomic.Int64
	ProcessTotalNanos atomic.Int64
	BatchCount        atomic.Int64
	BatchImages       atomic.Int64
	BatchFailed       atomic.Int64
	NearestCount      atomic.Int64
	NearestErrors     atomic.Int64
	NearestTotalNanos atomic.Int64
	ExportCount       atomic.Int64
	ExportErrors      atomic.Int64
	ImportCount       atomic.Int64
	ImportErrors      atomic.Int64
	PublishCount      atomic.Int64
	PublishErrors     atomic.Int64
	FetchCount        atomic.Int64
	FetchErrors       atomic.Int64
}

// RecordProcess implements MetricsCollector.
func (b *BasicMetricsCollector) RecordProcess(duration time.Duration, err error) {
	b.ProcessCount.Add(1)
	b.ProcessTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ProcessErrors.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(count, failed int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchImages.Add(int64(count))
	b.BatchFailed.Add(int64(failed))
}

// RecordNearest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordNearest(k int, duration time.Duration, err error) {
	b.NearestCount.Add(1)
	b.NearestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.NearestErrors.Add(1)
	}
}

// RecordExport implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExport(duration time.Duration, err error) {
	b.ExportCount.Add(1)
	if err != nil {
		b.ExportErrors.Add(1)
	}
}

// RecordImport implements MetricsCollector.
func (b *BasicMetricsCollector) RecordImport(duration time.Duration, err error) {
	b.ImportCount.Add(1)
	if err != nil {
		b.ImportErrors.Add(1)
	}
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(duration time.Duration, err error) {
	b.PublishCount.Add(1)
	if err != nil {
		b.PublishErrors.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(duration time.Duration, err error) {
	b.FetchCount.Add(1)
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ProcessCount:    b.ProcessCount.Load(),
		ProcessErrors:   b.ProcessErrors.Load(),
		ProcessAvgNanos: b.getAvgProcessNanos(),
		BatchCount:      b.BatchCount.Load(),
		BatchImages:     b.BatchImages.Load(),
		BatchFailed:     b.BatchFailed.Load(),
		NearestCount:    b.NearestCount.Load(),
		NearestErrors:   b.NearestErrors.Load(),
		NearestAvgNanos: b.getAvgNearestNanos(),
		ExportCount:     b.ExportCount.Load(),
		ExportErrors:    b.ExportErrors.Load(),
		ImportCount:     b.ImportCount.Load(),
		ImportErrors:    b.ImportErrors.Load(),
		PublishCount:    b.PublishCount.Load(),
		PublishErrors:   b.PublishErrors.Load(),
		FetchCount:      b.FetchCount.Load(),
		FetchErrors:     b.FetchErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgProcessNanos() int64 {
	count := b.ProcessCount.Load()
	if count == 0 {
		return 0
	}
	return b.ProcessTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgNearestNanos() int64 {
	count := b.NearestCount.Load()
	if count == 0 {
		return 0
	}
	return b.NearestTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ProcessCount    int64
	ProcessErrors   int64
	ProcessAvgNanos int64
	BatchCount      int64
	BatchImages     int64
	BatchFailed     int64
	NearestCount    int64
	NearestErrors   int64
	NearestAvgNanos int64
	ExportCount     int64
	ExportErrors    int64
	ImportCount     int64
	ImportErrors    int64
	PublishCount    int64
	PublishErrors   int64
	FetchCount      int64
	FetchErrors     int64
}

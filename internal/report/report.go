// Package report decouples the certificate scan pipeline from the slower
// persistent store. Batches produced by a scan are handed to a lazily
// started background writer through a bounded buffer, so scanning
// throughput is not gated on store latency while memory stays bounded.
// Run does not return until every batch produced during the cycle has been
// handed to the store and the writer goroutine has exited.
package report

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atanasmihaylov/certificate-transparency/internal/metrics"
)

// DefaultQueueSize is the buffer capacity used when the configured value
// is zero.
const DefaultQueueSize = 10

// Store persists one batch of scanned certificates for the given log.
// A returned error is fatal to the current reporting cycle; this package
// never retries.
type Store interface {
	StoreBatch(ctx context.Context, batch Batch, logKey string) error
}

// Scanner produces batches for one reporting cycle. It must call emit once
// per ready batch, in log order, and return once all callbacks have fired.
// When emit returns an error the cycle is failing and the scanner should
// stop producing.
type Scanner interface {
	Scan(ctx context.Context, emit func(Batch) error) error
}

// Report coordinates one reporting cycle at a time: it runs the scanner,
// funnels its batches through a bounded buffer to a background writer, and
// tears the writer down before returning. A Report is reusable across
// cycles; Run must not be called concurrently.
type Report struct {
	store     Store
	logKey    string
	queueSize int

	// mu guards the lazy creation of buf and w so that concurrent scan
	// callbacks cannot spawn two writers for one cycle.
	mu  sync.Mutex
	buf *buffer
	w   *writer
}

// New creates a Report writing to store under logKey. queueSize bounds the
// number of batches buffered between scan and store; zero selects
// DefaultQueueSize, negative values are clamped to 1.
func New(store Store, logKey string, queueSize int) *Report {
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Report{store: store, logKey: logKey, queueSize: queueSize}
}

// Run executes one reporting cycle. It returns after the scan has finished,
// every produced batch has been handed to the store, and the writer
// goroutine has exited. A store failure aborts the cycle and is returned
// here (the shared-error-slot resolution: the writer records the error,
// unblocks the producer side, and Run surfaces it after the join). Drain
// and join have no timeout.
func (r *Report) Run(ctx context.Context, scanner Scanner) error {
	scanErr := scanner.Scan(ctx, func(b Batch) error {
		return r.enqueue(ctx, b)
	})

	if err := r.finish(); err != nil {
		return err
	}
	return scanErr
}

// enqueue hands one batch to the writer, spawning it on the first batch of
// the cycle. Blocks when the buffer is full.
func (r *Report) enqueue(ctx context.Context, b Batch) error {
	r.mu.Lock()
	if r.w == nil {
		r.buf = newBuffer(r.queueSize)
		r.w = startWriter(ctx, r.buf, r.store, r.logKey)
		slog.Debug("report: writer started", "log", r.logKey, "queue_size", r.queueSize)
	}
	buf := r.buf
	r.mu.Unlock()

	if err := buf.put(item{batch: b}); err != nil {
		return err
	}
	metrics.WriterQueueDepth.Inc()
	return nil
}

// finish drains the buffer, terminates the writer via the sentinel, joins
// it, and clears the cycle state. A cycle that produced no batches has no
// writer to terminate and completes immediately.
func (r *Report) finish() error {
	r.mu.Lock()
	buf, w := r.buf, r.w
	r.mu.Unlock()

	if w == nil {
		return nil
	}

	err := buf.awaitDrained()
	if err == nil {
		err = buf.put(item{sentinel: true})
	}
	<-w.done
	metrics.WriterQueueDepth.Set(0)

	r.mu.Lock()
	r.buf, r.w = nil, nil
	r.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	return err
}

package report

import (
	"context"
	"fmt"

	"github.com/atanasmihaylov/certificate-transparency/internal/metrics"
)

// writer is the single background consumer of a cycle's buffer. It dequeues
// batches in FIFO order and forwards each to the store, exiting when it
// dequeues the sentinel. A store failure is fatal to the cycle: the writer
// records the error, aborts the buffer so the producer side cannot block
// forever, and exits without touching later batches.
type writer struct {
	done chan struct{}
	err  error // valid only after done is closed
}

func startWriter(ctx context.Context, buf *buffer, store Store, logKey string) *writer {
	w := &writer{done: make(chan struct{})}
	go w.run(ctx, buf, store, logKey)
	return w
}

func (w *writer) run(ctx context.Context, buf *buffer, store Store, logKey string) {
	defer close(w.done)

	for {
		it, err := buf.get()
		if err != nil {
			w.err = err
			return
		}
		if it.sentinel {
			buf.markDone()
			return
		}

		err = store.StoreBatch(ctx, it.batch, logKey)
		buf.markDone()
		metrics.WriterQueueDepth.Dec()
		if err != nil {
			w.err = fmt.Errorf("store batch ending at index %d: %w", lastIndex(it.batch), err)
			buf.abort(w.err)
			return
		}
		metrics.BatchesWritten.Inc()
	}
}

func lastIndex(b Batch) int64 {
	if len(b) == 0 {
		return -1
	}
	return b[len(b)-1].Index
}

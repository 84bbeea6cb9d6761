package report

import "sync"

// item is what travels through the buffer: either a real batch or the
// end-of-cycle sentinel. A tagged struct avoids any comparison against a
// magic Batch value.
type item struct {
	batch    Batch
	sentinel bool
}

// buffer is a fixed-capacity, FIFO hand-off queue between the scan side and
// the writer goroutine. Beyond the queue itself it tracks in-flight items:
// everything put but not yet acknowledged via markDone. awaitDrained blocks
// until that count reaches zero, which is how the coordinator knows every
// batch handed over has actually been stored.
//
// Termination protocol:
//   - put blocks while the queue is full (backpressure), get blocks while
//     it is empty. Both are FIFO; no item is lost or duplicated.
//   - abort makes the buffer permanently fail: every blocked or future
//     put/get/awaitDrained returns the abort error. The writer uses it to
//     surface a store failure without leaving the producer blocked.
type buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	items []item
	head  int // index of the next item to pop; avoids O(n) re-slicing

	capacity int
	inFlight int // put but not yet markDone'd; >= queued count
	err      error
}

func newBuffer(capacity int) *buffer {
	b := &buffer{capacity: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// queued returns the number of items currently in the queue. Caller must
// hold mu.
func (b *buffer) queued() int {
	return len(b.items) - b.head
}

// put enqueues it at the tail, blocking while the buffer is at capacity.
// Returns the abort error if the buffer has been aborted.
func (b *buffer) put(it item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.err == nil && b.queued() >= b.capacity {
		b.cond.Wait()
	}
	if b.err != nil {
		return b.err
	}

	b.items = append(b.items, it)
	b.inFlight++
	b.cond.Broadcast()
	return nil
}

// get removes and returns the head item, blocking while the buffer is empty.
func (b *buffer) get() (item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.err == nil && b.queued() == 0 {
		b.cond.Wait()
	}
	if b.err != nil {
		return item{}, b.err
	}

	it := b.items[b.head]
	b.items[b.head] = item{} // drop the batch reference for GC
	b.head++
	if b.head == len(b.items) {
		b.items = b.items[:0]
		b.head = 0
	}
	b.cond.Broadcast()
	return it, nil
}

// markDone acknowledges one previously dequeued item as fully processed.
func (b *buffer) markDone() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight > 0 {
		b.inFlight--
	}
	b.cond.Broadcast()
}

// awaitDrained blocks until every item ever put has been dequeued and
// acknowledged, or until the buffer is aborted.
func (b *buffer) awaitDrained() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.err == nil && b.inFlight > 0 {
		b.cond.Wait()
	}
	return b.err
}

// abort permanently fails the buffer with err, waking every waiter.
// The first abort wins; later calls are ignored.
func (b *buffer) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return
	}
	b.err = err
	b.cond.Broadcast()
}

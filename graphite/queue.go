package graphite

import "sync"

// Queue is an unbounded FIFO of samples shared by producers and the dispatcher.
//
// Samples handed out by DrainAll stay accounted as in flight until they are
// either acknowledged with Done or returned with Requeue, so Pending reports
// everything that has not been delivered or dropped yet.
type Queue struct {
	mu       sync.Mutex
	samples  []Sample
	inflight int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a sample. It never blocks on anything but the queue lock.
func (q *Queue) Enqueue(s Sample) {
	q.mu.Lock()
	q.samples = append(q.samples, s)
	q.mu.Unlock()
}

// DrainAll removes and returns the whole queue content in insertion order.
func (q *Queue) DrainAll() []Sample {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.samples) == 0 {
		return nil
	}
	batch := q.samples
	q.samples = nil
	q.inflight += len(batch)
	return batch
}

// Requeue puts undelivered samples of a drained batch back in front of the
// samples submitted since the drain.
func (q *Queue) Requeue(batch []Sample) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]Sample, 0, len(batch)+len(q.samples))
	merged = append(merged, batch...)
	q.samples = append(merged, q.samples...)
	q.release(len(batch))
}

// Done acknowledges n drained samples as delivered or dropped.
func (q *Queue) Done(n int) {
	q.mu.Lock()
	q.release(n)
	q.mu.Unlock()
}

func (q *Queue) release(n int) {
	q.inflight -= n
	if q.inflight < 0 {
		q.inflight = 0
	}
}

// IsEmpty is a point-in-time snapshot; samples in flight are not counted.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples) == 0
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples)
}

// Pending returns queued plus in-flight samples.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples) + q.inflight
}

package audit

import "sync"

// ringBuffer is a bounded, thread-safe buffer between Append callers and the
// stream publisher's flush loop. When full, the oldest entries are dropped
// so appends never block on a slow broker.
type ringBuffer struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ringBuffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest when the buffer is full.
func (b *ringBuffer) Enqueue(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// DequeueBatch removes up to n entries in arrival order.
func (b *ringBuffer) DequeueBatch(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = b.entries[b.tail]
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *ringBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ringBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

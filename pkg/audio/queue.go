package audio

import "sync"

// ChunkQueue is a FIFO of PCM chunks with a running byte total and the
// end-of-stream flag, all guarded by one mutex.
type ChunkQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	head   int
	bytes  int
	ended  bool

	// wake has capacity 1 so producers never block signalling it.
	wake chan struct{}
}

// NewChunkQueue creates an empty queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{
		wake: make(chan struct{}, 1),
	}
}

// Push appends a chunk. The queue takes ownership of the slice.
func (q *ChunkQueue) Push(chunk []byte) {
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.bytes += len(chunk)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the oldest chunk, or false when empty.
func (q *ChunkQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.chunks) {
		return nil, false
	}
	chunk := q.chunks[q.head]
	q.chunks[q.head] = nil
	q.head++
	q.bytes -= len(chunk)

	switch {
	case q.head == len(q.chunks):
		q.chunks = q.chunks[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.chunks):
		// Compact so a queue that never fully empties does not grow forever.
		n := copy(q.chunks, q.chunks[q.head:])
		clear(q.chunks[n:])
		q.chunks = q.chunks[:n]
		q.head = 0
	}
	return chunk, true
}

// Bytes returns the total size of queued chunks.
func (q *ChunkQueue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks) - q.head
}

// Clear drops every queued chunk.
func (q *ChunkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.chunks)
	q.chunks = q.chunks[:0]
	q.head = 0
	q.bytes = 0
}

// MarkEnded records that the producer will send no more chunks.
func (q *ChunkQueue) MarkEnded() {
	q.mu.Lock()
	q.ended = true
	q.mu.Unlock()
	q.signal()
}

// Ended reports whether the stream was marked ended.
func (q *ChunkQueue) Ended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ended
}

// ResetEnded clears the end-of-stream flag.
func (q *ChunkQueue) ResetEnded() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ended = false
}

// Snapshot returns the byte total and end flag read together.
func (q *ChunkQueue) Snapshot() (bytes int, ended bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes, q.ended
}

// Wait returns a channel that receives after the next Push or MarkEnded.
// Wake-ups coalesce; callers must re-check the queue after receiving.
func (q *ChunkQueue) Wait() <-chan struct{} {
	return q.wake
}

func (q *ChunkQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

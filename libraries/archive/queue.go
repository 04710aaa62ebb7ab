package archive

import (
	"container/heap"
	"sync"

	"github.com/redocdc/core/libraries/redotypes"
)

// Candidate is one discovered archived log file, not yet opened (spec §3's
// LogFile, pre-CHECK: firstScn/nextScn are NONE until the Reader fills
// them in).
type Candidate struct {
	Path     string
	Sequence redotypes.Seq

	discoveredAt int
}

// Queue is the ArchiveQueue: a priority queue of Candidates ordered by
// ascending sequence, ties broken by discovery order (spec §3).
type Queue struct {
	mu      sync.Mutex
	items   candidateHeap
	seen    map[redotypes.Seq]bool
	counter int
}

func NewQueue() *Queue {
	return &Queue{seen: make(map[redotypes.Seq]bool)}
}

// Enqueue adds path/seq if its sequence hasn't already been queued
// (idempotent across rediscovery, per spec §4.3).
func (q *Queue) Enqueue(path string, seq redotypes.Seq) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[seq] {
		return
	}
	q.seen[seq] = true
	q.counter++
	heap.Push(&q.items, Candidate{Path: path, Sequence: seq, discoveredAt: q.counter})
}

// Peek returns the lowest-sequence candidate without removing it.
func (q *Queue) Peek() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the lowest-sequence candidate.
func (q *Queue) Pop() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	c := heap.Pop(&q.items).(Candidate)
	delete(q.seen, c.Sequence)
	return c, true
}

// Discard removes c without processing it (used when its sequence is
// already behind metadata.sequence).
func (q *Queue) Discard(c Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].Sequence == c.Sequence && q.items[i].Path == c.Path {
			heap.Remove(&q.items, i)
			break
		}
	}
	delete(q.seen, c.Sequence)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending candidate, for use when the replicator that
// owns this queue is shutting down and no queued discovery should survive
// it.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.seen = make(map[redotypes.Seq]bool)
}

type candidateHeap []Candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].Sequence != h[j].Sequence {
		return h[i].Sequence < h[j].Sequence
	}
	return h[i].discoveredAt < h[j].discoveredAt
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

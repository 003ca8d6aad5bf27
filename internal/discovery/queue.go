// Package discovery implements Stage 1 (C3): walking a code's index page
// down through its text pages to build the hierarchy tree and the leaf
// section manifest.
package discovery

import (
	"container/heap"
	"sync"
)

// PageQueue is a thread-safe priority queue of text-page URLs awaiting a
// discovery fetch, lower priority value dequeuing first (breadth-first:
// a page's priority is its depth in the tree so shallower pages are
// discovered before deeper ones).
type PageQueue struct {
	mu     sync.Mutex
	pq     pageHeap
	closed bool
}

// NewPageQueue creates an empty PageQueue.
func NewPageQueue() *PageQueue {
	q := &PageQueue{pq: make(pageHeap, 0, 256)}
	heap.Init(&q.pq)
	return q
}

// Push adds a page at the given depth.
func (q *PageQueue) Push(url string, depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.pq, &pageItem{url: url, depth: depth})
}

// TryPop removes and returns the shallowest queued page, or ("", false)
// if empty.
func (q *PageQueue) TryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pq.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.pq).(*pageItem)
	return item.url, true
}

// Len returns the number of queued pages.
func (q *PageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}

// Close marks the queue closed; further Push calls are no-ops.
func (q *PageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

type pageItem struct {
	url   string
	depth int
	index int
}

type pageHeap []*pageItem

func (h pageHeap) Len() int            { return len(h) }
func (h pageHeap) Less(i, j int) bool  { return h[i].depth < h[j].depth }
func (h pageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *pageHeap) Push(x any) {
	item := x.(*pageItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *pageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

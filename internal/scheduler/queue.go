package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Job is one outstanding crawl job awaiting a worker.
type Job struct {
	PageID      string
	URL         string
	TenantID    string
	PageType    string
	Priority    int
	ScheduledAt time.Time
	ImportRunID string // the ScheduleTick pass that enqueued this job

	index int // heap bookkeeping, maintained by container/heap
}

// jobHeap orders by priority descending, ties broken by ScheduledAt
// ascending, per spec §4.1's priority-queue rule.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x interface{}) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// PriorityQueue is a concurrency-safe priority queue of crawl jobs. Enqueue
// and Dequeue are O(log n); Remove is O(n) and idempotent.
type PriorityQueue struct {
	mu   sync.Mutex
	h    jobHeap
	byURL map[string]*Job
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byURL: make(map[string]*Job)}
}

// Enqueue adds a job, replacing any existing job for the same URL.
func (q *PriorityQueue) Enqueue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.byURL[job.URL]; ok {
		heap.Remove(&q.h, existing.index)
		delete(q.byURL, job.URL)
	}
	heap.Push(&q.h, job)
	q.byURL[job.URL] = job
}

// Dequeue pops the highest-priority, earliest-scheduled job. Returns false
// if the queue is empty.
func (q *PriorityQueue) Dequeue() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, false
	}
	job := heap.Pop(&q.h).(*Job)
	delete(q.byURL, job.URL)
	return job, true
}

// Remove drops the job for url if present. Returns whether a job was
// removed; safe to call on a URL that was never enqueued or already popped.
func (q *PriorityQueue) Remove(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byURL[url]
	if !ok {
		return false
	}
	heap.Remove(&q.h, job.index)
	delete(q.byURL, url)
	return true
}

// Len returns the number of outstanding jobs.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueue_DequeuesHighestPriorityFirst(t *testing.T) {
	q := NewPriorityQueue()
	now := time.Now()
	q.Enqueue(&Job{URL: "low", Priority: 1, ScheduledAt: now})
	q.Enqueue(&Job{URL: "high", Priority: 9, ScheduledAt: now})
	q.Enqueue(&Job{URL: "mid", Priority: 5, ScheduledAt: now})

	j, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", j.URL)

	j, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "mid", j.URL)
}

func TestPriorityQueue_TiesBreakByScheduledAt(t *testing.T) {
	q := NewPriorityQueue()
	now := time.Now()
	q.Enqueue(&Job{URL: "later", Priority: 5, ScheduledAt: now.Add(time.Hour)})
	q.Enqueue(&Job{URL: "earlier", Priority: 5, ScheduledAt: now})

	j, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "earlier", j.URL)
}

func TestPriorityQueue_EnqueueReplacesExistingURL(t *testing.T) {
	q := NewPriorityQueue()
	now := time.Now()
	q.Enqueue(&Job{URL: "a", Priority: 1, ScheduledAt: now})
	q.Enqueue(&Job{URL: "a", Priority: 9, ScheduledAt: now})

	assert.Equal(t, 1, q.Len())
	j, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 9, j.Priority)
}

func TestPriorityQueue_RemoveIsIdempotent(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(&Job{URL: "a", Priority: 1, ScheduledAt: time.Now()})

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"), "removing an already-removed URL must not panic or error")
	assert.False(t, q.Remove("never-enqueued"))
	assert.Equal(t, 0, q.Len())
}

func TestPriorityQueue_DequeueEmptyReturnsFalse(t *testing.T) {
	q := NewPriorityQueue()
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

package session

import (
	"container/heap"
	"time"

	"github.com/cenkalti/backoff"

	"voxelforge.ai/internal/coords"
)

// batch is the scheduler's view of one unit of work.
type batch struct {
	id       BatchID
	coords   []coords.ChunkCoord
	priority int
	attempt  int
	seq      uint64
	dist     int
	index    int

	backoff *backoff.ExponentialBackOff
	timer   *time.Timer
}

func (b *batch) distanceTo(ref coords.ChunkCoord) int {
	best := -1
	for _, c := range b.coords {
		if d := c.Chebyshev(ref); best < 0 || d < best {
			best = d
		}
	}
	return best
}

// batchQueue orders by distance to the reference chunk, then priority
// (lower first), then enqueue sequence.
type batchQueue []*batch

func (q batchQueue) Len() int { return len(q) }

func (q batchQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q batchQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *batchQueue) Push(x any) {
	b := x.(*batch)
	b.index = len(*q)
	*q = append(*q, b)
}

func (q *batchQueue) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*q = old[:n-1]
	return b
}

func (q *batchQueue) push(b *batch) { heap.Push(q, b) }

func (q *batchQueue) pop() *batch {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*batch)
}

// reprioritize recomputes every distance against ref and restores the heap.
func (q *batchQueue) reprioritize(ref coords.ChunkCoord) {
	for _, b := range *q {
		b.dist = b.distanceTo(ref)
	}
	heap.Init(q)
}

func (q *batchQueue) drain() []*batch {
	out := make([]*batch, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}

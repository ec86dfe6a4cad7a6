package layout

import "container/heap"

// allocator hands out the lowest free slot index, reclaiming slots whose
// occupant's reach has passed. Callers must assign in ascending start order.
type allocator struct {
	busy busyHeap
	free intHeap
	next int
}

func (a *allocator) assign(from, reach int) int {
	for a.busy.Len() > 0 && a.busy[0].reach <= from {
		heap.Push(&a.free, heap.Pop(&a.busy).(slot).index)
	}

	var index int
	if a.free.Len() > 0 {
		index = heap.Pop(&a.free).(int)
	} else {
		index = a.next
		a.next++
	}
	heap.Push(&a.busy, slot{index: index, reach: reach})
	return index
}

type slot struct {
	index int
	reach int
}

type busyHeap []slot

func (h busyHeap) Len() int { return len(h) }
func (h busyHeap) Less(i, j int) bool {
	if h[i].reach != h[j].reach {
		return h[i].reach < h[j].reach
	}
	return h[i].index < h[j].index
}
func (h busyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *busyHeap) Push(x any)   { *h = append(*h, x.(slot)) }
func (h *busyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

package reactor

import (
	"container/heap"
	"time"
)

type timer struct {
	id       TimerID
	token    Token
	deadline time.Time
	index    int
}

// timerHeap is a min-heap on deadline, adapted from the container/heap
// priority queue example.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timers keeps pending timeouts addressable by id so they can be cancelled.
type timers struct {
	heap timerHeap
	byID map[TimerID]*timer
	next TimerID
}

func newTimers() *timers {
	return &timers{byID: make(map[TimerID]*timer)}
}

func (t *timers) schedule(token Token, deadline time.Time) TimerID {
	t.next++
	tm := &timer{id: t.next, token: token, deadline: deadline}
	heap.Push(&t.heap, tm)
	t.byID[tm.id] = tm
	return tm.id
}

func (t *timers) cancel(id TimerID) bool {
	tm, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	heap.Remove(&t.heap, tm.index)
	return true
}

// nextDeadline reports the earliest pending deadline.
func (t *timers) nextDeadline() (time.Time, bool) {
	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].deadline, true
}

// popExpired removes and returns the earliest timer if it is due at now.
func (t *timers) popExpired(now time.Time) (*timer, bool) {
	if len(t.heap) == 0 || t.heap[0].deadline.After(now) {
		return nil, false
	}
	tm := heap.Pop(&t.heap).(*timer)
	delete(t.byID, tm.id)
	return tm, true
}

func (t *timers) len() int { return len(t.heap) }

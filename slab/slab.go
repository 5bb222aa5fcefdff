// Package slab provides a capacity-bounded store addressed by small integer
// tokens. Insert always hands out the lowest free token, and a token is reused
// only after its holder has been removed.
package slab

import (
	"container/heap"
	"errors"
	"fmt"
)

var (
	ErrFull     = errors.New("slab: at capacity")
	ErrNotFound = errors.New("slab: no entry for token")
)

type entry[T any] struct {
	value T
	used  bool
}

// Slab maps tokens in [offset, offset+capacity) to values. Tokens below offset
// are left to the caller, e.g. for listening sockets.
type Slab[T any] struct {
	offset   int
	capacity int
	entries  []entry[T]
	free     freeList
	size     int
}

func New[T any](offset, capacity int) *Slab[T] {
	if offset < 0 {
		offset = 0
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Slab[T]{offset: offset, capacity: capacity}
}

// Insert stores v under the lowest free token. It fails with ErrFull and leaves
// the slab untouched when every slot is taken.
func (s *Slab[T]) Insert(v T) (int, error) {
	var index int
	switch {
	case s.free.Len() > 0:
		index = heap.Pop(&s.free).(int)
	case len(s.entries) < s.capacity:
		index = len(s.entries)
		s.entries = append(s.entries, entry[T]{})
	default:
		return 0, fmt.Errorf("%w: %d entries", ErrFull, s.size)
	}

	s.entries[index] = entry[T]{value: v, used: true}
	s.size++
	return index + s.offset, nil
}

func (s *Slab[T]) Get(token int) (T, bool) {
	index, ok := s.index(token)
	if !ok {
		var zero T
		return zero, false
	}
	return s.entries[index].value, true
}

func (s *Slab[T]) Contains(token int) bool {
	_, ok := s.index(token)
	return ok
}

// Remove frees token and returns the value it held.
func (s *Slab[T]) Remove(token int) (T, error) {
	index, ok := s.index(token)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %d", ErrNotFound, token)
	}

	v := s.entries[index].value
	s.entries[index] = entry[T]{}
	s.size--
	heap.Push(&s.free, index)
	return v, nil
}

// Range calls f for every live entry in token order until f returns false.
func (s *Slab[T]) Range(f func(token int, v T) bool) {
	for i, e := range s.entries {
		if !e.used {
			continue
		}
		if !f(i+s.offset, e.value) {
			return
		}
	}
}

func (s *Slab[T]) Len() int   { return s.size }
func (s *Slab[T]) Cap() int   { return s.capacity }
func (s *Slab[T]) Full() bool { return s.size >= s.capacity }

func (s *Slab[T]) index(token int) (int, bool) {
	index := token - s.offset
	if index < 0 || index >= len(s.entries) || !s.entries[index].used {
		return 0, false
	}
	return index, true
}

// freeList is a min-heap of released indices. Every index in it is below
// len(entries), so its minimum is always the lowest free slot.
type freeList []int

func (f freeList) Len() int            { return len(f) }
func (f freeList) Less(i, j int) bool  { return f[i] < f[j] }
func (f freeList) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *freeList) Push(x interface{}) { *f = append(*f, x.(int)) }

func (f *freeList) Pop() interface{} {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

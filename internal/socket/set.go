// Package socket implements the generic socket slot arena shared by
// the UDP, ICMP, and TCP socket sets: a fixed-capacity table of slots
// addressed by a small integer Handle (spec.md §3, §9 "socket slot
// table as arena + index"). This is a direct Go-generics port of
// original_source/.../socket.rs's SocketSet<T>.
package socket

import (
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// Handle is a dense index into a Set's slot table.
type Handle int

// Set is a fixed-capacity arena of T, addressed by Handle.
type Set[T any] struct {
	slots    []*T
	capacity int
}

// NewSet returns an empty Set with the given capacity.
func NewSet[T any](capacity int) *Set[T] {
	return &Set[T]{slots: make([]*T, capacity), capacity: capacity}
}

// Alloc stores socket in the first free slot and returns its handle.
func (s *Set[T]) Alloc(sock T) (Handle, error) {
	for i, slot := range s.slots {
		if slot == nil {
			v := sock
			s.slots[i] = &v
			return Handle(i), nil
		}
	}
	return 0, fmt.Errorf("socket set: %w", stackerr.ErrNoSocketAvailable)
}

// Free clears handle's slot. Freeing an already-empty slot, or an
// out-of-range handle, returns InvalidSocketIndex — per spec.md §4.5,
// a second free on the same handle is not idempotent.
func (s *Set[T]) Free(h Handle) error {
	if int(h) < 0 || int(h) >= s.capacity || s.slots[h] == nil {
		return fmt.Errorf("socket set: handle %d: %w", h, stackerr.ErrInvalidSocketIndex)
	}
	s.slots[h] = nil
	return nil
}

// Get returns a pointer to the socket at handle, or an error if the
// handle is out of range (InvalidSocketIndex) or the slot is empty
// (InvalidSocketState).
func (s *Set[T]) Get(h Handle) (*T, error) {
	if int(h) < 0 || int(h) >= s.capacity {
		return nil, fmt.Errorf("socket set: handle %d: %w", h, stackerr.ErrInvalidSocketIndex)
	}
	if s.slots[h] == nil {
		return nil, fmt.Errorf("socket set: handle %d: %w", h, stackerr.ErrInvalidSocketState)
	}
	return s.slots[h], nil
}

// ForEach invokes f for every occupied slot, in index order.
func (s *Set[T]) ForEach(f func(h Handle, sock *T)) {
	for i, slot := range s.slots {
		if slot != nil {
			f(Handle(i), slot)
		}
	}
}

// Len returns the number of occupied slots.
func (s *Set[T]) Len() int {
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	return n
}

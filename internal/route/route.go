// Package route implements the longest-prefix-match route table:
// up to 8 entries, selected by the greatest popcount among masks that
// match the destination (spec.md §4.4).
package route

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// capacity is the fixed number of route slots (spec.md §3).
const capacity = 8

// Entry is a single route: destination/mask, an optional gateway, and
// the egress device name.
type Entry struct {
	Dest    netaddr.Addr
	Mask    netaddr.Addr
	Gateway netaddr.Addr // next hop, used only when HasGateway is set; otherwise the next hop is the destination
	HasGateway bool
	Device  string
}

// Table is a constructable, fixed-capacity route table.
type Table struct {
	mu     sync.Mutex
	routes [capacity]*Entry
}

// NewTable returns an empty route table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts route into the first free slot.
func (t *Table) Add(route Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.routes {
		if t.routes[i] == nil {
			r := route
			t.routes[i] = &r
			return nil
		}
	}
	return fmt.Errorf("route table: %w", stackerr.ErrStorageFull)
}

// Lookup returns the entry with the greatest mask popcount among those
// matching dst, or false if none match.
func (t *Table) Lookup(dst netaddr.Addr) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *Entry
	for _, r := range t.routes {
		if r == nil {
			continue
		}
		if dst&r.Mask != r.Dest&r.Mask {
			continue
		}
		if best == nil || maskLen(r.Mask) > maskLen(best.Mask) {
			best = r
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

func maskLen(mask netaddr.Addr) int {
	return bits.OnesCount32(uint32(mask))
}

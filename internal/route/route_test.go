package route_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/route"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

func TestLookupChoosesLongestPrefix(t *testing.T) {
	t.Parallel()

	tbl := route.NewTable()
	if err := tbl.Add(route.Entry{
		Dest:   netaddr.AddrFromBytes(10, 0, 0, 0),
		Mask:   netaddr.AddrFromBytes(255, 0, 0, 0),
		Device: "eth0",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := tbl.Add(route.Entry{
		Dest:   netaddr.AddrFromBytes(10, 1, 0, 0),
		Mask:   netaddr.AddrFromBytes(255, 255, 0, 0),
		Device: "eth1",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	hit, ok := tbl.Lookup(netaddr.AddrFromBytes(10, 1, 2, 3))
	if !ok || hit.Device != "eth1" {
		t.Fatalf("Lookup(10.1.2.3) = %+v, %v, want eth1", hit, ok)
	}

	fallback, ok := tbl.Lookup(netaddr.AddrFromBytes(10, 2, 3, 4))
	if !ok || fallback.Device != "eth0" {
		t.Fatalf("Lookup(10.2.3.4) = %+v, %v, want eth0", fallback, ok)
	}
}

func TestAddFailsWhenFull(t *testing.T) {
	t.Parallel()

	tbl := route.NewTable()
	for i := 0; i < 8; i++ {
		if err := tbl.Add(route.Entry{
			Dest:   netaddr.AddrFromBytes(10, 0, 0, byte(i)),
			Mask:   netaddr.AddrFromBytes(255, 255, 255, 0),
			Device: "eth0",
		}); err != nil {
			t.Fatalf("Add() #%d error = %v", i, err)
		}
	}

	err := tbl.Add(route.Entry{
		Dest:   netaddr.AddrFromBytes(192, 168, 0, 0),
		Mask:   netaddr.AddrFromBytes(255, 255, 0, 0),
		Device: "eth1",
	})
	if !errors.Is(err, stackerr.ErrStorageFull) {
		t.Fatalf("Add() error = %v, want ErrStorageFull", err)
	}
}

func TestLookupNoMatch(t *testing.T) {
	t.Parallel()

	tbl := route.NewTable()
	if _, ok := tbl.Lookup(netaddr.AddrFromBytes(8, 8, 8, 8)); ok {
		t.Fatalf("Lookup() found a match in an empty table")
	}
}

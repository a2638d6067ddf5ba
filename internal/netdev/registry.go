package netdev

import (
	"fmt"
	"sync"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// Registry is a process-wide, constructable device table. spec.md's
// design notes ask for "global singletons with explicit init, state
// inside a single struct for testability" — Registry is that struct;
// stack.Stack owns one instance rather than relying on a package-level
// global, so unit tests can build a fresh registry per test.
type Registry struct {
	mu      sync.Mutex
	devices []*Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds device to the registry.
func (r *Registry) Register(device *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, device)
}

// WithMut runs f with exclusive access to the named device and returns
// nil, or ErrDeviceNotFound if no device has that name. f must not
// retain dev beyond the call.
func (r *Registry) WithMut(name string, f func(dev *Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.Name() == name {
			f(d)
			return nil
		}
	}
	return fmt.Errorf("device %s: %w", name, stackerr.ErrDeviceNotFound)
}

// ByName returns a clone of the named device.
func (r *Registry) ByName(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.Name() == name {
			return d.Clone(), true
		}
	}
	return nil, false
}

// ByIndex returns a clone of the device at index, in registration order.
func (r *Registry) ByIndex(index int) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.devices) {
		return nil, false
	}
	return r.devices[index].Clone(), true
}

// ForEach invokes f with a clone of every registered device.
func (r *Registry) ForEach(f func(dev *Device)) {
	r.mu.Lock()
	snapshot := make([]*Device, len(r.devices))
	for i, d := range r.devices {
		snapshot[i] = d.Clone()
	}
	r.mu.Unlock()
	for _, d := range snapshot {
		f(d)
	}
}

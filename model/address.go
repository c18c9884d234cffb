package model

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Slot is one materialized destination, e.g. a single platform message.
type Slot struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// Owner issues Addresses on behalf of one Sender. An Address must not be used
// once its Owner is closed.
type Owner struct {
	name   string
	closed atomic.Bool
}

func NewOwner(name string) *Owner {
	return &Owner{name: name}
}

func (o *Owner) Name() string {
	return o.name
}

// Close ends the owner's lifetime. It is safe to call more than once.
func (o *Owner) Close() {
	o.closed.Store(true)
}

func (o *Owner) Closed() bool {
	return o.closed.Load()
}

// NewAddress creates an Address holding the given slots.
func (o *Owner) NewAddress(slots ...Slot) *Address {
	if o.Closed() {
		panic(fmt.Sprintf("model: address allocated from closed sender %q", o.name))
	}
	return &Address{
		id:    uuid.NewString(),
		owner: o,
		slots: append([]Slot(nil), slots...),
	}
}

// Address is an opaque handle to one or more slots sharing a logical
// identity. Two Addresses are the same only if they are the same handle.
type Address struct {
	id    string
	owner *Owner

	mu    sync.RWMutex
	slots []Slot
}

func (a *Address) ID() string {
	return a.id
}

func (a *Address) Owner() *Owner {
	return a.owner
}

// Same reports identity equality.
func (a *Address) Same(other *Address) bool {
	if a == nil || other == nil {
		return false
	}
	return a.id == other.id
}

func (a *Address) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}

func (a *Address) Slots() []Slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Slot(nil), a.slots...)
}

func (a *Address) Slot(i int) Slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots[i]
}

// Last returns the trailing slot.
func (a *Address) Last() (Slot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.slots) == 0 {
		return Slot{}, false
	}
	return a.slots[len(a.slots)-1], true
}

// Contains reports whether slotID is one of the address slots.
func (a *Address) Contains(slotID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.slots {
		if s.ID == slotID {
			return true
		}
	}
	return false
}

// Append grows the address. Existing slots keep their identities.
func (a *Address) Append(owner *Owner, slots ...Slot) {
	a.MustBeOwnedBy(owner)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots = append(a.slots, slots...)
}

// MustBeOwnedBy panics when the address belongs to another sender or its
// sender has been closed.
func (a *Address) MustBeOwnedBy(owner *Owner) {
	if a.owner != owner {
		panic(fmt.Sprintf("model: address %s belongs to sender %q, not %q", a.id, a.owner.Name(), owner.Name()))
	}
	if a.owner.Closed() {
		panic(fmt.Sprintf("model: address %s used after sender %q was closed", a.id, a.owner.Name()))
	}
}

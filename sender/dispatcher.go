package sender

import (
	"context"
	"fmt"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-gather/metrics"
	"github.com/vultisig/vultisig-gather/model"
)

var logger = log.New("sender")

var _ Sender = (*Dispatcher)(nil)

// Dispatcher implements Sender over a Backend.
type Dispatcher struct {
	backend  Backend
	owner    *model.Owner
	location string

	mu     sync.RWMutex
	bySlot map[string]*model.Address
	// homes keeps the allocation location per address so that addresses
	// without slots still colocate their extensions.
	homes   map[string]string
	options map[string][]model.Option
}

// NewDispatcher returns a dispatcher allocating fresh addresses at location
// unless a hint says otherwise.
func NewDispatcher(backend Backend, location string) *Dispatcher {
	return &Dispatcher{
		backend:  backend,
		owner:    model.NewOwner(backend.Name()),
		location: location,
		bySlot:   make(map[string]*model.Address),
		homes:    make(map[string]string),
		options:  make(map[string][]model.Option),
	}
}

func (d *Dispatcher) Backend() Backend {
	return d.backend
}

func (d *Dispatcher) Send(ctx context.Context, s model.Sendable, addr *model.Address) (*model.Address, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("fail to send, err: %w", err)
	}
	parts, err := d.negotiate(s)
	if err != nil {
		return nil, err
	}
	if addr == nil {
		addr, err = d.GenerateAddress(ctx, nil, len(parts))
		if err != nil {
			return nil, err
		}
	} else {
		addr.MustBeOwnedBy(d.owner)
		if missing := len(parts) - addr.Len(); missing > 0 {
			if err := d.ExtendAddress(ctx, addr, missing); err != nil {
				return nil, err
			}
		}
	}
	if rw, ok := d.backend.(ReadyWaiter); ok {
		if err := rw.WaitReady(ctx); err != nil {
			return nil, fmt.Errorf("fail to wait for %s, err: %w", d.backend.Name(), err)
		}
	}
	for i, part := range parts {
		slot := addr.Slot(i)
		if err := d.backend.Render(ctx, slot, part); err != nil {
			metrics.Sends.WithLabelValues(d.backend.Name(), "error").Inc()
			return addr, fmt.Errorf("fail to render slot %s, err: %w", slot.ID, err)
		}
		metrics.Sends.WithLabelValues(d.backend.Name(), "ok").Inc()
		if o, ok := part.Options(); ok {
			d.mu.Lock()
			d.options[slot.ID] = o.Options
			d.mu.Unlock()
		}
	}
	return addr, nil
}

// negotiate returns the parts to render, one per slot.
func (d *Dispatcher) negotiate(s model.Sendable) ([]model.Sendable, error) {
	caps := s.Capabilities()
	if d.backend.Supports(caps) {
		return []model.Sendable{s}, nil
	}
	parts := s.Split()
	for _, part := range parts {
		if !d.backend.Supports(part.Capabilities()) {
			return nil, fmt.Errorf("fail to send %s via %s, err: %w", part.Capabilities(), d.backend.Name(), ErrUnsupported)
		}
	}
	logger.Warnf("%s cannot render %s in one slot, sending %d separate parts", d.backend.Name(), caps, len(parts))
	metrics.DegradedSends.WithLabelValues(d.backend.Name(), caps.String()).Inc()
	return parts, nil
}

func (d *Dispatcher) GenerateAddress(ctx context.Context, hint *model.Address, length int) (*model.Address, error) {
	location := d.location
	if hint != nil {
		hint.MustBeOwnedBy(d.owner)
		location = d.home(hint)
	}
	return d.GenerateAddressAt(ctx, location, length)
}

// GenerateAddressAt allocates length slots at an explicit location.
func (d *Dispatcher) GenerateAddressAt(ctx context.Context, location string, length int) (*model.Address, error) {
	if length < 0 {
		return nil, fmt.Errorf("invalid address length %d", length)
	}
	slots, err := d.allocate(ctx, location, length)
	if err != nil {
		return nil, err
	}
	addr := d.owner.NewAddress(slots...)
	d.mu.Lock()
	d.homes[addr.ID()] = location
	d.mu.Unlock()
	d.register(addr, slots)
	return addr, nil
}

func (d *Dispatcher) ExtendAddress(ctx context.Context, addr *model.Address, n int) error {
	addr.MustBeOwnedBy(d.owner)
	if n < 0 {
		return fmt.Errorf("invalid extension %d", n)
	}
	if n == 0 {
		return nil
	}
	slots, err := d.allocate(ctx, d.home(addr), n)
	if err != nil {
		return err
	}
	addr.Append(d.owner, slots...)
	d.register(addr, slots)
	return nil
}

func (d *Dispatcher) allocate(ctx context.Context, location string, n int) ([]model.Slot, error) {
	if n == 0 {
		return nil, nil
	}
	slots, err := d.backend.Allocate(ctx, location, n)
	if err != nil {
		return nil, fmt.Errorf("fail to allocate %d slots at %s, err: %w", n, location, err)
	}
	return slots, nil
}

// home is the location of addr's trailing slot, or where addr was allocated
// when it has none.
func (d *Dispatcher) home(addr *model.Address) string {
	if last, ok := addr.Last(); ok {
		return last.Location
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if location, ok := d.homes[addr.ID()]; ok {
		return location
	}
	return d.location
}

func (d *Dispatcher) register(addr *model.Address, slots []model.Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range slots {
		d.bySlot[s.ID] = addr
	}
}

// Lookup returns the Address a slot belongs to.
func (d *Dispatcher) Lookup(slotID string) (*model.Address, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.bySlot[slotID]
	return addr, ok
}

// Options returns the option list last rendered into a slot.
func (d *Dispatcher) Options(slotID string) []model.Option {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Option(nil), d.options[slotID]...)
}

func (d *Dispatcher) FormatParticipants(ids []model.ParticipantID) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, d.backend.FormatParticipant(id))
	}
	return JoinNames(names)
}

func (d *Dispatcher) FormatParticipantsMarkup(ids []model.ParticipantID) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, d.backend.FormatParticipantMarkup(id))
	}
	return JoinNames(names)
}

// Close ends the dispatcher's lifetime. Addresses it issued must not be
// used afterwards.
func (d *Dispatcher) Close() {
	d.owner.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySlot = make(map[string]*model.Address)
	d.homes = make(map[string]string)
	d.options = make(map[string][]model.Option)
}

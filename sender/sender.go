// Package sender turns Sendables into materialized platform messages.
//
// A Backend is the platform adapter: it knows which fragment combinations it
// renders natively, allocates slots and renders one Sendable into one slot.
// The Dispatcher implements Sender on top of any Backend and owns capability
// negotiation and Address bookkeeping.
package sender

import (
	"context"
	"errors"
	"strings"

	"github.com/vultisig/vultisig-gather/model"
)

var ErrUnsupported = errors.New("fragment not supported by backend")

// Sender is the dispatch boundary used by inputs and orchestrated runs.
type Sender interface {
	// Send renders s. A nil addr allocates a fresh Address; the returned
	// Address has at least one slot per part the backend had to render
	// separately.
	Send(ctx context.Context, s model.Sendable, addr *model.Address) (*model.Address, error)
	// GenerateAddress allocates length slots next to hint's trailing slot.
	GenerateAddress(ctx context.Context, hint *model.Address, length int) (*model.Address, error)
	// ExtendAddress appends n slots to addr.
	ExtendAddress(ctx context.Context, addr *model.Address, n int) error
	FormatParticipants(ids []model.ParticipantID) string
	FormatParticipantsMarkup(ids []model.ParticipantID) string
}

// Backend is implemented by platform adapters.
type Backend interface {
	Name() string
	// Supports reports whether the combination c renders into a single slot.
	Supports(c model.Capability) bool
	Allocate(ctx context.Context, location string, n int) ([]model.Slot, error)
	Render(ctx context.Context, slot model.Slot, s model.Sendable) error
	FormatParticipant(id model.ParticipantID) string
	FormatParticipantMarkup(id model.ParticipantID) string
}

// ReadyWaiter is implemented by backends that may not accept sends yet, for
// example while a gateway connection is being established. WaitReady blocks
// until sends are possible or ctx ends.
type ReadyWaiter interface {
	WaitReady(ctx context.Context) error
}

// JoinNames renders "a", "a and b" or "a, b and c".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

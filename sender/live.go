package sender

import (
	"context"
	"sync"

	"github.com/vultisig/vultisig-gather/model"
)

// LiveMessage is a message created once and re-rendered in place. An update
// whose content is unchanged is not sent.
type LiveMessage struct {
	sender Sender

	mu   sync.Mutex
	addr *model.Address
	last string
}

// NewLiveMessage renders into addr, or into a fresh address on first update
// when addr is nil.
func NewLiveMessage(s Sender, addr *model.Address) *LiveMessage {
	return &LiveMessage{sender: s, addr: addr}
}

// Update renders content and reports whether a send happened.
func (m *LiveMessage) Update(ctx context.Context, content model.Sendable) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fingerprint := content.Fingerprint()
	if m.last != "" && fingerprint == m.last {
		return false, nil
	}
	addr, err := m.sender.Send(ctx, content, m.addr)
	if err != nil {
		return false, err
	}
	m.addr = addr
	m.last = fingerprint
	return true, nil
}

func (m *LiveMessage) Address() *model.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Package interaction routes normalized interactions from platform adapters
// to the inputs subscribed to them.
package interaction

import (
	"context"
	"sort"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-gather/metrics"
	"github.com/vultisig/vultisig-gather/model"
)

var logger = log.New("interaction")

// Handler consumes an interaction that passed the subscription filters.
type Handler func(ctx context.Context, i model.Interaction)

// Registry is the subscription registry adapters push interactions into.
// Pushes are delivered one at a time in push order.
type Registry struct {
	deliver sync.Mutex

	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]*Subscription)}
}

type Subscription struct {
	id       uint64
	registry *Registry
	handler  Handler
	filters  []Filter
	once     sync.Once
}

// Subscribe registers h for interactions passing every filter.
func (r *Registry) Subscribe(h Handler, filters ...Filter) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	sub := &Subscription{id: r.next, registry: r, handler: h, filters: filters}
	r.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.mu.Lock()
		defer s.registry.mu.Unlock()
		delete(s.registry.subs, s.id)
	})
}

func (s *Subscription) accepts(i model.Interaction) bool {
	for _, f := range s.filters {
		if !f(i) {
			return false
		}
	}
	return true
}

// Push delivers i to every matching subscriber, in subscription order, and
// returns how many received it. Malformed interactions are dropped. Handlers
// must not call Push.
func (r *Registry) Push(ctx context.Context, i model.Interaction) int {
	if err := i.Validate(); err != nil {
		logger.Debugf("dropping interaction: %s", err)
		metrics.Interactions.WithLabelValues("malformed").Inc()
		return 0
	}
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	sort.Slice(subs, func(a, b int) bool { return subs[a].id < subs[b].id })

	delivered := 0
	for _, s := range subs {
		if !s.accepts(i) {
			continue
		}
		s.handler(ctx, i)
		delivered++
	}
	if delivered == 0 {
		logger.Debugf("no subscriber for %s", i.Describe())
		metrics.Interactions.WithLabelValues("unrouted").Inc()
	} else {
		metrics.Interactions.WithLabelValues("routed").Inc()
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

package input

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/vultisig/vultisig-gather/model"
)

// Responses maps each participant of an input to its last submitted value.
// Validity is computed by the validator on every query and never cached.
type Responses[V any] struct {
	validator Validator[V]
	order     []model.ParticipantID
	// members is fixed at construction and read without locking.
	members map[model.ParticipantID]struct{}

	mu     sync.RWMutex
	values map[model.ParticipantID]*V
}

// NewResponses panics when participants contains a duplicate. A nil validator
// accepts any present value.
func NewResponses[V any](participants []model.ParticipantID, validator Validator[V]) *Responses[V] {
	if validator == nil {
		validator = NotAbsent[V]
	}
	values := make(map[model.ParticipantID]*V, len(participants))
	members := make(map[model.ParticipantID]struct{}, len(participants))
	order := make([]model.ParticipantID, 0, len(participants))
	for _, p := range participants {
		if _, ok := members[p]; ok {
			panic(fmt.Sprintf("duplicate participant %s", p))
		}
		members[p] = struct{}{}
		values[p] = nil
		order = append(order, p)
	}
	return &Responses[V]{validator: validator, order: order, members: members, values: values}
}

func (r *Responses[V]) Participants() []model.ParticipantID {
	return append([]model.ParticipantID(nil), r.order...)
}

func (r *Responses[V]) IsMember(p model.ParticipantID) bool {
	_, ok := r.members[p]
	return ok
}

// Set records v for p and reports whether the stored state changed.
// Resubmitting an equal value is a no-op. Set panics for non-members.
func (r *Responses[V]) Set(p model.ParticipantID, v V) bool {
	r.mustBeMember(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.values[p]; old != nil && reflect.DeepEqual(*old, v) {
		return false
	}
	r.values[p] = &v
	return true
}

// Clear marks p as absent and reports whether a value was removed.
func (r *Responses[V]) Clear(p model.ParticipantID) bool {
	r.mustBeMember(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values[p] == nil {
		return false
	}
	r.values[p] = nil
	return true
}

func (r *Responses[V]) Get(p model.ParticipantID) (V, bool) {
	var zero V
	v := r.load(p)
	if v == nil {
		return zero, false
	}
	return *v, true
}

func (r *Responses[V]) DidRespond(p model.ParticipantID) bool {
	return r.load(p) != nil
}

func (r *Responses[V]) DidRespondValid(p model.ParticipantID) bool {
	valid, _ := r.Validity(p)
	return valid
}

// Validity runs the validator for p's current value.
func (r *Responses[V]) Validity(p model.ParticipantID) (bool, string) {
	return r.validator(p, r.load(p))
}

// ValidResponses returns the values the validator currently accepts.
func (r *Responses[V]) ValidResponses() map[model.ParticipantID]V {
	out := make(map[model.ParticipantID]V)
	for _, p := range r.order {
		v := r.load(p)
		if v == nil {
			continue
		}
		if ok, _ := r.validator(p, v); ok {
			out[p] = *v
		}
	}
	return out
}

func (r *Responses[V]) AllValid() bool {
	for _, p := range r.order {
		if !r.DidRespondValid(p) {
			return false
		}
	}
	return true
}

func (r *Responses[V]) AllResponded() bool {
	for _, p := range r.order {
		if !r.DidRespond(p) {
			return false
		}
	}
	return true
}

// Pending lists participants without a valid response, in participant order.
func (r *Responses[V]) Pending() []model.ParticipantID {
	var out []model.ParticipantID
	for _, p := range r.order {
		if !r.DidRespondValid(p) {
			out = append(out, p)
		}
	}
	return out
}

// Responded lists participants with any response, valid or not.
func (r *Responses[V]) Responded() []model.ParticipantID {
	var out []model.ParticipantID
	for _, p := range r.order {
		if r.DidRespond(p) {
			out = append(out, p)
		}
	}
	return out
}

// Feedback returns the non-empty validator feedback per participant.
func (r *Responses[V]) Feedback() map[model.ParticipantID]string {
	out := make(map[model.ParticipantID]string)
	for _, p := range r.order {
		if _, msg := r.Validity(p); msg != "" {
			out[p] = msg
		}
	}
	return out
}

// Reset clears every response.
func (r *Responses[V]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.values {
		r.values[p] = nil
	}
}

// load returns a copy so the validator never runs under the lock.
func (r *Responses[V]) load(p model.ParticipantID) *V {
	r.mustBeMember(p)
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.values[p]
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (r *Responses[V]) mustBeMember(p model.ParticipantID) {
	if !r.IsMember(p) {
		panic(fmt.Sprintf("%s is not a participant", p))
	}
}

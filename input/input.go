// Package input collects responses from a fixed set of participants to one
// prompt.
//
// An Input moves through Constructed, Active, Done and Unsubscribed in that
// order. Completion is detected by polling the criteria at a fixed interval.
package input

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-gather/interaction"
	"github.com/vultisig/vultisig-gather/metrics"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
)

var logger = log.New("input")

const DefaultPollInterval = 5 * time.Second

var ErrInvalidState = errors.New("invalid input state")

type State int

const (
	Constructed State = iota
	Active
	Done
	Unsubscribed
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Active:
		return "active"
	case Done:
		return "done"
	case Unsubscribed:
		return "unsubscribed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reason records why an input reached Done.
type Reason int

const (
	NotFinished Reason = iota
	Completed
	TimedOut
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case NotFinished:
		return "not_finished"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Unit is the type-erased view of an Input used by orchestrated runs.
type Unit interface {
	Name() string
	Setup(ctx context.Context) error
	Wait(ctx context.Context) error
	Unsetup(ctx context.Context) error
	IsDone() bool
	Finished() bool
	Cancel()
	Refresh(ctx context.Context) error
	// OnUpdate registers hook and returns a func that removes it.
	OnUpdate(hook func(ctx context.Context)) (remove func())
	StatusLine() string
}

var _ Unit = (*Input[string])(nil)

type Config[V any] struct {
	ID           string
	Participants []model.ParticipantID
	Validator    Validator[V]
	// Criteria defaults to AllValid.
	Criteria Criteria[V]
	Convert  Converter[V]
	// Address binds the input to interactions on one message. Nil accepts any.
	Address    *model.Address
	AllowEdits bool
	// Resolve maps the interacting member to the participant it answers for,
	// for example a player to their team. ok false rejects the interaction.
	Resolve        func(member model.ParticipantID) (participant model.ParticipantID, ok bool)
	StatusDisplays []StatusDisplay
	// Status renders the one-line status used in aggregate feedback.
	Status func(r *Responses[V]) string
	// Sender and NoticeAddress receive warnings and the timeout notice.
	Sender        sender.Sender
	NoticeAddress *model.Address
	Timeout       time.Duration
	// Warnings are offsets measured back from the deadline and fire largest
	// first: {12h, 4h, 1h} with a 24h Timeout warns at 12h, 20h and 23h
	// elapsed. Offsets outside (0, Timeout) are dropped.
	Warnings     []time.Duration
	PollInterval time.Duration
	OnWarning    func(ctx context.Context, w Warning)
}

type Input[V any] struct {
	cfg       Config[V]
	registry  *interaction.Registry
	responses *Responses[V]

	hookMu   sync.RWMutex
	hooks    []updateHook
	nextHook uint64

	mu       sync.Mutex
	state    State
	reason   Reason
	sub      *interaction.Subscription
	deadline time.Time
	stop     chan struct{}
	stopOnce *sync.Once
	expired  chan struct{}
	timers   sync.WaitGroup
	cancel   context.CancelFunc
}

// New panics when cfg has no converter or lists a participant twice.
func New[V any](registry *interaction.Registry, cfg Config[V]) *Input[V] {
	if cfg.Convert == nil {
		panic("input requires a converter")
	}
	if cfg.Criteria == nil {
		cfg.Criteria = AllValid[V]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ID == "" {
		cfg.ID = "input"
	}
	in := &Input[V]{
		cfg:       cfg,
		registry:  registry,
		responses: NewResponses(cfg.Participants, cfg.Validator),
	}
	in.rearm()
	return in
}

func (in *Input[V]) rearm() {
	in.stop = make(chan struct{})
	in.stopOnce = &sync.Once{}
	in.expired = make(chan struct{})
}

func (in *Input[V]) Name() string {
	return in.cfg.ID
}

func (in *Input[V]) Responses() *Responses[V] {
	return in.responses
}

func (in *Input[V]) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Input[V]) Reason() Reason {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.reason
}

// Deadline is zero when the input has no timeout or was not set up.
func (in *Input[V]) Deadline() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.deadline
}

// Setup subscribes the input to interactions and starts its timeout task.
func (in *Input[V]) Setup(ctx context.Context) error {
	in.mu.Lock()
	if in.state != Constructed {
		state := in.state
		in.mu.Unlock()
		return fmt.Errorf("fail to setup input %s, err: %w (%s)", in.cfg.ID, ErrInvalidState, state)
	}
	in.state = Active
	in.sub = in.registry.Subscribe(in.handle, interaction.AddressedTo(in.cfg.Address))
	if in.cfg.Timeout > 0 {
		start := time.Now()
		deadline, expired := start.Add(in.cfg.Timeout), in.expired
		in.deadline = deadline
		timerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		in.cancel = cancel
		select {
		case <-in.stop:
			cancel()
		default:
		}
		in.timers.Add(1)
		go func() {
			defer in.timers.Done()
			in.watchDeadline(timerCtx, deadline, expired)
		}()
	}
	in.mu.Unlock()

	metrics.InputsActive.Inc()
	logger.Infof("input %s active for %d participants", in.cfg.ID, len(in.cfg.Participants))
	if err := in.Refresh(ctx); err != nil {
		return fmt.Errorf("fail to render status of input %s, err: %w", in.cfg.ID, err)
	}
	return nil
}

// Wait polls the criteria until they hold, the deadline passes, the input is
// cancelled or ctx ends. Only the last returns an error.
func (in *Input[V]) Wait(ctx context.Context) error {
	in.mu.Lock()
	state, stop, expired := in.state, in.stop, in.expired
	in.mu.Unlock()
	switch state {
	case Active:
	case Done, Unsubscribed:
		return nil
	default:
		return fmt.Errorf("fail to wait for input %s, err: %w (%s)", in.cfg.ID, ErrInvalidState, state)
	}

	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if in.IsDone() {
			in.finish(Completed)
			return nil
		}
		select {
		case <-ctx.Done():
			in.finish(Cancelled)
			return ctx.Err()
		case <-stop:
			if in.IsDone() {
				in.finish(Completed)
			} else {
				in.finish(Cancelled)
			}
			return nil
		case <-expired:
			in.finish(TimedOut)
			return nil
		case <-ticker.C:
		}
	}
}

func (in *Input[V]) finish(reason Reason) {
	in.mu.Lock()
	if in.state != Active {
		in.mu.Unlock()
		return
	}
	in.state = Done
	in.reason = reason
	in.mu.Unlock()
	metrics.InputsFinished.WithLabelValues(reason.String()).Inc()
	logger.Infof("input %s done: %s", in.cfg.ID, reason)
}

// Unsetup stops the timeout task and unsubscribes. An input still active is
// first marked done as cancelled.
func (in *Input[V]) Unsetup(ctx context.Context) error {
	in.mu.Lock()
	state := in.state
	in.mu.Unlock()
	switch state {
	case Constructed:
		return fmt.Errorf("fail to unsetup input %s, err: %w (%s)", in.cfg.ID, ErrInvalidState, state)
	case Unsubscribed:
		return nil
	case Active:
		in.finish(Cancelled)
	}
	in.Cancel()
	in.timers.Wait()

	in.mu.Lock()
	if in.state != Done {
		in.mu.Unlock()
		return nil
	}
	in.state = Unsubscribed
	sub := in.sub
	in.sub = nil
	in.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	metrics.InputsActive.Dec()
	return in.Refresh(ctx)
}

// Run sets up, waits and unsets up. Unsetup runs even when Wait fails.
func (in *Input[V]) Run(ctx context.Context) error {
	if err := in.Setup(ctx); err != nil {
		if in.State() == Active {
			_ = in.Unsetup(context.WithoutCancel(ctx))
		}
		return err
	}
	waitErr := in.Wait(ctx)
	if err := in.Unsetup(context.WithoutCancel(ctx)); err != nil && waitErr == nil {
		return err
	}
	return waitErr
}

// Cancel stops waiting and any pending warnings. Safe to call repeatedly and
// after the input finished.
func (in *Input[V]) Cancel() {
	in.mu.Lock()
	once, stop, cancel := in.stopOnce, in.stop, in.cancel
	in.mu.Unlock()
	once.Do(func() {
		close(stop)
		if cancel != nil {
			cancel()
		}
	})
}

// Reset makes an unsubscribed input reusable with empty responses.
func (in *Input[V]) Reset() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != Unsubscribed {
		return fmt.Errorf("fail to reset input %s, err: %w (%s)", in.cfg.ID, ErrInvalidState, in.state)
	}
	in.responses.Reset()
	in.state = Constructed
	in.reason = NotFinished
	in.deadline = time.Time{}
	in.cancel = nil
	in.rearm()
	return nil
}

// IsDone evaluates the criteria against the live responses.
func (in *Input[V]) IsDone() bool {
	return in.cfg.Criteria(in.responses)
}

// Finished reports whether the input left the active state.
func (in *Input[V]) Finished() bool {
	return in.State() >= Done
}

func (in *Input[V]) TimedOut() bool {
	return in.Reason() == TimedOut
}

// Outcome reports the final validity per participant.
func (in *Input[V]) Outcome() map[model.ParticipantID]bool {
	out := make(map[model.ParticipantID]bool, len(in.cfg.Participants))
	for _, p := range in.responses.Participants() {
		out[p] = in.responses.DidRespondValid(p)
	}
	return out
}

type updateHook struct {
	id uint64
	fn func(ctx context.Context)
}

// OnUpdate registers a hook run after every accepted interaction. The
// returned func removes it and is safe to call more than once.
func (in *Input[V]) OnUpdate(hook func(ctx context.Context)) func() {
	in.hookMu.Lock()
	defer in.hookMu.Unlock()
	in.nextHook++
	id := in.nextHook
	in.hooks = append(in.hooks, updateHook{id: id, fn: hook})
	return func() {
		in.hookMu.Lock()
		defer in.hookMu.Unlock()
		in.hooks = slices.DeleteFunc(in.hooks, func(h updateHook) bool { return h.id == id })
	}
}

func (in *Input[V]) handle(ctx context.Context, i model.Interaction) {
	if _, err := in.OnInteract(ctx, i); err != nil {
		logger.Errorf("input %s: %s", in.cfg.ID, err)
	}
}

// OnInteract applies i when it passes the input's filter and reports whether
// it was applied. The error comes from status displays.
func (in *Input[V]) OnInteract(ctx context.Context, i model.Interaction) (bool, error) {
	if in.State() != Active {
		return false, nil
	}
	if in.cfg.Address != nil && !in.cfg.Address.Same(i.Address) {
		return false, nil
	}
	v, ok := in.cfg.Convert(i.Content)
	if !ok {
		logger.Debugf("input %s ignores %s", in.cfg.ID, i.Describe())
		return false, nil
	}
	p, ok := in.resolve(i.Participant)
	if !ok {
		return false, nil
	}
	if !in.cfg.AllowEdits && in.responses.DidRespondValid(p) {
		return false, nil
	}
	if !in.responses.Set(p, v) {
		return false, nil
	}
	logger.Debugf("input %s: %s", in.cfg.ID, i.Describe())

	in.hookMu.RLock()
	hooks := slices.Clone(in.hooks)
	in.hookMu.RUnlock()
	for _, hook := range hooks {
		hook.fn(ctx)
	}
	return true, in.Refresh(ctx)
}

func (in *Input[V]) resolve(member model.ParticipantID) (model.ParticipantID, bool) {
	p := member
	if in.cfg.Resolve != nil {
		var ok bool
		if p, ok = in.cfg.Resolve(member); !ok {
			return "", false
		}
	}
	return p, in.responses.IsMember(p)
}

// StatusLine describes who the input is still waiting for.
func (in *Input[V]) StatusLine() string {
	if in.cfg.Status != nil {
		return in.cfg.Status(in.responses)
	}
	pending := in.responses.Pending()
	if len(pending) == 0 {
		return fmt.Sprintf("%s: all set", in.cfg.ID)
	}
	return fmt.Sprintf("%s: waiting for %s", in.cfg.ID, in.formatParticipants(pending))
}

func (in *Input[V]) formatParticipants(ids []model.ParticipantID) string {
	if in.cfg.Sender != nil {
		return in.cfg.Sender.FormatParticipants(ids)
	}
	return sender.JoinNames(model.Strings(ids))
}

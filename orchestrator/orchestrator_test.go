package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vultisig/vultisig-gather/input"
	"github.com/vultisig/vultisig-gather/interaction"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
)

type fakeUnit struct {
	name     string
	done     atomic.Bool
	finished atomic.Bool
	stop     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	hooks     map[int]func(context.Context)
	nextHook  int
	refreshes int
	setups    int
	unsetups  int
	setupErr  error
}

func newFake(name string) *fakeUnit {
	return &fakeUnit{name: name, stop: make(chan struct{})}
}

func (f *fakeUnit) Name() string { return f.name }

func (f *fakeUnit) Setup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setupErr != nil {
		return f.setupErr
	}
	f.setups++
	return nil
}

func (f *fakeUnit) Wait(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	defer f.finished.Store(true)
	for {
		if f.done.Load() {
			return nil
		}
		select {
		case <-f.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *fakeUnit) Unsetup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setups == 0 {
		return input.ErrInvalidState
	}
	f.unsetups++
	return nil
}

func (f *fakeUnit) IsDone() bool   { return f.done.Load() }
func (f *fakeUnit) Finished() bool { return f.finished.Load() }
func (f *fakeUnit) Cancel()        { f.once.Do(func() { close(f.stop) }) }

func (f *fakeUnit) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeUnit) OnUpdate(hook func(context.Context)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hooks == nil {
		f.hooks = make(map[int]func(context.Context))
	}
	f.nextHook++
	id := f.nextHook
	f.hooks[id] = hook
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.hooks, id)
	}
}

func (f *fakeUnit) hookCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hooks)
}

func (f *fakeUnit) StatusLine() string { return f.name + ": waiting" }

func (f *fakeUnit) update(ctx context.Context) {
	f.mu.Lock()
	hooks := make([]func(context.Context), 0, len(f.hooks))
	for _, h := range f.hooks {
		hooks = append(hooks, h)
	}
	f.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

func (f *fakeUnit) counts() (setups, unsetups, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setups, f.unsetups, f.refreshes
}

type recordingSender struct {
	owner *model.Owner
	err   error

	mu    sync.Mutex
	texts []string
}

var _ sender.Sender = (*recordingSender)(nil)

func newRecordingSender() *recordingSender {
	return &recordingSender{owner: model.NewOwner("recording")}
}

func (s *recordingSender) Send(_ context.Context, content model.Sendable, addr *model.Address) (*model.Address, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr == nil {
		addr = s.owner.NewAddress(model.Slot{ID: "status"})
	}
	text, _ := content.Text()
	s.texts = append(s.texts, text)
	return addr, nil
}

func (s *recordingSender) GenerateAddress(_ context.Context, _ *model.Address, length int) (*model.Address, error) {
	return s.owner.NewAddress(make([]model.Slot, length)...), nil
}

func (s *recordingSender) ExtendAddress(_ context.Context, addr *model.Address, n int) error {
	addr.Append(s.owner, make([]model.Slot, n)...)
	return nil
}

func (s *recordingSender) FormatParticipants(ids []model.ParticipantID) string {
	return sender.JoinNames(model.Strings(ids))
}

func (s *recordingSender) FormatParticipantsMarkup(ids []model.ParticipantID) string {
	return s.FormatParticipants(ids)
}

func (s *recordingSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func fastOptions() Options {
	return Options{PollInterval: 2 * time.Millisecond, Grace: -1}
}

func TestCompletionSetIsExact(t *testing.T) {
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	a.done.Store(true)
	b.done.Store(true)
	c.done.Store(true)
	opts := fastOptions()
	opts.CompletionSets = [][]input.Unit{{a, b}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, []input.Unit{a, b, c}, opts)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("superset of a completion set must not complete, got %v", err)
	}
	for _, f := range []*fakeUnit{a, b, c} {
		if _, unsetups, _ := f.counts(); unsetups != 1 {
			t.Fatalf("%s: expected unsetup after cancellation", f.name)
		}
	}
}

func TestCompletionSetMatches(t *testing.T) {
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	a.done.Store(true)
	b.done.Store(true)
	opts := fastOptions()
	opts.CompletionSets = [][]input.Unit{{a, b}, {a, b, c}}

	res, err := Run(context.Background(), []input.Unit{a, b, c}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matched) != 2 || res.Matched[0] != a || res.Matched[1] != b {
		t.Fatalf("unexpected match %v", res.Matched)
	}
	if !c.Finished() {
		t.Fatal("monitors must be cancelled on completion")
	}
}

func TestContractErrors(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	if _, err := Run(context.Background(), []input.Unit{a, a}, fastOptions()); !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	opts := fastOptions()
	opts.CompletionSets = [][]input.Unit{{b}}
	if _, err := Run(context.Background(), []input.Unit{a}, opts); !errors.Is(err, ErrUnknownInput) {
		t.Fatalf("expected unknown input error, got %v", err)
	}
	if _, err := Run(context.Background(), nil, opts); !errors.Is(err, ErrNoInputs) {
		t.Fatalf("expected no inputs error, got %v", err)
	}
	if setups, _, _ := a.counts(); setups != 0 {
		t.Fatal("contract errors must be reported before setup")
	}
}

func TestSetupFailureTearsDown(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	b.setupErr = errors.New("boom")
	_, err := Run(context.Background(), []input.Unit{a, b}, fastOptions())
	if err == nil {
		t.Fatal("expected setup error")
	}
	if _, unsetups, _ := a.counts(); unsetups != 1 {
		t.Fatal("inputs set up before the failure must be unset")
	}
	for _, f := range []*fakeUnit{a, b} {
		if n := f.hookCount(); n != 0 {
			t.Fatalf("%s: %d update hooks left after a failed run", f.name, n)
		}
	}
}

func TestRunRemovesUpdateHooks(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	a.done.Store(true)
	b.done.Store(true)
	if _, err := Run(context.Background(), []input.Unit{a, b}, fastOptions()); err != nil {
		t.Fatal(err)
	}
	for _, f := range []*fakeUnit{a, b} {
		if n := f.hookCount(); n != 0 {
			t.Fatalf("%s: %d update hooks left after the run", f.name, n)
		}
	}
}

func TestResetInputDoesNotFeedPreviousRun(t *testing.T) {
	registry := interaction.NewRegistry()
	addr := model.NewOwner("test").NewAddress(model.Slot{ID: "q"})
	in := input.New(registry, input.Config[string]{
		ID:           "ready",
		Participants: model.ParticipantIDs("ann", "bo"),
		Validator:    input.NotAbsent[string],
		Convert:      input.Texts,
		Address:      addr,
		PollInterval: time.Millisecond,
	})
	ctx := context.Background()
	push := func(p, text string) {
		registry.Push(ctx, model.Interaction{Participant: model.ParticipantID(p), Address: addr, Content: model.FreeText{Text: text}})
	}

	first := newRecordingSender()
	opts := fastOptions()
	opts.Sender = first
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, []input.Unit{in}, opts)
		done <- err
	}()
	waitFor(t, func() bool { return in.State() == input.Active })
	push("ann", "ready")
	push("bo", "ready")
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := in.Reset(); err != nil {
		t.Fatal(err)
	}
	sent := len(first.Texts())

	go func() {
		_, err := Run(ctx, []input.Unit{in}, fastOptions())
		done <- err
	}()
	waitFor(t, func() bool { return in.State() == input.Active })
	push("ann", "again")
	push("bo", "again")
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := first.Texts(); len(got) != sent {
		t.Fatalf("the first run's status was re-rendered by the second run: %q", got[sent:])
	}
}

func TestSyncVeto(t *testing.T) {
	a := newFake("a")
	a.done.Store(true)
	var calls, vetoes int
	opts := fastOptions()
	opts.ID = "session"
	opts.Sync = func(_ context.Context, id string, local bool) (bool, error) {
		if id != "session" {
			t.Errorf("unexpected id %q", id)
		}
		calls++
		if local && vetoes < 3 {
			vetoes++
			return false, nil
		}
		return local, nil
	}
	if _, err := Run(context.Background(), []input.Unit{a}, opts); err != nil {
		t.Fatal(err)
	}
	if calls != 4 {
		t.Fatalf("expected 3 vetoes then agreement, got %d calls", calls)
	}
}

func TestSyncError(t *testing.T) {
	a := newFake("a")
	opts := fastOptions()
	opts.Sync = func(context.Context, string, bool) (bool, error) {
		return false, errors.New("unreachable")
	}
	if _, err := Run(context.Background(), []input.Unit{a}, opts); err == nil {
		t.Fatal("expected sync error")
	}
}

func TestCodependentRefresh(t *testing.T) {
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	opts := fastOptions()
	opts.Codependent = true

	errc := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), []input.Unit{a, b, c}, opts)
		errc <- err
	}()
	waitFor(t, func() bool {
		s, _, _ := c.counts()
		return s == 1
	})
	time.Sleep(5 * time.Millisecond)
	a.update(context.Background())

	for _, f := range []*fakeUnit{a, b, c} {
		f.done.Store(true)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if _, _, r := a.counts(); r != 0 {
		t.Fatalf("the updated input must not refresh itself, got %d", r)
	}
	for _, f := range []*fakeUnit{b, c} {
		if _, _, r := f.counts(); r != 1 {
			t.Fatalf("%s: expected one refresh, got %d", f.name, r)
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	s := newRecordingSender()
	opts := fastOptions()
	opts.Sender = s

	errc := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), []input.Unit{a, b}, opts)
		errc <- err
	}()
	waitFor(t, func() bool { return len(s.Texts()) == 1 })
	a.update(context.Background())
	a.done.Store(true)
	waitFor(t, func() bool { return len(s.Texts()) == 2 })
	b.done.Store(true)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	want := []string{"a: waiting\nb: waiting", "b: waiting", "All done!"}
	got := s.Texts()
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("render %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSenderErrorPropagates(t *testing.T) {
	a := newFake("a")
	s := newRecordingSender()
	s.err = errors.New("transport down")
	opts := fastOptions()
	opts.Sender = s
	_, err := Run(context.Background(), []input.Unit{a}, opts)
	if err == nil || !errors.Is(err, s.err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestThreeParticipantScenario(t *testing.T) {
	registry := interaction.NewRegistry()
	addr := model.NewOwner("test").NewAddress(model.Slot{ID: "q"})
	in := input.New(registry, input.Config[string]{
		ID:           "ready",
		Participants: model.ParticipantIDs("ann", "bo", "cy"),
		Validator:    input.NotAbsent[string],
		Convert:      input.Texts,
		Address:      addr,
		PollInterval: time.Hour,
	})
	const poll = 20 * time.Millisecond
	opts := Options{PollInterval: poll, Grace: -1}

	type outcome struct {
		res Result
		err error
		at  time.Time
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := Run(context.Background(), []input.Unit{in}, opts)
		done <- outcome{res, err, time.Now()}
	}()
	waitFor(t, func() bool { return in.State() == input.Active })

	ctx := context.Background()
	push := func(p string) {
		registry.Push(ctx, model.Interaction{Participant: model.ParticipantID(p), Address: addr, Content: model.FreeText{Text: "ready"}})
	}
	push("ann")
	push("bo")
	select {
	case <-done:
		t.Fatal("completed with a participant missing")
	case <-time.After(3 * poll):
	}
	push("cy")
	last := time.Now()
	o := <-done
	if o.err != nil {
		t.Fatal(o.err)
	}
	if elapsed := o.at.Sub(last); elapsed > poll+15*time.Millisecond {
		t.Fatalf("completion took %s, expected within one poll interval", elapsed)
	}
	if len(o.res.Matched) != 1 || in.State() != input.Unsubscribed {
		t.Fatalf("unexpected result %+v, state %s", o.res, in.State())
	}
	if !in.Responses().AllValid() {
		t.Fatal("responses must survive teardown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

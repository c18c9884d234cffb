// Package orchestrator runs several inputs concurrently and decides when the
// whole run is complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/vultisig-gather/input"
	"github.com/vultisig/vultisig-gather/metrics"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
)

var logger = log.New("orchestrator")

const (
	DefaultPollInterval = 5 * time.Second
	DefaultGrace        = time.Second
)

var (
	ErrUnknownInput   = errors.New("completion set names an unknown input")
	ErrDuplicateInput = errors.New("input listed twice")
	ErrNoInputs       = errors.New("no inputs")
)

// SyncFunc may veto a locally complete run, for example until every group
// of a distributed session is ready. It must be monotonic per id.
type SyncFunc func(ctx context.Context, id string, local bool) (bool, error)

type Options struct {
	// CompletionSets defaults to the single set of all inputs. The run is
	// complete when the finished inputs are exactly one of the sets.
	CompletionSets [][]input.Unit
	// Sender receives one aggregate status message, re-rendered on updates.
	Sender sender.Sender
	// Location hints where the aggregate message is allocated.
	Location *model.Address
	// Codependent runs refresh every other input when one input changes.
	Codependent  bool
	ID           string
	Sync         SyncFunc
	PollInterval time.Duration
	// Grace is waited after completion before unsetup. Negative disables it.
	Grace time.Duration
}

type Result struct {
	// Matched is the completion set that ended the run. It is nil when the
	// sync hook ended the run without a local match.
	Matched  []input.Unit
	Finished []input.Unit
	Duration time.Duration
}

type run struct {
	inputs []input.Unit
	sets   []map[input.Unit]struct{}
	opts   Options

	aggregate *sender.LiveMessage
	aggMu     sync.Mutex
	failOnce  sync.Once
	failed    chan error
	synced    bool
}

// Run sets up every input, waits for a completion set and tears down.
// Sender errors abort the run and are returned.
func Run(ctx context.Context, inputs []input.Unit, opts Options) (Result, error) {
	r, err := newRun(inputs, opts)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	res, err := r.execute(ctx)
	res.Duration = time.Since(start)
	metrics.RunDuration.Observe(res.Duration.Seconds())
	return res, err
}

func newRun(inputs []input.Unit, opts Options) (*run, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	known := make(map[input.Unit]struct{}, len(inputs))
	for _, in := range inputs {
		if _, ok := known[in]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInput, in.Name())
		}
		known[in] = struct{}{}
	}
	if len(opts.CompletionSets) == 0 {
		opts.CompletionSets = [][]input.Unit{inputs}
	}
	sets := make([]map[input.Unit]struct{}, 0, len(opts.CompletionSets))
	for _, set := range opts.CompletionSets {
		m := make(map[input.Unit]struct{}, len(set))
		for _, in := range set {
			if _, ok := known[in]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownInput, in.Name())
			}
			m[in] = struct{}{}
		}
		sets = append(sets, m)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Grace == 0 {
		opts.Grace = DefaultGrace
	}
	return &run{
		inputs: inputs,
		sets:   sets,
		opts:   opts,
		failed: make(chan error, 1),
	}, nil
}

func (r *run) execute(ctx context.Context) (Result, error) {
	for _, in := range r.inputs {
		remove := in.OnUpdate(r.onUpdate(in))
		defer remove()
	}
	if err := r.setup(ctx); err != nil {
		r.teardown(ctx)
		return Result{}, err
	}
	if err := r.startAggregate(ctx); err != nil {
		r.teardown(ctx)
		return Result{}, err
	}

	monitors := &errgroup.Group{}
	for _, in := range r.inputs {
		in := in
		monitors.Go(func() error {
			return in.Wait(context.WithoutCancel(ctx))
		})
	}
	matched, err := r.schedule(ctx)

	for _, in := range r.inputs {
		in.Cancel()
	}
	if werr := monitors.Wait(); werr != nil {
		logger.Errorf("run %s: monitor failed, err: %s", r.opts.ID, werr)
	}
	if err == nil {
		err = r.updateAggregate(ctx)
		if r.opts.Grace > 0 {
			sleep(ctx, r.opts.Grace)
		}
	}
	if terr := r.teardown(ctx); terr != nil && err == nil {
		err = terr
	}

	res := Result{Matched: matched}
	for _, in := range r.inputs {
		if in.Finished() {
			res.Finished = append(res.Finished, in)
		}
	}
	if err != nil {
		return res, err
	}
	logger.Infof("run %s complete", r.opts.ID)
	return res, nil
}

func (r *run) setup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, in := range r.inputs {
		in := in
		g.Go(func() error {
			return in.Setup(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fail to setup run %s, err: %w", r.opts.ID, err)
	}
	return nil
}

// teardown unsets every input that got past construction.
func (r *run) teardown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	g := &errgroup.Group{}
	for _, in := range r.inputs {
		in := in
		g.Go(func() error {
			err := in.Unsetup(ctx)
			if errors.Is(err, input.ErrInvalidState) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fail to unsetup run %s, err: %w", r.opts.ID, err)
	}
	return nil
}

// schedule polls until a completion set is matched and the sync hook agrees.
func (r *run) schedule(ctx context.Context) ([]input.Unit, error) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		matched := r.match()
		done, err := r.verdict(ctx, matched != nil)
		if err != nil {
			return nil, err
		}
		if done {
			return matched, nil
		}
		if err := r.updateAggregate(ctx); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-r.failed:
			return nil, err
		case <-ticker.C:
		}
	}
}

// match recomputes the complete inputs and returns the completion set they
// equal, if any.
func (r *run) match() []input.Unit {
	complete := make(map[input.Unit]struct{}, len(r.inputs))
	for _, in := range r.inputs {
		if in.Finished() || in.IsDone() {
			complete[in] = struct{}{}
		}
	}
	for i, set := range r.sets {
		if equal(set, complete) {
			return r.opts.CompletionSets[i]
		}
	}
	return nil
}

func equal(a, b map[input.Unit]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (r *run) verdict(ctx context.Context, local bool) (bool, error) {
	if r.opts.Sync == nil {
		return local, nil
	}
	if r.synced {
		return true, nil
	}
	ok, err := r.opts.Sync(ctx, r.opts.ID, local)
	if err != nil {
		return false, fmt.Errorf("fail to sync run %s, err: %w", r.opts.ID, err)
	}
	r.synced = ok
	return ok, nil
}

func (r *run) onUpdate(source input.Unit) func(ctx context.Context) {
	return func(ctx context.Context) {
		if r.opts.Codependent {
			for _, in := range r.inputs {
				if in == source {
					continue
				}
				if err := in.Refresh(ctx); err != nil {
					r.fail(err)
				}
			}
		}
		if err := r.updateAggregate(ctx); err != nil {
			r.fail(err)
		}
	}
}

func (r *run) fail(err error) {
	r.failOnce.Do(func() {
		r.failed <- err
	})
}

func (r *run) startAggregate(ctx context.Context) error {
	if r.opts.Sender == nil {
		return nil
	}
	var addr *model.Address
	if r.opts.Location != nil {
		var err error
		addr, err = r.opts.Sender.GenerateAddress(ctx, r.opts.Location, 1)
		if err != nil {
			return fmt.Errorf("fail to allocate status of run %s, err: %w", r.opts.ID, err)
		}
	}
	r.aggMu.Lock()
	r.aggregate = sender.NewLiveMessage(r.opts.Sender, addr)
	r.aggMu.Unlock()
	return r.updateAggregate(ctx)
}

func (r *run) updateAggregate(ctx context.Context) error {
	r.aggMu.Lock()
	live := r.aggregate
	r.aggMu.Unlock()
	if live == nil {
		return nil
	}
	if _, err := live.Update(ctx, model.NewText(r.statusText())); err != nil {
		return fmt.Errorf("fail to update status of run %s, err: %w", r.opts.ID, err)
	}
	return nil
}

// statusText lists one line per unfinished input.
func (r *run) statusText() string {
	var lines []string
	for _, in := range r.inputs {
		if in.Finished() || in.IsDone() {
			continue
		}
		lines = append(lines, in.StatusLine())
	}
	if len(lines) == 0 {
		return "All done!"
	}
	return strings.Join(lines, "\n")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package input

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vultisig/vultisig-gather/metrics"
	"github.com/vultisig/vultisig-gather/model"
)

// Warning is emitted before the deadline while participants are pending.
type Warning struct {
	Input string
	// Ordinal is the 1-based position of the warning in the schedule.
	Ordinal   int
	Remaining time.Duration
	Pending   []model.ParticipantID
}

// schedule returns the usable offsets, largest first, so warnings fire in
// chronological order.
func schedule(timeout time.Duration, offsets []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(offsets))
	out := make([]time.Duration, 0, len(offsets))
	for _, o := range offsets {
		if o <= 0 || o >= timeout {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func (in *Input[V]) watchDeadline(ctx context.Context, deadline time.Time, expired chan struct{}) {
	for idx, offset := range schedule(in.cfg.Timeout, in.cfg.Warnings) {
		if !sleepUntil(ctx, deadline.Add(-offset)) {
			return
		}
		pending := in.responses.Pending()
		if len(pending) == 0 {
			continue
		}
		in.warn(ctx, Warning{Input: in.cfg.ID, Ordinal: idx + 1, Remaining: offset, Pending: pending})
	}
	if !sleepUntil(ctx, deadline) {
		return
	}
	in.notify(ctx, in.timeoutNotice())
	close(expired)
}

func (in *Input[V]) warn(ctx context.Context, w Warning) {
	metrics.Warnings.Inc()
	logger.Infof("input %s warning %d: %d pending, %s left", w.Input, w.Ordinal, len(w.Pending), w.Remaining)
	if in.cfg.OnWarning != nil {
		in.cfg.OnWarning(ctx, w)
	}
	in.notify(ctx, fmt.Sprintf("Reminder %d: %s left for %s to answer.",
		w.Ordinal, formatRemaining(w.Remaining), in.formatMarkup(w.Pending)))
}

func (in *Input[V]) timeoutNotice() string {
	pending := in.responses.Pending()
	if len(pending) == 0 {
		return "Time is up. Everyone answered."
	}
	return fmt.Sprintf("Time is up. Thanks for your answers! Still open: %s.", in.formatParticipants(pending))
}

func (in *Input[V]) notify(ctx context.Context, text string) {
	if in.cfg.Sender == nil {
		return
	}
	addr, err := in.cfg.Sender.GenerateAddress(ctx, in.cfg.NoticeAddress, 1)
	if err != nil {
		logger.Errorf("fail to allocate notice for input %s, err: %s", in.cfg.ID, err)
		return
	}
	if _, err := in.cfg.Sender.Send(ctx, model.NewText(text), addr); err != nil {
		logger.Errorf("fail to send notice for input %s, err: %s", in.cfg.ID, err)
	}
}

func (in *Input[V]) formatMarkup(ids []model.ParticipantID) string {
	if in.cfg.Sender != nil {
		return in.cfg.Sender.FormatParticipantsMarkup(ids)
	}
	return in.formatParticipants(ids)
}

func formatRemaining(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < time.Second:
		return d.String()
	}
	return d.Round(time.Second).String()
}

// sleepUntil reports false when ctx ended first.
func sleepUntil(ctx context.Context, at time.Time) bool {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

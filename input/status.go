package input

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
)

// Status is a snapshot handed to status displays.
type Status struct {
	Input        string
	State        State
	Reason       Reason
	Participants []model.ParticipantID
	Responded    []model.ParticipantID
	Pending      []model.ParticipantID
	Feedback     map[model.ParticipantID]string
	Deadline     time.Time
	Line         string
}

// StatusDisplay renders input progress somewhere.
type StatusDisplay func(ctx context.Context, s Status) error

// Snapshot captures the current status.
func (in *Input[V]) Snapshot() Status {
	in.mu.Lock()
	state, reason, deadline := in.state, in.reason, in.deadline
	in.mu.Unlock()
	return Status{
		Input:        in.cfg.ID,
		State:        state,
		Reason:       reason,
		Participants: in.responses.Participants(),
		Responded:    in.responses.Responded(),
		Pending:      in.responses.Pending(),
		Feedback:     in.responses.Feedback(),
		Deadline:     deadline,
		Line:         in.StatusLine(),
	}
}

// Refresh pushes the current status to every display.
func (in *Input[V]) Refresh(ctx context.Context) error {
	if len(in.cfg.StatusDisplays) == 0 {
		return nil
	}
	s := in.Snapshot()
	var errs []error
	for _, display := range in.cfg.StatusDisplays {
		if err := display(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SenderDisplay keeps one message per input up to date. A nil render uses
// RenderStatus.
func SenderDisplay(s sender.Sender, addr *model.Address, render func(Status) model.Sendable) StatusDisplay {
	if render == nil {
		render = RenderStatus
	}
	live := sender.NewLiveMessage(s, addr)
	return func(ctx context.Context, status Status) error {
		if _, err := live.Update(ctx, render(status)); err != nil {
			return fmt.Errorf("fail to update status of %s, err: %w", status.Input, err)
		}
		return nil
	}
}

// RenderStatus renders the status line followed by validation feedback.
func RenderStatus(s Status) model.Sendable {
	var b strings.Builder
	b.WriteString(s.Line)
	if s.State >= Done {
		fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(s.Reason.String(), "_", " "))
	}
	for _, p := range s.Participants {
		if msg, ok := s.Feedback[p]; ok {
			fmt.Fprintf(&b, "\n%s: %s", p, msg)
		}
	}
	return model.NewText(b.String())
}

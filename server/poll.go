package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/input"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/orchestrator"
	"github.com/vultisig/vultisig-gather/storage"
)

// PollRequest asks every participant of a session to pick from options.
type PollRequest struct {
	Question   string            `json:"question"`
	Options    []string          `json:"options"`
	Min        int               `json:"min"`
	Max        int               `json:"max"`
	AllowEdits bool              `json:"allow_edits"`
	Timeout    config.Duration   `json:"timeout"`
	Warnings   []config.Duration `json:"warnings"`
}

func (r PollRequest) validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.New("question is empty")
	}
	if len(r.Options) == 0 {
		return errors.New("no options")
	}
	if r.Min < 0 || r.Max < 0 || r.Max > len(r.Options) || (r.Max > 0 && r.Min > r.Max) {
		return fmt.Errorf("invalid selection range %d..%d", r.Min, r.Max)
	}
	return nil
}

// bounds mirrors model.Sendable.WithOptions defaults.
func (r PollRequest) bounds() (int, int) {
	switch {
	case r.Max == 0 && r.Min == 0:
		return 1, 1
	case r.Max == 0:
		return r.Min, len(r.Options)
	}
	return r.Min, r.Max
}

const (
	PollRunning   = "running"
	PollCompleted = "completed"
	PollTimedOut  = "timed_out"
	PollCancelled = "cancelled"
	PollFailed    = "failed"
)

// PollResult is stored under "poll-<session>-<poll>" while and after the poll runs.
type PollResult struct {
	ID        string              `json:"id"`
	SessionID string              `json:"session_id"`
	Question  string              `json:"question"`
	State     string              `json:"state"`
	Answers   map[string][]string `json:"answers"`
	Pending   []string            `json:"pending"`
	Feedback  map[string]string   `json:"feedback,omitempty"`
}

type pollResponse struct {
	PollID string `json:"poll_id"`
}

func pollKey(sessionID, pollID string) string {
	return storage.PrefixedKey("poll", sessionID) + "-" + pollID
}

// StartPoll sends the question to the session and collects answers in the
// background.
func (s *Server) StartPoll(c echo.Context) error {
	ctx := c.Request().Context()
	if contexthelper.CheckCancellation(ctx) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	var req PollRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := req.validate(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	participants, err := s.s.GetSession(ctx, sessionID)
	if err != nil {
		c.Logger().Errorf("fail to get session %s, err: %s", sessionID, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	if len(participants) == 0 {
		return c.NoContent(http.StatusNotFound)
	}

	options := make([]model.Option, 0, len(req.Options))
	for _, label := range req.Options {
		options = append(options, model.NewOption(label))
	}
	lo, hi := req.bounds()
	addr, err := s.dispatcher.GenerateAddressAt(ctx, sessionID, 1)
	if err != nil {
		c.Logger().Errorf("fail to allocate poll in session %s, err: %s", sessionID, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	question := model.NewText(req.Question).WithOptions(options, lo, hi)
	// The question is rendered on setup, once the input listens for answers.
	display := input.SenderDisplay(s.dispatcher, addr, func(input.Status) model.Sendable {
		return question
	})

	pollID := uuid.NewString()
	in := input.New(s.registry, input.Config[model.Selection]{
		ID:             req.Question,
		Participants:   model.ParticipantIDs(participants...),
		Validator:      selectionValidator(lo, hi),
		Convert:        input.Selections,
		Address:        addr,
		AllowEdits:     req.AllowEdits,
		StatusDisplays: []input.StatusDisplay{display},
		Sender:         s.dispatcher,
		NoticeAddress:  addr,
		Timeout:        req.Timeout.Duration,
		Warnings:       durations(req.Warnings),
		PollInterval:   s.engine.PollInterval.Duration,
	})
	if err := s.storePoll(ctx, pollID, sessionID, req.Question, PollRunning, in); err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusInternalServerError)
	}

	s.polls.Add(1)
	go func() {
		defer s.polls.Done()
		s.runPoll(pollID, sessionID, req.Question, addr, in)
	}()
	return c.JSON(http.StatusCreated, pollResponse{PollID: pollID})
}

func (s *Server) runPoll(pollID, sessionID, question string, addr *model.Address, in *input.Input[model.Selection]) {
	keepCtx, stopKeep := context.WithCancel(s.ctx)
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		s.keepSession(keepCtx, sessionID, model.Strings(in.Responses().Participants()))
	}()

	state := PollCompleted
	_, err := orchestrator.Run(s.ctx, []input.Unit{in}, orchestrator.Options{
		ID:           pollID,
		Sender:       s.dispatcher,
		Location:     addr,
		PollInterval: s.engine.PollInterval.Duration,
		Grace:        s.engine.GracePeriod.Duration,
	})
	switch {
	case errors.Is(err, context.Canceled):
		state = PollCancelled
	case err != nil:
		s.e.Logger.Errorf("poll %s in session %s failed, err: %s", pollID, sessionID, err)
		state = PollFailed
	case in.TimedOut():
		state = PollTimedOut
	}
	stopKeep()
	<-keepDone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.storePoll(ctx, pollID, sessionID, question, state, in); err != nil {
		s.e.Logger.Error(err)
	}
}

// keepSession re-registers the poll's participants until ctx ends, so the
// session outlives its expiration while answers are still accepted.
func (s *Server) keepSession(ctx context.Context, sessionID string, participants []string) {
	interval := s.engine.SessionExpiration.Duration / 2
	if interval <= 0 {
		interval = s.engine.PollInterval.Duration
	}
	if interval <= 0 {
		interval = orchestrator.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.s.SetSession(ctx, sessionID, participants); err != nil && ctx.Err() == nil {
			s.e.Logger.Errorf("fail to refresh session %s, err: %s", sessionID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) storePoll(ctx context.Context, pollID, sessionID, question, state string, in *input.Input[model.Selection]) error {
	responses := in.Responses()
	result := PollResult{
		ID:        pollID,
		SessionID: sessionID,
		Question:  question,
		State:     state,
		Answers:   make(map[string][]string),
		Pending:   model.Strings(responses.Pending()),
		Feedback:  make(map[string]string),
	}
	for p, sel := range responses.ValidResponses() {
		labels := make([]string, 0, len(sel.Options))
		for _, o := range sel.Options {
			labels = append(labels, o.Label)
		}
		result.Answers[string(p)] = labels
	}
	for p, msg := range responses.Feedback() {
		result.Feedback[string(p)] = msg
	}
	buf, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("fail to marshal poll %s, err: %w", pollID, err)
	}
	if err := s.s.SetValue(ctx, pollKey(sessionID, pollID), string(buf)); err != nil {
		return fmt.Errorf("fail to store poll %s, err: %w", pollID, err)
	}
	return nil
}

func (s *Server) GetPoll(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	pollID := strings.TrimSpace(c.Param("pollID"))
	if sessionID == "" || pollID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	value, err := s.s.GetValue(c.Request().Context(), pollKey(sessionID, pollID))
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSONBlob(http.StatusOK, []byte(value))
}

func selectionValidator(lo, hi int) input.Validator[model.Selection] {
	return func(_ model.ParticipantID, v *model.Selection) (bool, string) {
		if v == nil {
			return false, ""
		}
		if n := len(v.Options); n < lo || n > hi {
			if lo == hi {
				return false, fmt.Sprintf("Please pick %d.", lo)
			}
			return false, fmt.Sprintf("Please pick between %d and %d.", lo, hi)
		}
		return true, ""
	}
}

func durations(in []config.Duration) []time.Duration {
	out := make([]time.Duration, 0, len(in))
	for _, d := range in {
		out = append(out, d.Duration)
	}
	return out
}

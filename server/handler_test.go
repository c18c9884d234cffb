package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/interaction"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
	"github.com/vultisig/vultisig-gather/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, config.Engine{
		PollInterval: config.Duration{Duration: 5 * time.Millisecond},
		GracePeriod:  config.Duration{Duration: time.Millisecond},
	})
}

func newTestServerWith(t *testing.T, engine config.Engine) *Server {
	t.Helper()
	store := storage.NewMemoryStorage(storage.Options{
		SessionExpiration: engine.SessionExpiration.Duration,
		ValueExpiration:   engine.ValueExpiration.Duration,
	})
	dispatcher := sender.NewDispatcher(sender.NewRelay(store, sender.RelayOptions{NativeChoices: true}), "")
	s := NewServer(0, store, interaction.NewRegistry(), dispatcher, engine)
	t.Cleanup(func() {
		s.cancel()
		s.polls.Wait()
	})
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "running") {
		t.Fatalf("unexpected ping response %d %q", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	if rec := do(t, s, http.MethodPost, "/s1", []string{"ann", "bo"}); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/s1", nil)
	var session model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if session.SessionID != "s1" || len(session.Participants) != 2 {
		t.Fatalf("unexpected session %+v", session)
	}

	msg := model.Message{From: "ann", To: []string{"bo"}, Body: "hello", Hash: "h1"}
	if rec := do(t, s, http.MethodPost, "/message/s1", msg); rec.Code != http.StatusAccepted {
		t.Fatalf("post message: %d", rec.Code)
	}
	var inbox []model.Message
	rec = do(t, s, http.MethodGet, "/message/s1/bo", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 || inbox[0].Body != "hello" {
		t.Fatalf("unexpected inbox %+v", inbox)
	}
	if rec := do(t, s, http.MethodDelete, "/message/s1/bo/h1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete message: %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/message/s1/bo", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty inbox, got %q", rec.Body.String())
	}

	if rec := do(t, s, http.MethodDelete, "/s1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete session: %d", rec.Code)
	}
}

func TestCheckIns(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/complete/s1", []string{"north"})
	do(t, s, http.MethodPost, "/complete/s1", []string{"south", "north"})
	var groups []string
	rec := do(t, s, http.MethodGet, "/complete/s1", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 || groups[0] != "north" || groups[1] != "south" {
		t.Fatalf("unexpected check-ins %v", groups)
	}
}

func TestPollFlow(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/s1", []string{"ann", "bo"})

	rec := do(t, s, http.MethodPost, "/poll/s1", PollRequest{Question: "Colour?", Options: []string{"red", "blue"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start poll: %d %s", rec.Code, rec.Body.String())
	}
	var started pollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}

	var question model.Message
	deadline := time.Now().Add(2 * time.Second)
	for question.SlotID == "" {
		if time.Now().After(deadline) {
			t.Fatal("poll not delivered")
		}
		var inbox []model.Message
		rec := do(t, s, http.MethodGet, "/message/s1/ann", nil)
		_ = json.Unmarshal(rec.Body.Bytes(), &inbox)
		for _, m := range inbox {
			if len(m.Options) > 0 {
				question = m
			}
		}
		time.Sleep(time.Millisecond)
	}
	if question.Body != "Colour?" || len(question.Options) != 2 {
		t.Fatalf("unexpected question %+v", question)
	}

	event := func(participant string, indices ...int) interaction.Event {
		return interaction.Event{Type: interaction.ChoiceToggled, Participant: participant, SlotID: question.SlotID, Indices: indices}
	}
	if rec := do(t, s, http.MethodPost, "/interaction/s1", event("eve", 0)); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d", rec.Code)
	}
	unknown := event("ann", 0)
	unknown.SlotID = "nope"
	if rec := do(t, s, http.MethodPost, "/interaction/s1", unknown); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown slot: expected 422, got %d", rec.Code)
	}
	for _, p := range []string{"ann", "bo"} {
		rec := do(t, s, http.MethodPost, "/interaction/s1", event(p, 1))
		if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"delivered":1`) {
			t.Fatalf("%s: unexpected response %d %s", p, rec.Code, rec.Body.String())
		}
	}

	var result PollResult
	deadline = time.Now().Add(2 * time.Second)
	for {
		rec := do(t, s, http.MethodGet, "/poll/s1/"+started.PollID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get poll: %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatal(err)
		}
		if result.State != PollRunning || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if result.State != PollCompleted {
		t.Fatalf("expected completed poll, got %+v", result)
	}
	if got := result.Answers["ann"]; len(got) != 1 || got[0] != "blue" {
		t.Fatalf("unexpected answers %v", result.Answers)
	}
	if len(result.Pending) != 0 {
		t.Fatalf("unexpected pending %v", result.Pending)
	}
}

func TestPollTimesOut(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/s1", []string{"ann"})
	req := PollRequest{Question: "Ready?", Options: []string{"yes"}, Timeout: config.Duration{Duration: 30 * time.Millisecond}}
	rec := do(t, s, http.MethodPost, "/poll/s1", req)
	var started pollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	var result PollResult
	deadline := time.Now().Add(2 * time.Second)
	for result.State == "" || result.State == PollRunning {
		if time.Now().After(deadline) {
			t.Fatal("poll did not time out")
		}
		time.Sleep(5 * time.Millisecond)
		rec := do(t, s, http.MethodGet, "/poll/s1/"+started.PollID, nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatal(err)
		}
	}
	if result.State != PollTimedOut || len(result.Pending) != 1 || result.Pending[0] != "ann" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPollKeepsSessionAlive(t *testing.T) {
	const expiration = 50 * time.Millisecond
	s := newTestServerWith(t, config.Engine{
		PollInterval:      config.Duration{Duration: 5 * time.Millisecond},
		GracePeriod:       config.Duration{Duration: time.Millisecond},
		SessionExpiration: config.Duration{Duration: expiration},
	})
	do(t, s, http.MethodPost, "/s1", []string{"ann", "bo"})
	req := PollRequest{Question: "Ready?", Options: []string{"yes", "no"}, Timeout: config.Duration{Duration: 2 * time.Second}}
	if rec := do(t, s, http.MethodPost, "/poll/s1", req); rec.Code != http.StatusCreated {
		t.Fatalf("start poll: %d %s", rec.Code, rec.Body.String())
	}

	var slotID string
	deadline := time.Now().Add(time.Second)
	for slotID == "" {
		if time.Now().After(deadline) {
			t.Fatal("poll not delivered")
		}
		var inbox []model.Message
		rec := do(t, s, http.MethodGet, "/message/s1/ann", nil)
		_ = json.Unmarshal(rec.Body.Bytes(), &inbox)
		for _, m := range inbox {
			if len(m.Options) > 0 {
				slotID = m.SlotID
			}
		}
		time.Sleep(time.Millisecond)
	}

	time.Sleep(3 * expiration)
	event := interaction.Event{Type: interaction.ChoiceToggled, Participant: "ann", SlotID: slotID, Indices: []int{0}}
	rec := do(t, s, http.MethodPost, "/interaction/s1", event)
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"delivered":1`) {
		t.Fatalf("answer after the session TTL: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPollRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	if rec := do(t, s, http.MethodPost, "/poll/s1", PollRequest{Question: "Q", Options: []string{"a"}}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", rec.Code)
	}
	do(t, s, http.MethodPost, "/s1", []string{"ann"})
	for _, req := range []PollRequest{
		{Question: "Q"},
		{Options: []string{"a"}},
		{Question: "Q", Options: []string{"a"}, Max: 2},
	} {
		if rec := do(t, s, http.MethodPost, "/poll/s1", req); rec.Code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", req, rec.Code)
		}
	}
	if rec := do(t, s, http.MethodGet, "/poll/s1/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing poll: expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gather_inputs_active") {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}

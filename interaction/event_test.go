package interaction

import (
	"errors"
	"testing"

	"github.com/vultisig/vultisig-gather/model"
)

type fakeBook struct {
	addr    *model.Address
	options []model.Option
}

func (b fakeBook) Lookup(slotID string) (*model.Address, bool) {
	if b.addr != nil && b.addr.Contains(slotID) {
		return b.addr, true
	}
	return nil, false
}

func (b fakeBook) Options(string) []model.Option {
	return b.options
}

func TestNormalize(t *testing.T) {
	addr := model.NewOwner("test").NewAddress(model.Slot{ID: "s1"})
	book := fakeBook{addr: addr, options: []model.Option{model.NewOption("red"), model.NewOption("blue")}}

	i, err := Normalize(Event{Type: MessageCreated, Participant: "ann", SlotID: "s1", Text: " /ready "}, book)
	if err != nil {
		t.Fatal(err)
	}
	if cmd, ok := i.Content.(model.Command); !ok || cmd.Text != "/ready" {
		t.Fatalf("expected command, got %#v", i.Content)
	}
	if !i.Address.Same(addr) || i.Time.IsZero() {
		t.Fatalf("unexpected interaction %+v", i)
	}

	i, err = Normalize(Event{Type: FormSubmitted, Participant: "ann", SlotID: "s1", Text: "/not a command"}, book)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := i.Content.(model.FreeText); !ok {
		t.Fatalf("form submissions are free text, got %#v", i.Content)
	}

	i, err = Normalize(Event{Type: ChoiceToggled, Participant: "bo", SlotID: "s1", Indices: []int{1}}, book)
	if err != nil {
		t.Fatal(err)
	}
	sel, ok := i.Content.(model.Selection)
	if !ok || len(sel.Options) != 1 || sel.Options[0].Label != "blue" || sel.Indices[0] != 1 {
		t.Fatalf("unexpected selection %#v", i.Content)
	}
}

func TestNormalizeRejects(t *testing.T) {
	addr := model.NewOwner("test").NewAddress(model.Slot{ID: "s1"})
	book := fakeBook{addr: addr, options: []model.Option{model.NewOption("red")}}
	for _, ev := range []Event{
		{Type: MessageCreated, SlotID: "s1", Text: "x"},
		{Type: MessageCreated, Participant: "ann", SlotID: "nope", Text: "x"},
		{Type: MessageDeleted, Participant: "ann", SlotID: "s1"},
		{Type: ChoiceToggled, Participant: "ann", SlotID: "s1", Indices: []int{3}},
		{Type: "reaction_added", Participant: "ann", SlotID: "s1"},
	} {
		if _, err := Normalize(ev, book); !errors.Is(err, ErrUnaddressable) {
			t.Errorf("%+v: expected ErrUnaddressable, got %v", ev, err)
		}
	}
}

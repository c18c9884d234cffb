package interaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vultisig/vultisig-gather/model"
)

// ErrUnaddressable marks raw events that cannot become interactions.
var ErrUnaddressable = errors.New("unaddressable event")

type EventType string

const (
	MessageCreated EventType = "message_created"
	MessageEdited  EventType = "message_edited"
	MessageDeleted EventType = "message_deleted"
	ChoiceToggled  EventType = "choice_toggled"
	FormSubmitted  EventType = "form_submitted"
)

// Event is a raw platform event as reported by an adapter.
type Event struct {
	Type        EventType `json:"type"`
	Participant string    `json:"participant"`
	SlotID      string    `json:"slot_id"`
	Text        string    `json:"text,omitempty"`
	Indices     []int     `json:"indices,omitempty"`
	Time        time.Time `json:"time,omitempty"`
}

// AddressBook resolves slots to the addresses and options they were sent
// with. sender.Dispatcher implements it.
type AddressBook interface {
	Lookup(slotID string) (*model.Address, bool)
	Options(slotID string) []model.Option
}

// Normalize converts a raw event into an Interaction.
func Normalize(ev Event, book AddressBook) (model.Interaction, error) {
	participant := strings.TrimSpace(ev.Participant)
	if participant == "" {
		return model.Interaction{}, fmt.Errorf("%w: missing participant", ErrUnaddressable)
	}
	addr, ok := book.Lookup(ev.SlotID)
	if !ok {
		return model.Interaction{}, fmt.Errorf("%w: unknown slot %q", ErrUnaddressable, ev.SlotID)
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	i := model.Interaction{
		Participant: model.ParticipantID(participant),
		Address:     addr,
		SlotID:      ev.SlotID,
		Time:        at,
	}
	switch ev.Type {
	case MessageCreated, MessageEdited, FormSubmitted:
		text := strings.TrimSpace(ev.Text)
		if ev.Type != FormSubmitted && strings.HasPrefix(text, "/") {
			i.Content = model.Command{Text: text}
		} else {
			i.Content = model.FreeText{Text: text}
		}
	case ChoiceToggled:
		options := book.Options(ev.SlotID)
		sel := model.Selection{}
		for _, idx := range ev.Indices {
			if idx < 0 || idx >= len(options) {
				return model.Interaction{}, fmt.Errorf("%w: option %d out of range", ErrUnaddressable, idx)
			}
			sel.Options = append(sel.Options, options[idx])
			sel.Indices = append(sel.Indices, idx)
		}
		i.Content = sel
	case MessageDeleted:
		return model.Interaction{}, fmt.Errorf("%w: deleted messages carry no response", ErrUnaddressable)
	default:
		return model.Interaction{}, fmt.Errorf("%w: unknown event type %q", ErrUnaddressable, ev.Type)
	}
	return i, nil
}

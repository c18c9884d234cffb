package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParticipantID identifies a player or a team.
type ParticipantID string

type ContentKind int

const (
	KindCommand ContentKind = iota + 1
	KindText
	KindSelection
)

func (k ContentKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindText:
		return "text"
	case KindSelection:
		return "selection"
	default:
		return "unknown"
	}
}

// Content is the payload of an Interaction: Command, FreeText or Selection.
type Content interface {
	Kind() ContentKind
	// Describe renders the content for humans.
	Describe() string
	isContent()
}

type Command struct {
	Text string
}

func (Command) Kind() ContentKind { return KindCommand }
func (Command) isContent()        {}

func (c Command) Describe() string {
	return fmt.Sprintf("used command %s", c.Text)
}

// Name returns the command word without its leading slash.
func (c Command) Name() string {
	fields := strings.Fields(strings.TrimPrefix(c.Text, "/"))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type FreeText struct {
	Text string
}

func (FreeText) Kind() ContentKind { return KindText }
func (FreeText) isContent()        {}

func (t FreeText) Describe() string {
	return fmt.Sprintf("said %q", t.Text)
}

// Selection holds chosen options and their indices in the offered list.
type Selection struct {
	Options []Option
	Indices []int
}

func (Selection) Kind() ContentKind { return KindSelection }
func (Selection) isContent()        {}

func (s Selection) Describe() string {
	if len(s.Options) == 0 {
		return "cleared their selection"
	}
	labels := make([]string, 0, len(s.Options))
	for _, o := range s.Options {
		labels = append(labels, o.String())
	}
	return "selected " + strings.Join(labels, ", ")
}

// Interaction is a normalized inbound event from a participant.
type Interaction struct {
	Participant ParticipantID
	Address     *Address
	SlotID      string
	Time        time.Time
	Content     Content
}

var ErrMalformedInteraction = errors.New("malformed interaction")

func (i Interaction) Validate() error {
	switch {
	case strings.TrimSpace(string(i.Participant)) == "":
		return fmt.Errorf("%w: missing participant", ErrMalformedInteraction)
	case i.Address == nil:
		return fmt.Errorf("%w: missing address", ErrMalformedInteraction)
	case i.Content == nil:
		return fmt.Errorf("%w: missing content", ErrMalformedInteraction)
	}
	return nil
}

func (i Interaction) Describe() string {
	if i.Content == nil {
		return string(i.Participant)
	}
	return fmt.Sprintf("%s %s", i.Participant, i.Content.Describe())
}

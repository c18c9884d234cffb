package model

// Message is one rendered slot as delivered to a participant mailbox.
type Message struct {
	SessionID   string       `json:"session_id,omitempty"`
	SlotID      string       `json:"slot_id,omitempty"`
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to,omitempty"`
	Kind        string       `json:"kind,omitempty"`
	Body        string       `json:"body,omitempty"`
	Options     []Option     `json:"options,omitempty"`
	MinSelect   int          `json:"min_select,omitempty"`
	MaxSelect   int          `json:"max_select,omitempty"`
	Hint        string       `json:"hint,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Hash        string       `json:"hash"`
	SequenceNo  uint64       `json:"sequence_no"`
}

type Session struct {
	SessionID    string   `json:"session_id,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

package model

import "strings"

// Option is one selectable choice offered to a participant.
type Option struct {
	Label       string `json:"label"`
	Emoji       string `json:"emoji,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewOption(label string) Option {
	return Option{Label: label}
}

func (o Option) WithEmoji(emoji string) Option {
	o.Emoji = emoji
	return o
}

func (o Option) WithDescription(description string) Option {
	o.Description = description
	return o
}

func (o Option) String() string {
	return strings.TrimSpace(o.Emoji + " " + o.Label)
}

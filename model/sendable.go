package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptySendable  = errors.New("sendable has no fragments")
	ErrInvalidOptions = errors.New("invalid options fragment")
)

// Capability identifies one independently renderable fragment of a Sendable.
// Capabilities combine as bit flags.
type Capability uint8

const (
	CapText Capability = 1 << iota
	CapOptions
	CapTextField
	CapAttachments
	CapReference
)

// CanonicalOrder is the order fragments are laid out on slots when a Sendable
// has to be decomposed.
var CanonicalOrder = []Capability{CapText, CapOptions, CapTextField, CapAttachments, CapReference}

// Has reports whether every flag of other is set in c.
func (c Capability) Has(other Capability) bool {
	return other != 0 && c&other == other
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	names := map[Capability]string{
		CapText:        "text",
		CapOptions:     "options",
		CapTextField:   "text_field",
		CapAttachments: "attachments",
		CapReference:   "reference",
	}
	var parts []string
	for _, flag := range CanonicalOrder {
		if c.Has(flag) {
			parts = append(parts, names[flag])
		}
	}
	return strings.Join(parts, "+")
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// OptionsFragment is a selectable list. Min and Max bound how many options a
// participant may pick.
type OptionsFragment struct {
	Options []Option
	Min     int
	Max     int
}

type TextFieldFragment struct {
	Hint string
}

// Sendable is an immutable description of content to render. Every With*
// method returns a modified copy; a fragment kind appears at most once.
type Sendable struct {
	text        *string
	attachments []Attachment
	options     *OptionsFragment
	textField   *TextFieldFragment
	reference   *Address
}

func NewText(text string) Sendable {
	return Sendable{}.WithText(text)
}

func (s Sendable) WithText(text string) Sendable {
	s.text = &text
	return s
}

func (s Sendable) WithAttachments(attachments ...Attachment) Sendable {
	s.attachments = append([]Attachment(nil), attachments...)
	return s
}

// WithOptions attaches a choice list. A max of zero means "one choice" when
// min is zero as well, otherwise it defaults to len(options).
func (s Sendable) WithOptions(options []Option, min, max int) Sendable {
	if max == 0 {
		if min == 0 {
			min, max = 1, 1
		} else {
			max = len(options)
		}
	}
	s.options = &OptionsFragment{
		Options: append([]Option(nil), options...),
		Min:     min,
		Max:     max,
	}
	return s
}

func (s Sendable) WithTextField(hint string) Sendable {
	s.textField = &TextFieldFragment{Hint: hint}
	return s
}

func (s Sendable) WithReference(addr *Address) Sendable {
	s.reference = addr
	return s
}

func (s Sendable) Text() (string, bool) {
	if s.text == nil {
		return "", false
	}
	return *s.text, true
}

func (s Sendable) Attachments() []Attachment {
	return append([]Attachment(nil), s.attachments...)
}

func (s Sendable) Options() (OptionsFragment, bool) {
	if s.options == nil {
		return OptionsFragment{}, false
	}
	out := *s.options
	out.Options = append([]Option(nil), s.options.Options...)
	return out, true
}

func (s Sendable) TextField() (TextFieldFragment, bool) {
	if s.textField == nil {
		return TextFieldFragment{}, false
	}
	return *s.textField, true
}

func (s Sendable) Reference() *Address {
	return s.reference
}

// Capabilities returns the set of fragments present.
func (s Sendable) Capabilities() Capability {
	var c Capability
	if s.text != nil {
		c |= CapText
	}
	if s.options != nil {
		c |= CapOptions
	}
	if s.textField != nil {
		c |= CapTextField
	}
	if len(s.attachments) > 0 {
		c |= CapAttachments
	}
	if s.reference != nil {
		c |= CapReference
	}
	return c
}

func (s Sendable) Has(c Capability) bool {
	return s.Capabilities().Has(c)
}

func (s Sendable) IsEmpty() bool {
	return s.Capabilities() == 0
}

// Only keeps the fragments named by c and drops the rest.
func (s Sendable) Only(c Capability) Sendable {
	var out Sendable
	if c.Has(CapText) {
		out.text = s.text
	}
	if c.Has(CapOptions) {
		out.options = s.options
	}
	if c.Has(CapTextField) {
		out.textField = s.textField
	}
	if c.Has(CapAttachments) {
		out.attachments = s.attachments
	}
	if c.Has(CapReference) {
		out.reference = s.reference
	}
	return out
}

// Split decomposes s into single-fragment Sendables in canonical order.
func (s Sendable) Split() []Sendable {
	caps := s.Capabilities()
	var parts []Sendable
	for _, c := range CanonicalOrder {
		if caps.Has(c) {
			parts = append(parts, s.Only(c))
		}
	}
	return parts
}

func (s Sendable) Validate() error {
	if s.IsEmpty() {
		return ErrEmptySendable
	}
	if s.options != nil {
		o := s.options
		if len(o.Options) == 0 {
			return fmt.Errorf("%w: no options", ErrInvalidOptions)
		}
		if o.Min < 0 || o.Min > o.Max || o.Max > len(o.Options) {
			return fmt.Errorf("%w: min=%d max=%d options=%d", ErrInvalidOptions, o.Min, o.Max, len(o.Options))
		}
	}
	return nil
}

// Fingerprint is a stable key of the rendered content: equal Sendables give
// equal fingerprints.
func (s Sendable) Fingerprint() string {
	var b strings.Builder
	if t, ok := s.Text(); ok {
		fmt.Fprintf(&b, "t:%q;", t)
	}
	if s.options != nil {
		fmt.Fprintf(&b, "o:%d-%d:", s.options.Min, s.options.Max)
		for _, o := range s.options.Options {
			fmt.Fprintf(&b, "%q/%q/%q,", o.Label, o.Emoji, o.Description)
		}
		b.WriteString(";")
	}
	if s.textField != nil {
		fmt.Fprintf(&b, "f:%q;", s.textField.Hint)
	}
	for _, a := range s.attachments {
		fmt.Fprintf(&b, "a:%q/%q/%x;", a.Name, a.ContentType, a.Data)
	}
	if s.reference != nil {
		fmt.Fprintf(&b, "r:%s;", s.reference.ID())
	}
	return b.String()
}

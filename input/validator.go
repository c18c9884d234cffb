package input

import "github.com/vultisig/vultisig-gather/model"

// Validator decides whether p's value is acceptable. A nil value means p has
// not responded. Feedback is shown to the participant; empty means none.
type Validator[V any] func(p model.ParticipantID, v *V) (valid bool, feedback string)

// NotAbsent accepts any submitted value.
func NotAbsent[V any](_ model.ParticipantID, v *V) (bool, string) {
	return v != nil, ""
}

// Criteria decides whether collection may stop.
type Criteria[V any] func(r *Responses[V]) bool

// AllValid holds once every participant has a value the validator accepts.
func AllValid[V any](r *Responses[V]) bool {
	return r.AllValid()
}

// AllResponded ignores validity.
func AllResponded[V any](r *Responses[V]) bool {
	return r.AllResponded()
}

// Converter extracts a value from interaction content. ok is false when the
// content is of the wrong kind for the input.
type Converter[V any] func(c model.Content) (v V, ok bool)

func Texts(c model.Content) (string, bool) {
	t, ok := c.(model.FreeText)
	return t.Text, ok
}

func Selections(c model.Content) (model.Selection, bool) {
	s, ok := c.(model.Selection)
	return s, ok
}

func Commands(c model.Content) (model.Command, bool) {
	cmd, ok := c.(model.Command)
	return cmd, ok
}

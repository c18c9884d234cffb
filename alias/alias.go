// Package alias derives read-only views of a base message record.
//
// A view holds its parent and per-field modifier functions; its record is
// computed on demand by applying the modifiers to the parent record, so the
// base is never mutated by a derivation. Views form a tree rooted at the
// base. Writing a view's ID propagates up to the base unless the view was
// derived with UniqueID, which is used when one logical message fans out into
// independent platform messages.
package alias

import (
	"sync"

	"github.com/vultisig/vultisig-gather/model"
)

// Record is a platform-agnostic message.
type Record struct {
	ID          string
	Content     string
	Attachments []model.Attachment
	Location    string
	Visibility  []model.ParticipantID
	ReplyTo     string
}

func (r Record) clone() Record {
	r.Attachments = append([]model.Attachment(nil), r.Attachments...)
	r.Visibility = append([]model.ParticipantID(nil), r.Visibility...)
	return r
}

// Modifiers transform single fields of the parent record. Nil fields pass the
// parent value through. Modifiers must be pure.
type Modifiers struct {
	Content     func(string) string
	Attachments func([]model.Attachment) []model.Attachment
	Location    func(string) string
	Visibility  func([]model.ParticipantID) []model.ParticipantID
	ReplyTo     func(string) string
}

type View struct {
	parent   *View
	mods     Modifiers
	uniqueID bool

	mu       sync.RWMutex
	base     Record
	id       string
	children []*View
}

type Option func(*View)

// UniqueID gives the view its own identity instead of sharing the base's.
func UniqueID() Option {
	return func(v *View) {
		v.uniqueID = true
	}
}

// NewBase returns the root view owning rec.
func NewBase(rec Record) *View {
	return &View{base: rec.clone()}
}

func (v *View) Derive(mods Modifiers, opts ...Option) *View {
	child := &View{parent: v, mods: mods}
	for _, opt := range opts {
		opt(child)
	}
	v.mu.Lock()
	v.children = append(v.children, child)
	v.mu.Unlock()
	return child
}

func (v *View) Parent() *View {
	return v.parent
}

func (v *View) Base() *View {
	for v.parent != nil {
		v = v.parent
	}
	return v
}

func (v *View) Children() []*View {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*View(nil), v.children...)
}

func (v *View) IsUniqueID() bool {
	return v.uniqueID
}

// Record computes the view's record from the base through every ancestor.
func (v *View) Record() Record {
	if v.parent == nil {
		v.mu.RLock()
		defer v.mu.RUnlock()
		return v.base.clone()
	}
	rec := v.parent.Record()
	m := v.mods
	if m.Content != nil {
		rec.Content = m.Content(rec.Content)
	}
	if m.Attachments != nil {
		rec.Attachments = m.Attachments(rec.Attachments)
	}
	if m.Location != nil {
		rec.Location = m.Location(rec.Location)
	}
	if m.Visibility != nil {
		rec.Visibility = m.Visibility(rec.Visibility)
	}
	if m.ReplyTo != nil {
		rec.ReplyTo = m.ReplyTo(rec.ReplyTo)
	}
	if v.uniqueID {
		v.mu.RLock()
		rec.ID = v.id
		v.mu.RUnlock()
	}
	return rec
}

func (v *View) ID() string {
	return v.Record().ID
}

// SetID records the platform identity of the view.
func (v *View) SetID(id string) {
	target := v
	for target.parent != nil && !target.uniqueID {
		target = target.parent
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.parent == nil && !target.uniqueID {
		target.base.ID = id
		return
	}
	target.id = id
}

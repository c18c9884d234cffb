package alias

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vultisig/vultisig-gather/model"
)

const (
	continuationPrefix = "… "
	continuationSuffix = " …"
)

var frameLen = utf8.RuneCountInString(continuationPrefix) + utf8.RuneCountInString(continuationSuffix)

// Split cuts v's content into parts of at most limit runes. Every part but
// the last ends with a continuation marker and every part but the first
// starts with one, unless limit leaves no room for the markers. The first part shares v's identity; the others are unique
// and reply to the part before them. Content that fits returns v itself.
func Split(v *View, limit int) []*View {
	content := v.Record().Content
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return []*View{v}
	}
	n := len(chunk(content, limit))
	parts := make([]*View, n)
	for i := 0; i < n; i++ {
		i := i
		mods := Modifiers{
			Content: func(c string) string {
				return framedPart(c, limit, i)
			},
		}
		var opts []Option
		if i > 0 {
			prev := parts[i-1]
			mods.ReplyTo = func(string) string {
				return prev.ID()
			}
			opts = append(opts, UniqueID())
		}
		parts[i] = v.Derive(mods, opts...)
	}
	return parts
}

func framedPart(content string, limit, i int) string {
	chunks := chunk(content, limit)
	if i >= len(chunks) {
		return ""
	}
	part := chunks[i]
	if limit <= frameLen {
		return part
	}
	if i > 0 {
		part = continuationPrefix + part
	}
	if i < len(chunks)-1 {
		part += continuationSuffix
	}
	return part
}

// chunk splits content so that every framed chunk fits in limit runes,
// preferring to break on whitespace. Limits too small to hold the markers
// yield unframed chunks of limit runes.
func chunk(content string, limit int) []string {
	if utf8.RuneCountInString(content) <= limit {
		return []string{content}
	}
	size := limit - frameLen
	if limit <= frameLen {
		size = limit
	}
	runes := []rune(content)
	var out []string
	for len(runes) > 0 {
		if len(runes) <= size {
			out = append(out, string(runes))
			break
		}
		cut := size
		for j := size; j > size/2; j-- {
			if unicode.IsSpace(runes[j]) {
				cut = j
				break
			}
		}
		out = append(out, strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace))
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return out
}

// Reroute sends identical content to another location as a separate message.
func Reroute(v *View, location string) *View {
	return v.Derive(Modifiers{
		Location: func(string) string { return location },
	}, UniqueID())
}

// AnnotateChoices appends a numbered text rendering of options, for
// platforms without native choice widgets.
func AnnotateChoices(v *View, options []model.Option) *View {
	rendered := RenderChoices(options)
	return v.Derive(Modifiers{
		Content: func(c string) string {
			if c == "" {
				return rendered
			}
			return c + "\n\n" + rendered
		},
	})
}

func RenderChoices(options []model.Option) string {
	lines := make([]string, 0, len(options))
	for i, o := range options {
		line := fmt.Sprintf("%d. %s", i+1, o.String())
		if o.Description != "" {
			line += " - " + o.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// PerRecipient fans v out into one unique view per visible participant.
// route computes each recipient's location from v's location.
func PerRecipient(v *View, route func(location string, p model.ParticipantID) string) []*View {
	recipients := v.Record().Visibility
	views := make([]*View, 0, len(recipients))
	for _, p := range recipients {
		p := p
		views = append(views, v.Derive(Modifiers{
			Location:   func(l string) string { return route(l, p) },
			Visibility: func([]model.ParticipantID) []model.ParticipantID { return []model.ParticipantID{p} },
		}, UniqueID()))
	}
	return views
}

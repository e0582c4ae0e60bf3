// Package tagfilter holds the tag selection state behind the home page filter:
// a free-text prefix used to narrow autocomplete candidates and the ordered
// list of selected tags. A Filter belongs to a single view and is not safe for
// concurrent use.
package tagfilter

import (
	"net/url"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter is the per-view tag selection state.
type Filter struct {
	text      string
	selected  []string
	observers map[uint64]func([]string)
	nextID    uint64
	lower     cases.Caser
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{
		observers: make(map[uint64]func([]string)),
		lower:     cases.Lower(language.Und),
	}
}

// FromQuery builds a filter from request parameters: every "tag" value is
// added in order and "q" becomes the text filter.
func FromQuery(values url.Values) *Filter {
	f := New()
	for _, tag := range values["tag"] {
		f.Add(tag)
	}
	f.text = values.Get("q")
	return f
}

// Text returns the current text filter.
func (f *Filter) Text() string {
	return f.text
}

// SetText replaces the text filter. It does not change the selection.
func (f *Filter) SetText(text string) {
	f.text = text
}

// Selected returns a copy of the selected tags in insertion order.
func (f *Filter) Selected() []string {
	return slices.Clone(f.selected)
}

// Candidates returns the tags from universe whose lowercase form starts with
// the lowercase text filter, skipping tags that are already selected.
func (f *Filter) Candidates(universe []string) []string {
	prefix := f.lower.String(f.text)
	out := make([]string, 0, len(universe))
	for _, tag := range universe {
		if slices.Contains(f.selected, tag) {
			continue
		}
		if strings.HasPrefix(f.lower.String(tag), prefix) {
			out = append(out, tag)
		}
	}
	return out
}

// Add appends the trimmed tag and clears the text filter. Blank input is
// ignored and nothing is emitted.
func (f *Filter) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	f.selected = append(f.selected, tag)
	f.text = ""
	f.emit()
	return true
}

// SelectCandidate appends a tag picked from the candidate list. Unlike the
// candidate list itself it does not check for an existing entry.
func (f *Filter) SelectCandidate(tag string) bool {
	if strings.TrimSpace(tag) == "" {
		return false
	}
	f.selected = append(f.selected, tag)
	f.text = ""
	f.emit()
	return true
}

// Remove drops the first occurrence of tag. It reports false and emits
// nothing when tag is not selected.
func (f *Filter) Remove(tag string) bool {
	i := slices.Index(f.selected, tag)
	if i < 0 {
		return false
	}
	f.selected = slices.Delete(f.selected, i, i+1)
	f.emit()
	return true
}

// Subscribe registers fn to receive the full selection after every change.
// Calls happen synchronously inside the mutating method.
func (f *Filter) Subscribe(fn func([]string)) (cancel func()) {
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	return func() {
		delete(f.observers, id)
	}
}

// Query encodes the selection and text filter as request parameters.
func (f *Filter) Query() url.Values {
	values := url.Values{}
	for _, tag := range f.selected {
		values.Add("tag", tag)
	}
	if f.text != "" {
		values.Set("q", f.text)
	}
	return values
}

func (f *Filter) emit() {
	if len(f.observers) == 0 {
		return
	}
	ids := make([]uint64, 0, len(f.observers))
	for id := range f.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if fn, ok := f.observers[id]; ok {
			fn(f.Selected())
		}
	}
}

// Package article defines the blog article model and the pure derivations
// (ordering, tag universe, lookup, filtering) computed over a catalog snapshot.
package article

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"time"
)

// RoutePrefix is the path every article route starts with.
const RoutePrefix = "/blog/"

// DateLayout is the normalised form of Article.Date.
const DateLayout = "2006-01-02"

var (
	// ErrNotFound is returned when no article matches a requested route.
	ErrNotFound = errors.New("article not found")
	// ErrDuplicateRoute is returned when two catalog entries share a route.
	ErrDuplicateRoute = errors.New("duplicate article route")
)

// Article is a single blog post as loaded from the content directory.
//
//nolint:govet // field order follows the front matter, not memory layout
type Article struct {
	Route       string    `json:"route"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Tags        []string  `json:"tags"`
	Published   time.Time `json:"-"`
	Path        string    `json:"path,omitempty"`
	HTML        string    `json:"-"`
	Draft       bool      `json:"draft,omitempty"`
}

// HasTag reports whether the article carries tag (case-sensitive).
func (a Article) HasTag(tag string) bool {
	return slices.Contains(a.Tags, tag)
}

// RouteFor returns the article route for slug.
func RouteFor(slug string) string {
	return RoutePrefix + strings.Trim(slug, "/")
}

// SlugFromRoute extracts the slug from an article route.
func SlugFromRoute(route string) (string, bool) {
	slug, ok := strings.CutPrefix(route, RoutePrefix)
	if !ok || slug == "" || strings.Contains(slug, "/") {
		return "", false
	}
	return slug, true
}

// ParseDate accepts the date formats authors use in front matter and returns
// the parsed time. Only the calendar date is significant for ordering.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{DateLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date: " + raw)
}

// Sorted returns a copy of articles ordered by date, newest first. Articles
// sharing a date keep their catalog order.
func Sorted(articles []Article) []Article {
	out := slices.Clone(articles)
	slices.SortStableFunc(out, func(a, b Article) int {
		return cmp.Compare(b.Date, a.Date)
	})
	return out
}

// Tags returns the tag universe of articles: every tag once, sorted ascending.
func Tags(articles []Article) []string {
	set := make(map[string]struct{})
	for _, a := range articles {
		for _, t := range a.Tags {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ByRoute returns the first article whose route equals route.
func ByRoute(articles []Article, route string) (Article, error) {
	for _, a := range articles {
		if a.Route == route {
			return a, nil
		}
	}
	return Article{}, ErrNotFound
}

// Filter keeps the articles that share at least one tag with selected. An
// empty selection keeps everything. Order is preserved.
func Filter(articles []Article, selected []string) []Article {
	if len(selected) == 0 {
		return articles
	}
	want := make(map[string]struct{}, len(selected))
	for _, t := range selected {
		want[t] = struct{}{}
	}
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		for _, t := range a.Tags {
			if _, ok := want[t]; ok {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Related returns the articles other than current that share a tag with it.
func Related(current Article, articles []Article) []Article {
	if len(current.Tags) == 0 {
		return nil
	}
	var out []Article
	for _, a := range Filter(articles, current.Tags) {
		if a.Route != current.Route {
			out = append(out, a)
		}
	}
	return out
}

// CheckRoutes returns ErrDuplicateRoute if two articles share a route.
func CheckRoutes(articles []Article) error {
	seen := make(map[string]string, len(articles))
	for _, a := range articles {
		if prev, ok := seen[a.Route]; ok {
			return &RouteError{Route: a.Route, First: prev, Second: a.Path}
		}
		seen[a.Route] = a.Path
	}
	return nil
}

// RouteError reports the two sources that produced the same route.
type RouteError struct {
	Route  string
	First  string
	Second string
}

func (e *RouteError) Error() string {
	return "duplicate article route " + e.Route + " (" + e.First + ", " + e.Second + ")"
}

// Unwrap lets errors.Is match ErrDuplicateRoute.
func (e *RouteError) Unwrap() error {
	return ErrDuplicateRoute
}

// DedupeTags removes exact duplicates keeping first occurrence and drops blanks.
func DedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Package view composes the catalog repository and the tag filter into the
// state behind the home and article pages, and pushes page metadata to a Sink.
package view

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/catalog"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/tagfilter"
)

// Sink receives page metadata.
type Sink interface {
	SetTitle(title string)
	SetDescription(description string)
	SetKeywords(keywords string)
}

// Meta is a Sink that records the values for rendering into the page head.
type Meta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

func (m *Meta) SetTitle(title string)             { m.Title = title }
func (m *Meta) SetDescription(description string) { m.Description = description }
func (m *Meta) SetKeywords(keywords string)       { m.Keywords = keywords }

// Catalog is the part of the repository the views read.
type Catalog interface {
	Articles(ctx context.Context) ([]article.Article, error)
	Observe(fn func(catalog.Snapshot)) (cancel func())
}

// Home is the filtered article list. It recomputes whenever the catalog is
// republished or the filter selection changes.
type Home struct {
	filter *tagfilter.Filter
	cancel []func()

	mu       sync.Mutex
	snapshot catalog.Snapshot
	selected []string
	articles []article.Article
}

// NewHome wires the home view. The filter stays owned by the caller's
// goroutine; the view only reads the selection it emits.
func NewHome(repo Catalog, filter *tagfilter.Filter, sink Sink, site config.Site) *Home {
	if filter == nil {
		filter = tagfilter.New()
	}
	h := &Home{
		filter:   filter,
		selected: filter.Selected(),
	}

	if sink != nil {
		sink.SetTitle(site.Name)
		sink.SetDescription(site.Description)
		sink.SetKeywords(site.KeywordPrefix)
	}

	h.cancel = append(h.cancel,
		filter.Subscribe(func(selected []string) {
			h.mu.Lock()
			h.selected = selected
			h.recompute()
			h.mu.Unlock()
		}),
		repo.Observe(func(snap catalog.Snapshot) {
			h.mu.Lock()
			h.snapshot = snap
			h.recompute()
			h.mu.Unlock()
		}),
	)
	return h
}

func (h *Home) recompute() {
	h.articles = article.Filter(h.snapshot.Articles, h.selected)
}

// Ready reports whether the catalog has been delivered.
func (h *Home) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot.Ready
}

// Articles returns the filtered articles, newest first. It is empty while the
// catalog is pending.
func (h *Home) Articles() []article.Article {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.articles)
}

// Tags returns the autocomplete candidates for the current filter text.
func (h *Home) Tags() []string {
	h.mu.Lock()
	universe := h.snapshot.Tags
	h.mu.Unlock()
	return h.filter.Candidates(universe)
}

// AllTags returns the full tag universe.
func (h *Home) AllTags() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.snapshot.Tags)
}

// Filter returns the filter the view was built with.
func (h *Home) Filter() *tagfilter.Filter {
	return h.filter
}

// Close detaches the view from the repository and the filter.
func (h *Home) Close() {
	for _, cancel := range h.cancel {
		cancel()
	}
	h.cancel = nil
}

// Detail resolves a single article and its page metadata.
type Detail struct {
	repo Catalog
	sink Sink
	site config.Site

	article  article.Article
	related  []article.Article
	shareURL string
}

// NewDetail constructs the article view.
func NewDetail(repo Catalog, sink Sink, site config.Site) *Detail {
	return &Detail{repo: repo, sink: sink, site: site}
}

// Open looks up /blog/<slug> once the catalog is available. On a miss it
// returns article.ErrNotFound and leaves the sink untouched. pageURL is the
// address the share link points at.
func (d *Detail) Open(ctx context.Context, slug, pageURL string) (article.Article, error) {
	articles, err := d.repo.Articles(ctx)
	if err != nil {
		return article.Article{}, err
	}
	a, err := article.ByRoute(articles, article.RouteFor(slug))
	if err != nil {
		return article.Article{}, err
	}

	d.article = a
	d.related = article.Related(a, articles)
	d.shareURL = d.site.ShareURL + url.QueryEscape(pageURL)

	if d.sink != nil {
		d.sink.SetTitle(a.Title + " | " + d.site.Name)
		d.sink.SetDescription(a.Description)
		d.sink.SetKeywords(Keywords(d.site.KeywordPrefix, a))
	}
	return a, nil
}

// Article returns the opened article.
func (d *Detail) Article() article.Article {
	return d.article
}

// ShareURL returns the sharing-service link for the opened article.
func (d *Detail) ShareURL() string {
	return d.shareURL
}

// Related returns other articles sharing a tag with the opened one, newest first.
func (d *Detail) Related() []article.Article {
	return slices.Clone(d.related)
}

// Keywords joins prefix, the article tags and its keywords with commas,
// dropping blanks and repeats.
func Keywords(prefix string, a article.Article) string {
	all := make([]string, 0, 1+len(a.Tags)+len(a.Keywords))
	all = append(all, prefix)
	all = append(all, a.Tags...)
	all = append(all, a.Keywords...)
	return strings.Join(article.DedupeTags(all), ",")
}

// Package theme holds the HTML templates shared by the server and the static
// exporter, plus the data each page expects.
package theme

import (
	"embed"
	"html/template"
	"io"
	"net/url"
	"time"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/feed"
	"github.com/euforicio/blogmd/internal/view"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// Template names.
const (
	HomePage     = "home"
	ArticlesList = "articles"
	ArticlePage  = "article"
	NotFoundPage = "notfound"
	LoadingPage  = "loading"
)

// Templates renders the blog pages.
type Templates struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Templates, error) {
	funcs := template.FuncMap{
		"formatDate": func(date string) string {
			t, err := time.Parse(article.DateLayout, date)
			if err != nil {
				return date
			}
			return t.Format("Jan 2, 2006")
		},
		"tagURL":    feed.TagPath,
		"pageTitle": pageTitle,
	}

	tmpl, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &Templates{tmpl: tmpl}, nil
}

// Render executes the named template.
func (t *Templates) Render(w io.Writer, name string, data any) error {
	return t.tmpl.ExecuteTemplate(w, name, data)
}

func pageTitle(meta view.Meta, site config.Site) string {
	if meta.Title != "" {
		return meta.Title
	}
	return site.Name
}

// Page is the data every full page needs for its head and chrome.
type Page struct {
	Site      config.Site
	Meta      view.Meta
	Canonical string
	JSONLD    template.JS
	// Live pages subscribe to /events and reload when the catalog changes.
	Live bool
}

// NewPage fills the page chrome. path is the site-relative address of the page.
func NewPage(site config.Site, meta view.Meta, path, jsonld string) Page {
	return Page{
		Site:      site,
		Meta:      meta,
		Canonical: feed.URL(site.URL, path),
		//nolint:gosec // produced by encoding/json from catalog values
		JSONLD: template.JS(jsonld),
	}
}

// Chip is a tag shown in the filter bar with the link that toggles it.
type Chip struct {
	Name string
	URL  string
}

// Home is the data for the article list page.
type Home struct {
	Page
	Heading    string
	Text       string
	Articles   []article.Article
	Selected   []Chip
	Candidates []Chip
	Ready      bool
	// Static pages have no query-driven filter form.
	Static bool
}

// Detail is the data for a single article page.
type Detail struct {
	Page
	Article  article.Article
	Body     template.HTML
	Related  []article.Article
	ShareURL string
}

// NotFound is the data for the 404 page.
type NotFound struct {
	Page
	Path string
}

// SelectionChips builds the chips for the selected tags, each linking to the
// current query without that tag.
func SelectionChips(selected []string, text string) []Chip {
	chips := make([]Chip, 0, len(selected))
	for i, tag := range selected {
		rest := make([]string, 0, len(selected)-1)
		rest = append(rest, selected[:i]...)
		rest = append(rest, selected[i+1:]...)
		chips = append(chips, Chip{Name: tag, URL: homeURL(rest, text)})
	}
	return chips
}

// CandidateChips builds the chips for autocomplete candidates, each linking to
// the current selection plus that tag.
func CandidateChips(selected, candidates []string) []Chip {
	chips := make([]Chip, 0, len(candidates))
	for _, tag := range candidates {
		next := append(append([]string(nil), selected...), tag)
		chips = append(chips, Chip{Name: tag, URL: homeURL(next, "")})
	}
	return chips
}

// StaticChips links each tag to its pre-rendered tag page.
func StaticChips(tags []string) []Chip {
	chips := make([]Chip, 0, len(tags))
	for _, tag := range tags {
		chips = append(chips, Chip{Name: tag, URL: feed.TagPath(tag) + "/"})
	}
	return chips
}

func homeURL(tags []string, text string) string {
	values := url.Values{}
	for _, tag := range tags {
		values.Add("tag", tag)
	}
	if text != "" {
		values.Set("q", text)
	}
	if len(values) == 0 {
		return "/"
	}
	return "/?" + values.Encode()
}

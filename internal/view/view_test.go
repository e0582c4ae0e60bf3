package view_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/catalog"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/tagfilter"
	"github.com/euforicio/blogmd/internal/view"
)

var site = config.Site{
	Name:          "Site",
	Description:   "A blog",
	ShareURL:      "https://share.example/?u=",
	KeywordPrefix: "blog",
}

func newRepo(articles ...article.Article) *catalog.Repository {
	repo := catalog.New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if articles != nil {
		repo.Publish(articles)
	}
	return repo
}

func routes(articles []article.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Route
	}
	return out
}

func sample() []article.Article {
	return []article.Article{
		{Route: "/blog/a1", Title: "A1", Date: "2024-03-01", Tags: []string{"go", "web"}},
		{Route: "/blog/a2", Title: "A2", Date: "2024-02-01", Tags: []string{"rust"}},
		{Route: "/blog/a3", Title: "A3", Date: "2024-01-01", Tags: []string{"go"}},
	}
}

func TestDetailOpenSetsMetadata(t *testing.T) {
	t.Parallel()
	repo := newRepo(article.Article{
		Route:       "/blog/abc",
		Title:       "Test",
		Date:        "2024-01-01",
		Description: "About things",
		Tags:        []string{"go", "blog"},
		Keywords:    []string{"golang", "go"},
	})
	var meta view.Meta
	d := view.NewDetail(repo, &meta, site)

	got, err := d.Open(context.Background(), "abc", "https://blog.example.com/blog/abc")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Route != "/blog/abc" {
		t.Fatalf("unexpected article %+v", got)
	}

	want := view.Meta{
		Title:       "Test | Site",
		Description: "About things",
		Keywords:    "blog,go,golang",
	}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}
	if d.ShareURL() != "https://share.example/?u=https%3A%2F%2Fblog.example.com%2Fblog%2Fabc" {
		t.Fatalf("unexpected share URL %q", d.ShareURL())
	}
}

func TestDetailOpenMissLeavesSinkUntouched(t *testing.T) {
	t.Parallel()
	repo := newRepo(sample()...)
	meta := view.Meta{Title: "before"}
	d := view.NewDetail(repo, &meta, site)

	_, err := d.Open(context.Background(), "missing", "https://blog.example.com/blog/missing")
	if !errors.Is(err, article.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if diff := cmp.Diff(view.Meta{Title: "before"}, meta); diff != "" {
		t.Fatalf("sink changed on miss (-want +got):\n%s", diff)
	}
}

func TestDetailOpenWaitsForCatalog(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	d := view.NewDetail(repo, nil, site)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Open(ctx, "a1", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error while pending, got %v", err)
	}
}

func TestDetailRelated(t *testing.T) {
	t.Parallel()
	repo := newRepo(sample()...)
	d := view.NewDetail(repo, nil, site)
	if _, err := d.Open(context.Background(), "a1", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff([]string{"/blog/a3"}, routes(d.Related())); diff != "" {
		t.Fatalf("unexpected related (-want +got):\n%s", diff)
	}
}

func TestHomeFiltersBySelection(t *testing.T) {
	t.Parallel()
	repo := newRepo(sample()...)
	filter := tagfilter.New()
	var meta view.Meta
	home := view.NewHome(repo, filter, &meta, site)
	defer home.Close()

	if meta.Title != "Site" || meta.Description != "A blog" {
		t.Fatalf("unexpected home metadata %+v", meta)
	}
	if diff := cmp.Diff([]string{"/blog/a1", "/blog/a2", "/blog/a3"}, routes(home.Articles())); diff != "" {
		t.Fatalf("empty selection should list everything (-want +got):\n%s", diff)
	}

	filter.Add("go")
	if diff := cmp.Diff([]string{"/blog/a1", "/blog/a3"}, routes(home.Articles())); diff != "" {
		t.Fatalf("unexpected filtered list (-want +got):\n%s", diff)
	}

	filter.Add("rust")
	if diff := cmp.Diff([]string{"/blog/a1", "/blog/a2", "/blog/a3"}, routes(home.Articles())); diff != "" {
		t.Fatalf("selection should be OR (-want +got):\n%s", diff)
	}

	filter.Remove("go")
	if diff := cmp.Diff([]string{"/blog/a2"}, routes(home.Articles())); diff != "" {
		t.Fatalf("unexpected list after remove (-want +got):\n%s", diff)
	}

	filter.SetText("w")
	if diff := cmp.Diff([]string{"web"}, home.Tags()); diff != "" {
		t.Fatalf("unexpected candidates (-want +got):\n%s", diff)
	}
}

func TestHomeRecomputesOnRepublish(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	filter := tagfilter.New()
	filter.Add("go")
	home := view.NewHome(repo, filter, nil, site)
	defer home.Close()

	if home.Ready() || len(home.Articles()) != 0 || len(home.Tags()) != 0 {
		t.Fatalf("expected empty pending view")
	}

	repo.Publish(sample())
	if diff := cmp.Diff([]string{"/blog/a1", "/blog/a3"}, routes(home.Articles())); diff != "" {
		t.Fatalf("unexpected list after delivery (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"rust", "web"}, home.Tags()); diff != "" {
		t.Fatalf("unexpected candidates (-want +got):\n%s", diff)
	}

	repo.Publish(sample()[1:])
	if diff := cmp.Diff([]string{"/blog/a3"}, routes(home.Articles())); diff != "" {
		t.Fatalf("unexpected list after redelivery (-want +got):\n%s", diff)
	}
}

func TestHomeCloseStopsUpdates(t *testing.T) {
	t.Parallel()
	repo := newRepo(sample()...)
	filter := tagfilter.New()
	home := view.NewHome(repo, filter, nil, site)
	home.Close()

	filter.Add("rust")
	repo.Publish(nil)
	if got := len(home.Articles()); got != 3 {
		t.Fatalf("closed view changed, now has %d articles", got)
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()
	a := article.Article{Tags: []string{"go", "web"}, Keywords: []string{"web", "", "http"}}
	if got := view.Keywords("blog", a); got != "blog,go,web,http" {
		t.Fatalf("unexpected keywords %q", got)
	}
	if got := view.Keywords("", article.Article{}); got != "" {
		t.Fatalf("expected empty keywords, got %q", got)
	}
}

package renderer_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/euforicio/blogmd/internal/renderer"
)

func newService() *renderer.Service {
	return renderer.NewService(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestRenderArticleMetadataAndHighlighting(t *testing.T) {
	t.Parallel()
	svc := newService()

	content := []byte("---\n" +
		"title: Example Post\n" +
		"description: Sample description\n" +
		"date: 2024-03-09\n" +
		"slug: example-post\n" +
		"keywords: golang, blogging\n" +
		"tags:\n" +
		"  - go\n" +
		"  - web\n" +
		"---\n\n" +
		"# Hello\n\n" +
		"```go\n" +
		"package main\n\n" +
		"import \"fmt\"\n\n" +
		"func main() {\n" +
		"  fmt.Println(\"hello\")\n" +
		"}\n" +
		"```\n")

	modTime := time.Unix(1_000, 0)
	doc, err := svc.Render(context.Background(), "posts/example.md", modTime, content)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	meta := doc.Metadata
	if meta.Title != "Example Post" {
		t.Fatalf("expected title 'Example Post', got %q", meta.Title)
	}
	if meta.Description != "Sample description" {
		t.Fatalf("unexpected description: %q", meta.Description)
	}
	if meta.Date != "2024-03-09" {
		t.Fatalf("unexpected date: %q", meta.Date)
	}
	if meta.Slug != "example-post" {
		t.Fatalf("unexpected slug: %q", meta.Slug)
	}
	if diff := cmp.Diff([]string{"go", "web"}, meta.Tags); diff != "" {
		t.Fatalf("unexpected tags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"golang", "blogging"}, meta.Keywords); diff != "" {
		t.Fatalf("unexpected keywords (-want +got):\n%s", diff)
	}
	if meta.Draft {
		t.Fatalf("expected published article")
	}

	html := doc.HTML
	if !strings.Contains(html, `<div class="code-block-wrapper"><span class="code-lang code-lang-go">go</span>`) {
		t.Fatalf("expected language badge wrapper, got %s", html)
	}
	if !strings.Contains(html, `class="chroma"`) {
		t.Fatalf("expected chroma highlighter output, got %s", html)
	}
	if !strings.Contains(html, `<span class="kn">package</span>`) {
		t.Fatalf("expected go syntax tokens in HTML, got %s", html)
	}
	if !doc.Modified.Equal(modTime) {
		t.Fatalf("expected modified timestamp to match, got %v", doc.Modified)
	}
}

func TestRenderPlainFenceHasNoBadge(t *testing.T) {
	t.Parallel()
	doc, err := newService().Render(context.Background(), "plain.md", time.Time{}, []byte("```\nplain text\n```\n"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(doc.HTML, "code-lang") || strings.Contains(doc.HTML, "code-block-wrapper") {
		t.Fatalf("unexpected badge for fence without language: %s", doc.HTML)
	}
	if !strings.Contains(doc.HTML, "plain text") {
		t.Fatalf("missing code content: %s", doc.HTML)
	}
}

func TestRenderDraftFlags(t *testing.T) {
	t.Parallel()
	svc := newService()
	ctx := context.Background()

	cases := map[string]string{
		"draft.md":       "---\ntitle: A\ndraft: true\n---\nbody\n",
		"unpublished.md": "---\ntitle: B\npublished: false\n---\nbody\n",
	}
	for name, src := range cases {
		doc, err := svc.Render(ctx, name, time.Time{}, []byte(src))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !doc.Metadata.Draft {
			t.Fatalf("%s: expected draft", name)
		}
	}
}

func TestRenderRewritesArticleLinksAndImages(t *testing.T) {
	t.Parallel()
	src := []byte("See [the intro](../intro/Hello_World.md#setup) and [docs](https://go.dev).\n\n" +
		"![diagram](img/diagram.png)\n")
	doc, err := newService().Render(context.Background(), "posts/current.md", time.Time{}, src)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		`href="/blog/hello-world#setup"`,
		`href="https://go.dev"`,
		`src="/media/posts/img/diagram.png"`,
	} {
		if !strings.Contains(doc.HTML, want) {
			t.Fatalf("expected %s in %s", want, doc.HTML)
		}
	}
}

func TestRenderMetadataKeyPrecedence(t *testing.T) {
	t.Parallel()
	svc := newService()
	src := []byte("---\n" +
		"summary: from-summary\n" +
		"description: from-description\n" +
		"publishdate: 2023-05-05\n" +
		"date: 2024-01-01\n" +
		"Title: Upper\n" +
		"title: lower\n" +
		"---\nbody\n")

	// Map iteration order is random, so render repeatedly to catch order dependence.
	for i := range 50 {
		doc, err := svc.Render(context.Background(), "pair.md", time.Time{}, src)
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		svc.Invalidate("pair.md")
		meta := doc.Metadata
		if meta.Description != "from-description" || meta.Date != "2024-01-01" || meta.Title != "lower" {
			t.Fatalf("render %d: got description %q, date %q, title %q", i, meta.Description, meta.Date, meta.Title)
		}
	}

	doc, err := svc.Render(context.Background(), "fallback.md", time.Time{},
		[]byte("---\nsummary: only-summary\npublishdate: 2023-05-05\n---\nbody\n"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if doc.Metadata.Description != "only-summary" || doc.Metadata.Date != "2023-05-05" {
		t.Fatalf("expected fallback keys, got %+v", doc.Metadata)
	}
}

func TestRenderRecordsLinkTargets(t *testing.T) {
	t.Parallel()
	src := []byte("[a](../intro/Hello_World.md#setup), [b](notes.md), [c](other/notes.md) and [d](/top.md).\n")
	doc, err := newService().Render(context.Background(), "posts/current.md", time.Time{}, src)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := map[string]string{
		"/blog/hello-world": "intro/Hello_World.md",
		"/blog/notes":       "",
		"/blog/top":         "top.md",
	}
	if diff := cmp.Diff(want, doc.Links); diff != "" {
		t.Fatalf("unexpected links (-want +got):\n%s", diff)
	}

	doc, err = newService().Render(context.Background(), "ja.md", time.Time{}, []byte("[x](日本語.md)\n"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	href := renderer.EscapeHref("/blog/日本語")
	if !strings.Contains(doc.HTML, `href="`+href+`"`) || doc.Links[href] != "日本語.md" {
		t.Fatalf("expected escaped unicode link %s in %s (links %v)", href, doc.HTML, doc.Links)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"hello-world.md":     "hello-world",
		"Hello World.md":     "hello-world",
		"  Go 1.22: Ranges ": "go-1-22-ranges",
		"__x__":              "x",
		"":                   "",
		"日本語.md":             "日本語",
		"Ünïcode Tïtle.MD":   "ünïcode-tïtle",
		"Привет, мир.md":     "привет-мир",
	}
	for in, want := range cases {
		if got := renderer.Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderCaching(t *testing.T) {
	t.Parallel()
	svc := newService()

	ctx := context.Background()
	path := "posts/cache.md"
	modTime := time.Unix(2_000, 0)

	doc1, err := svc.Render(ctx, path, modTime, []byte("# First"))
	if err != nil {
		t.Fatalf("first render: %v", err)
	}

	doc2, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc2.HTML != doc1.HTML {
		t.Fatalf("expected cached HTML, got different output")
	}

	svc.Invalidate(path)
	doc3, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("third render: %v", err)
	}
	if !strings.Contains(doc3.HTML, "Second") {
		t.Fatalf("expected invalidated entry to re-render, got %s", doc3.HTML)
	}

	doc4, err := svc.Render(ctx, path, modTime.Add(time.Second), []byte("# Third"))
	if err != nil {
		t.Fatalf("fourth render: %v", err)
	}
	if !strings.Contains(doc4.HTML, "Third") {
		t.Fatalf("expected updated render after mod time change, got %s", doc4.HTML)
	}
}

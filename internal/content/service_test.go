package content_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/renderer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fixtureRoot() string {
	return filepath.Join("..", "..", "testdata", "blog")
}

func routes(articles []article.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Route
	}
	return out
}

func TestLoadBuildsCatalogInPathOrder(t *testing.T) {
	t.Parallel()
	articles, err := content.Load(context.Background(), fixtureRoot(), renderer.NewService(quietLogger()), content.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"/blog/angular-signals", "/blog/hello-world", "/blog/rust-notes"}
	if diff := cmp.Diff(want, routes(articles)); diff != "" {
		t.Fatalf("unexpected routes (-want +got):\n%s", diff)
	}

	signals := articles[0]
	if signals.Title != "Angular Signals" || signals.Date != "2021-05-01" {
		t.Fatalf("unexpected article: %+v", signals)
	}
	if diff := cmp.Diff([]string{"angular", "web"}, signals.Tags); diff != "" {
		t.Fatalf("tags should be deduplicated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"angular", "reactivity"}, signals.Keywords); diff != "" {
		t.Fatalf("unexpected keywords (-want +got):\n%s", diff)
	}
	if signals.Path != "frameworks/signals.md" {
		t.Fatalf("unexpected path %q", signals.Path)
	}

	hello := articles[1]
	if !strings.Contains(hello.HTML, `href="/blog/rust-notes"`) {
		t.Fatalf("expected article link rewritten, got %s", hello.HTML)
	}
	if !strings.Contains(hello.HTML, `src="/media/img/gopher.svg"`) {
		t.Fatalf("expected media image path, got %s", hello.HTML)
	}
}

func TestLoadIncludesDraftsWhenAsked(t *testing.T) {
	t.Parallel()
	articles, err := content.Load(context.Background(), fixtureRoot(), renderer.NewService(quietLogger()), content.Options{IncludeDrafts: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	found := false
	for _, a := range articles {
		if a.Route == "/blog/upcoming" {
			found = a.Draft
		}
	}
	if !found {
		t.Fatalf("expected draft article in %v", routes(articles))
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	t.Parallel()
	cases := map[string]map[string]string{
		"missing date": {
			"a.md": "---\ntitle: A\n---\nbody\n",
		},
		"invalid date": {
			"a.md": "---\ntitle: A\ndate: next tuesday\n---\nbody\n",
		},
		"duplicate route": {
			"a.md":      "---\ntitle: A\ndate: 2024-01-01\nslug: same\n---\n",
			"b/same.md": "---\ntitle: B\ndate: 2024-01-02\n---\n",
		},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			for rel, body := range files {
				writeFile(t, filepath.Join(root, rel), body)
			}
			_, err := content.Load(context.Background(), root, renderer.NewService(quietLogger()), content.Options{})
			if err == nil {
				t.Fatalf("expected load error")
			}
			if name == "duplicate route" && !errors.Is(err, article.ErrDuplicateRoute) {
				t.Fatalf("expected ErrDuplicateRoute, got %v", err)
			}
		})
	}
}

func TestLoadSlugsNonASCIIFileNames(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.md"), "---\ntitle: Hello\ndate: 2024-01-01\n---\nbody\n")
	writeFile(t, filepath.Join(root, "日本語.md"), "---\ntitle: Japanese\ndate: 2024-01-02\n---\nbody\n")
	writeFile(t, filepath.Join(root, "!!!.md"), "---\ntitle: Only The Title\ndate: 2024-01-03\n---\nbody\n")

	articles, err := content.Load(context.Background(), root, renderer.NewService(quietLogger()), content.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"/blog/only-the-title", "/blog/hello", "/blog/日本語"}
	if diff := cmp.Diff(want, routes(articles)); diff != "" {
		t.Fatalf("unexpected routes (-want +got):\n%s", diff)
	}
}

func TestLoadResolvesLinksToSlugOverrides(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.md"),
		"---\ntitle: Index\ndate: 2024-01-01\n---\n"+
			"[renamed](posts/Old_Name.md#part), [again](posts/Old_Name.md) and [plain](plain.md).\n")
	writeFile(t, filepath.Join(root, "posts", "Old_Name.md"), "---\ntitle: Renamed\ndate: 2024-01-02\nslug: new-name\n---\nbody\n")
	writeFile(t, filepath.Join(root, "plain.md"), "---\ntitle: Plain\ndate: 2024-01-03\n---\nbody\n")

	articles, err := content.Load(context.Background(), root, renderer.NewService(quietLogger()), content.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	index, err := article.ByRoute(articles, "/blog/index")
	if err != nil {
		t.Fatalf("ByRoute: %v", err)
	}
	for _, want := range []string{
		`href="/blog/new-name#part"`,
		`href="/blog/new-name"`,
		`href="/blog/plain"`,
	} {
		if !strings.Contains(index.HTML, want) {
			t.Fatalf("expected %s in %s", want, index.HTML)
		}
	}
	if strings.Contains(index.HTML, "/blog/old-name") {
		t.Fatalf("link still points at the file name slug: %s", index.HTML)
	}
}

func TestMediaFilesSkipsMarkdownAndHidden(t *testing.T) {
	t.Parallel()
	files, err := content.MediaFiles(fixtureRoot(), content.Options{})
	if err != nil {
		t.Fatalf("MediaFiles: %v", err)
	}
	if diff := cmp.Diff([]string{"img/gopher.svg"}, files); diff != "" {
		t.Fatalf("unexpected media (-want +got):\n%s", diff)
	}

	files, err = content.MediaFiles(fixtureRoot(), content.Options{ExcludeDirs: []string{"IMG"}})
	if err != nil {
		t.Fatalf("MediaFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected excluded dir to be skipped, got %v", files)
	}
}

func TestSubscribeDeliversCurrentThenReloads(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "first.md"), "---\ntitle: First\ndate: 2024-01-01\ntags: [go]\n---\n")

	svc, err := content.NewService(context.Background(), root, renderer.NewService(quietLogger()), quietLogger(), content.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := svc.Subscribe(ctx)

	got := receive(t, ch)
	if diff := cmp.Diff([]string{"/blog/first"}, routes(got)); diff != "" {
		t.Fatalf("unexpected initial catalog (-want +got):\n%s", diff)
	}

	writeFile(t, filepath.Join(root, "second.md"), "---\ntitle: Second\ndate: 2024-02-01\n---\n")
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got = receive(t, ch)
	if diff := cmp.Diff([]string{"/blog/first", "/blog/second"}, routes(got)); diff != "" {
		t.Fatalf("unexpected reloaded catalog (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not close")
	}
}

func TestFailedReloadKeepsPreviousCatalog(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "first.md"), "---\ntitle: First\ndate: 2024-01-01\n---\n")

	svc, err := content.NewService(context.Background(), root, renderer.NewService(quietLogger()), quietLogger(), content.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	writeFile(t, filepath.Join(root, "broken.md"), "---\ntitle: Broken\n---\n")
	if err := svc.Reload(context.Background()); err == nil {
		t.Fatalf("expected reload error")
	}

	current, ok := svc.Current()
	if !ok {
		t.Fatalf("expected a current catalog")
	}
	if diff := cmp.Diff([]string{"/blog/first"}, routes(current)); diff != "" {
		t.Fatalf("previous catalog should stay current (-want +got):\n%s", diff)
	}
}

func TestWatchModeReloadsOnFileChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.md"), "---\ntitle: Welcome\ndate: 2024-01-01\n---\n")

	svc, err := content.NewService(context.Background(), root, renderer.NewService(quietLogger()), quietLogger(), content.Options{Watch: true})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := svc.Subscribe(ctx)
	receive(t, ch)

	// Give the watcher time to attach.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(root, "index.md"), "---\ntitle: Welcome Home\ndate: 2024-01-01\n---\n")

	timeout := time.After(3 * time.Second)
	for {
		select {
		case got, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed early")
			}
			if len(got) == 1 && got[0].Title == "Welcome Home" {
				return
			}
		case <-timeout:
			t.Fatalf("did not receive reloaded catalog")
		}
	}
}

func receive(t *testing.T, ch <-chan []article.Article) []article.Article {
	t.Helper()
	select {
	case got, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for catalog")
	}
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

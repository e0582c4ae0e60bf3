package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/renderer"
)

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
}

// Load walks root, renders every markdown file and returns the catalog in
// lexical path order. Drafts are skipped unless opts.IncludeDrafts is set.
func Load(ctx context.Context, root string, r *renderer.Service, opts Options) ([]article.Article, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if r == nil {
		return nil, errors.New("renderer service must be provided")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	files, err := walkFiles(absRoot, opts, isMarkdownPath)
	if err != nil {
		return nil, err
	}

	results := make([]*loaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range files {
		g.Go(func() error {
			a, err := loadArticle(gctx, absRoot, rel, r, opts)
			if err != nil {
				return err
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]*loaded, 0, len(results))
	for _, l := range results {
		if l != nil {
			kept = append(kept, l)
		}
	}
	resolveLinks(kept)

	articles := make([]article.Article, 0, len(kept))
	for _, l := range kept {
		articles = append(articles, l.article)
	}
	if err := article.CheckRoutes(articles); err != nil {
		return nil, err
	}
	return articles, nil
}

type loaded struct {
	article article.Article
	links   map[string]string
}

// resolveLinks points links between articles at the route the target actually
// has, which differs from the file name slug when front matter sets a slug.
func resolveLinks(articles []*loaded) {
	routes := make(map[string]string, len(articles))
	for _, l := range articles {
		routes[l.article.Path] = l.article.Route
	}
	for _, l := range articles {
		var pairs []string
		for href, target := range l.links {
			route, ok := routes[target]
			if target == "" || !ok {
				continue
			}
			to := renderer.EscapeHref(route)
			if to == href {
				continue
			}
			pairs = append(pairs, `href="`+href+`"`, `href="`+to+`"`, `href="`+href+`#`, `href="`+to+`#`)
		}
		if len(pairs) > 0 {
			l.article.HTML = strings.NewReplacer(pairs...).Replace(l.article.HTML)
		}
	}
}

// MediaFiles lists the non-markdown files under root that articles may
// reference, as slash-separated paths relative to root. Hidden and excluded
// directories are skipped the same way Load skips them.
func MediaFiles(root string, opts Options) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return walkFiles(absRoot, opts, func(name string) bool {
		return !isMarkdownPath(name)
	})
}

func walkFiles(absRoot string, opts Options, keep func(name string) bool) ([]string, error) {
	exclude := make(map[string]struct{})
	for _, name := range slices.Concat(defaultExcludedDirs, opts.ExcludeDirs) {
		if name = strings.TrimSpace(name); name != "" {
			exclude[strings.ToLower(name)] = struct{}{}
		}
	}

	var files []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == absRoot {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if _, skip := exclude[strings.ToLower(d.Name())]; skip || (hidden && !opts.IncludeHidden) {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden && !opts.IncludeHidden {
			return nil
		}
		if !d.Type().IsRegular() || !keep(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, err)
	}
	return files, nil
}

func loadArticle(ctx context.Context, absRoot, rel string, r *renderer.Service, opts Options) (*loaded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs := filepath.Join(absRoot, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file %s: %w", rel, err)
	}
	data, err := os.ReadFile(abs) //nolint:gosec // abs is constructed from the walked root
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", rel, err)
	}

	doc, err := r.Render(ctx, rel, info.ModTime(), data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rel, err)
	}
	meta := doc.Metadata
	if meta.Draft && !opts.IncludeDrafts {
		return nil, nil
	}

	slug := meta.Slug
	if slug == "" {
		slug = renderer.Slugify(filepath.Base(rel))
	}
	if slug == "" {
		slug = renderer.Slugify(meta.Title)
	}
	if slug == "" || strings.Contains(slug, "/") {
		return nil, fmt.Errorf("%s: invalid slug %q", rel, slug)
	}

	if meta.Date == "" {
		return nil, fmt.Errorf("%s: missing date", rel)
	}
	published, err := article.ParseDate(meta.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}

	title := meta.Title
	if title == "" {
		title = fileDisplayName(filepath.Base(rel))
	}

	return &loaded{article: article.Article{
		Route:       article.RouteFor(slug),
		Slug:        slug,
		Title:       title,
		Date:        published.Format(article.DateLayout),
		Description: meta.Description,
		Keywords:    meta.Keywords,
		Tags:        article.DedupeTags(meta.Tags),
		Published:   published,
		Path:        rel,
		HTML:        doc.HTML,
		Draft:       meta.Draft,
	}, links: doc.Links}, nil
}

func fileDisplayName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.TrimSpace(name)
}

func isMarkdownPath(path string) bool {
	name := strings.ToLower(path)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

// Package exporter generates a static copy of the blog: every page the server
// renders, plus the feeds, the media files and the asset bundle.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/catalog"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/feed"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/tagfilter"
	"github.com/euforicio/blogmd/internal/theme"
	"github.com/euforicio/blogmd/internal/view"
	blogstatic "github.com/euforicio/blogmd/static"
)

const indexHTML = "index.html"

// Options configure the static export behavior.
type Options struct {
	Root          string
	OutputDir     string
	AssetsDir     string
	Site          config.Site
	ExcludeDirs   []string
	IncludeHidden bool
	IncludeDrafts bool
	CleanOutput   bool
}

// Result summarizes a finished export.
type Result struct {
	Articles int
	Tags     int
	Media    int
}

// Exporter renders the catalog into a static HTML bundle.
type Exporter struct {
	renderer  *renderer.Service
	templates *theme.Templates
	logger    *slog.Logger
}

// New constructs an exporter instance ready for use.
func New(logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := theme.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Exporter{
		renderer:  renderer.NewService(logger),
		templates: tmpl,
		logger:    logger.With("component", "exporter"),
	}, nil
}

// Export loads the articles under opts.Root and writes the site to opts.OutputDir.
//
//nolint:gocognit,gocyclo // export orchestration requires sequential steps and validation
func (e *Exporter) Export(ctx context.Context, opts Options) (Result, error) {
	var res Result
	if strings.TrimSpace(opts.Root) == "" {
		return res, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return res, errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.Site.Name) == "" {
		opts.Site.Name = "Blog"
	}
	opts.Site.URL = strings.TrimRight(opts.Site.URL, "/")

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return res, fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return res, fmt.Errorf("resolve output: %w", err)
	}
	if outputDir == rootDir || strings.HasPrefix(rootDir, outputDir+string(filepath.Separator)) {
		return res, fmt.Errorf("output directory %s would overwrite the content root", outputDir)
	}

	started := time.Now()
	loadOpts := content.Options{
		ExcludeDirs:   opts.ExcludeDirs,
		IncludeHidden: opts.IncludeHidden,
		IncludeDrafts: opts.IncludeDrafts,
	}
	// The output directory may live inside the content root.
	if rel, err := filepath.Rel(rootDir, outputDir); err == nil && !strings.HasPrefix(rel, "..") {
		loadOpts.ExcludeDirs = append(loadOpts.ExcludeDirs, strings.SplitN(filepath.ToSlash(rel), "/", 2)[0])
	}

	articles, err := content.Load(ctx, rootDir, e.renderer, loadOpts)
	if err != nil {
		return res, fmt.Errorf("load articles: %w", err)
	}
	repo := catalog.New(nil, e.logger)
	repo.Publish(articles)
	snap := repo.Snapshot()

	if err := e.prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return res, err
	}
	if err := e.copyAssetBundle(filepath.Join(outputDir, "static"), opts.AssetsDir); err != nil {
		return res, err
	}

	site := opts.Site
	tagChips := theme.StaticChips(snap.Tags)

	var homeMeta view.Meta
	home := view.NewHome(repo, nil, &homeMeta, site)
	err = e.writePage(outputDir, indexHTML, theme.HomePage, theme.Home{
		Page:       theme.NewPage(site, homeMeta, "/", feed.WebsiteJSONLD(site)),
		Articles:   home.Articles(),
		Candidates: tagChips,
		Ready:      true,
		Static:     true,
	})
	home.Close()
	if err != nil {
		return res, fmt.Errorf("write home page: %w", err)
	}

	for _, a := range snap.Articles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.writeArticle(ctx, outputDir, repo, site, a); err != nil {
			return res, fmt.Errorf("write article %s: %w", a.Route, err)
		}
		res.Articles++
	}

	for _, tag := range snap.Tags {
		if strings.ContainsAny(tag, `/\`) || tag == "." || tag == ".." {
			e.logger.Warn("skipping tag page with unsafe name", slog.String("tag", tag))
			continue
		}
		if err := e.writeTag(outputDir, repo, site, tag, tagChips); err != nil {
			return res, fmt.Errorf("write tag %s: %w", tag, err)
		}
		res.Tags++
	}

	notFound := theme.NewPage(site, view.Meta{Title: "Not found | " + site.Name}, "/404.html", "")
	if err := e.writePage(outputDir, "404.html", theme.NotFoundPage, theme.NotFound{Page: notFound}); err != nil {
		return res, fmt.Errorf("write not found page: %w", err)
	}

	if err := writeFile(outputDir, "feed.xml", func(w io.Writer) error {
		return feed.WriteRSS(w, site, snap.Articles)
	}); err != nil {
		return res, fmt.Errorf("write feed: %w", err)
	}
	if err := writeFile(outputDir, "sitemap.xml", func(w io.Writer) error {
		return feed.WriteSitemap(w, site, snap.Articles, snap.Tags)
	}); err != nil {
		return res, fmt.Errorf("write sitemap: %w", err)
	}
	if err := writeArticlesJSON(outputDir, snap); err != nil {
		return res, err
	}

	media, err := content.MediaFiles(rootDir, loadOpts)
	if err != nil {
		return res, fmt.Errorf("list media: %w", err)
	}
	if err := copyMedia(rootDir, filepath.Join(outputDir, "media"), media); err != nil {
		return res, err
	}
	res.Media = len(media)

	e.logger.Info("export complete",
		slog.Int("articles", res.Articles),
		slog.Int("tags", res.Tags),
		slog.Int("media", res.Media),
		slog.String("output", outputDir),
		slog.Duration("duration", time.Since(started)))

	return res, nil
}

func (e *Exporter) writeArticle(ctx context.Context, outputDir string, repo *catalog.Repository, site config.Site, a article.Article) error {
	var meta view.Meta
	detail := view.NewDetail(repo, &meta, site)
	if _, err := detail.Open(ctx, a.Slug, feed.URL(site.URL, a.Route)); err != nil {
		return err
	}
	rel := filepath.Join("blog", a.Slug, indexHTML)
	return e.writePage(outputDir, rel, theme.ArticlePage, theme.Detail{
		Page:    theme.NewPage(site, meta, a.Route, feed.BlogPostingJSONLD(site, a)),
		Article: a,
		//nolint:gosec // rendered from the site owner's markdown
		Body:     template.HTML(a.HTML),
		Related:  detail.Related(),
		ShareURL: detail.ShareURL(),
	})
}

func (e *Exporter) writeTag(outputDir string, repo *catalog.Repository, site config.Site, tag string, chips []theme.Chip) error {
	filter := tagfilter.New()
	var meta view.Meta
	home := view.NewHome(repo, filter, &meta, site)
	defer home.Close()
	filter.Add(tag)

	meta.Title = "#" + tag + " | " + site.Name
	candidates := make([]theme.Chip, 0, len(chips))
	for _, c := range chips {
		if c.Name != tag {
			candidates = append(candidates, c)
		}
	}
	rel := filepath.Join("tags", tag, indexHTML)
	return e.writePage(outputDir, rel, theme.HomePage, theme.Home{
		Page:       theme.NewPage(site, meta, feed.TagPath(tag)+"/", ""),
		Heading:    "Tagged " + tag,
		Articles:   home.Articles(),
		Selected:   []theme.Chip{{Name: tag, URL: "/"}},
		Candidates: candidates,
		Ready:      true,
		Static:     true,
	})
}

func (e *Exporter) prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755) //nolint:gosec // standard directory permissions
}

func (e *Exporter) writePage(root, rel, name string, data any) error {
	return writeFile(root, rel, func(w io.Writer) error {
		return e.templates.Render(w, name, data)
	})
}

func (e *Exporter) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	override = strings.TrimSpace(override)
	if override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			if err := blogstatic.CopyFS(os.DirFS(override), dest); err != nil {
				return fmt.Errorf("copy override assets: %w", err)
			}
			e.logger.Debug("exporter using override assets", slog.String("source", override))
			return nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat assets override: %w", err)
		}
	}

	if err := blogstatic.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	return nil
}

// writeFile renders into memory first so a failed render leaves no partial file.
func writeFile(root, rel string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	dest := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
}

func writeArticlesJSON(output string, snap catalog.Snapshot) error {
	payload := struct {
		GeneratedAt time.Time         `json:"generatedAt"`
		Articles    []article.Article `json:"articles"`
		Tags        []string          `json:"tags"`
	}{
		GeneratedAt: time.Now().UTC(),
		Articles:    snap.Articles,
		Tags:        snap.Tags,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode articles json: %w", err)
	}
	dest := filepath.Join(output, "articles.json")
	if err := os.WriteFile(dest, raw, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write articles.json: %w", err)
	}
	return nil
}

func copyMedia(root, dest string, files []string) error {
	for _, rel := range files {
		src := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(src) //nolint:gosec // src comes from walking root
		if err != nil {
			return fmt.Errorf("read media %s: %w", rel, err)
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil { //nolint:gosec // standard file permissions
			return fmt.Errorf("write media %s: %w", rel, err)
		}
	}
	return nil
}

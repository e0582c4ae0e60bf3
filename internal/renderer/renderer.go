// Package renderer converts markdown articles to HTML with caching and syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/blogmd/internal/renderer/transform"
)

// DefaultStyle is the chroma style used for code blocks and the generated stylesheet.
const DefaultStyle = "github-dark"

// Metadata captures the front matter of an article.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Date        string
	Slug        string
	Keywords    []string
	Tags        []string
	Draft       bool
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || m.Date != "" || len(m.Tags) > 0 || len(m.Keywords) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document represents a rendered markdown file.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Metadata Metadata
	Modified time.Time
	Raw      string
	// Links maps each article href written into HTML (as it appears in the
	// attribute) to the content path of the markdown file it points at. An
	// empty value means the href was produced by more than one target.
	Links map[string]string
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

// Service renders markdown into HTML with caching.
// Rendered documents are cached by path and modification time.
type Service struct {
	md     goldmark.Markdown
	logger *slog.Logger
	cache  sync.Map // map[string]cacheEntry
}

var (
	docPathKey  = parser.NewContextKey()
	docLinksKey = parser.NewContextKey()
)

// linkTransformer rewrites links between articles to /blog/ routes and
// relative image paths to /media/.
type linkTransformer struct{}

func (t *linkTransformer) Transform(node *ast.Document, _ text.Reader, pc parser.Context) {
	currentPath := ""
	if v := pc.Get(docPathKey); v != nil {
		if str, ok := v.(string); ok {
			currentPath = str
		}
	}
	currentDir := path.Dir(currentPath)

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			t.transformLink(typed, currentDir, pc)
		case *ast.Image:
			t.transformImage(typed, currentDir)
		}
		return ast.WalkContinue, nil
	})
}

func (t *linkTransformer) transformLink(link *ast.Link, currentDir string, pc parser.Context) {
	dest := string(link.Destination)
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/blog/") {
		return
	}

	target, fragment, _ := strings.Cut(dest, "#")
	if !strings.HasSuffix(target, ".md") && !strings.HasSuffix(target, ".markdown") {
		return
	}

	out := "/blog/" + Slugify(path.Base(target))
	recordLink(pc, out, normalizeContentPath(target, currentDir))
	if fragment != "" {
		out += "#" + fragment
	}
	link.Destination = []byte(out)
}

func (t *linkTransformer) transformImage(img *ast.Image, currentDir string) {
	dest := string(img.Destination)
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "/media/") || strings.HasPrefix(dest, "/static/") {
		return
	}
	img.Destination = []byte("/media/" + normalizeContentPath(dest, currentDir))
}

func recordLink(pc parser.Context, href, target string) {
	links, _ := pc.Get(docLinksKey).(map[string]string)
	if links == nil {
		links = make(map[string]string)
		pc.Set(docLinksKey, links)
	}
	key := EscapeHref(href)
	if prev, ok := links[key]; ok && prev != target {
		target = ""
	}
	links[key] = target
}

// EscapeHref returns dest the way it is written into an href attribute of the
// rendered HTML.
func EscapeHref(dest string) string {
	return string(util.EscapeHTML(util.URLEscape([]byte(dest), true)))
}

func isExternalLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") || strings.HasPrefix(dest, "mailto:")
}

func normalizeContentPath(dest, currentDir string) string {
	if !strings.HasPrefix(dest, "/") {
		if currentDir != "" && currentDir != "." {
			dest = path.Join(currentDir, dest)
		}
		dest = path.Clean(dest)
	}
	return strings.TrimPrefix(dest, "/")
}

// NewService constructs the article renderer:
//   - GitHub-flavored markdown extensions
//   - YAML front matter
//   - chroma highlighting with CSS classes and a language badge per fenced block
//   - heading anchors
//
// If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle(DefaultStyle),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.CodeBlockWrapper()),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After,
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
			parser.WithASTTransformers(
				util.Prioritized(&linkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			// Articles are authored by the site owner.
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	)

	return &Service{
		md:     md,
		logger: logger.With("component", "renderer"),
	}
}

// Render converts markdown content to HTML, caching results by path and modification time.
// The path is the content-relative file path and is used for relative image resolution.
func (s *Service) Render(_ context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	if entry, ok := s.cache.Load(path); ok {
		if cached, ok := entry.(cacheEntry); ok {
			if !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
				return cached.doc, nil
			}
		}
	}

	parserCtx := parser.NewContext()
	parserCtx.Set(docPathKey, path)
	buf := bytes.NewBuffer(nil)

	if err := s.md.Convert(content, buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	links, _ := parserCtx.Get(docLinksKey).(map[string]string)
	doc := Document{
		HTML:     buf.String(),
		Metadata: extractMetadata(parserCtx),
		Modified: modTime,
		Raw:      string(content),
		Links:    links,
	}

	s.cache.Store(path, cacheEntry{modTime: modTime, doc: doc})
	return doc, nil
}

// Invalidate removes the cached entry for the given path.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(path)
}

func extractMetadata(ctx parser.Context) Metadata {
	raw, err := goldmarkmeta.TryGet(ctx)
	var meta Metadata
	if err != nil || len(raw) == 0 {
		return meta
	}

	meta.Raw = make(map[string]any, len(raw))
	for k, v := range raw {
		meta.Raw[k] = v
	}
	fields := foldKeys(raw)

	if v, ok := first(fields, "title"); ok {
		if str, ok := toString(v); ok {
			meta.Title = strings.TrimSpace(str)
		}
	}
	if v, ok := first(fields, "description", "summary"); ok {
		if str, ok := toString(v); ok {
			meta.Description = strings.TrimSpace(str)
		}
	}
	if v, ok := first(fields, "date", "publishdate"); ok {
		if ts, ok := v.(time.Time); ok {
			meta.Date = ts.Format(time.DateOnly)
		} else if str, ok := toString(v); ok {
			meta.Date = strings.TrimSpace(str)
		}
	}
	if v, ok := first(fields, "slug"); ok {
		if str, ok := toString(v); ok {
			meta.Slug = strings.Trim(strings.TrimSpace(str), "/")
		}
	}
	if v, ok := first(fields, "tags"); ok {
		meta.Tags = toStringSlice(v)
	}
	if v, ok := first(fields, "keywords"); ok {
		meta.Keywords = toStringSlice(v)
	}
	if b, ok := fields["draft"].(bool); ok && b {
		meta.Draft = true
	}
	if b, ok := fields["published"].(bool); ok && !b {
		meta.Draft = true
	}
	return meta
}

// foldKeys indexes raw by lowercase key. An exact lowercase key wins over
// other spellings, which are taken in sorted order.
func foldKeys(raw map[string]any) map[string]any {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fields := make(map[string]any, len(raw))
	for _, k := range keys {
		if k == strings.ToLower(k) {
			fields[k] = raw[k]
		}
	}
	for _, k := range keys {
		lower := strings.ToLower(k)
		if _, ok := fields[lower]; !ok {
			fields[lower] = raw[k]
		}
	}
	return fields
}

// first returns the value of the first key present, in the order given.
func first(fields map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case time.Time:
		return val.Format(time.RFC3339), true
	case fmt.Stringer:
		return val.String(), true
	case int, int64, float64:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

// toStringSlice accepts a YAML list or a comma separated string.
func toStringSlice(v any) []string {
	var out []string
	switch vv := v.(type) {
	case []any:
		out = make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, strings.TrimSpace(str))
			}
		}
	case []string:
		out = append([]string(nil), vv...)
	default:
		str, ok := toString(v)
		if !ok {
			return nil
		}
		for _, part := range strings.Split(str, ",") {
			out = append(out, strings.TrimSpace(part))
		}
	}
	kept := out[:0]
	for _, s := range out {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

// Slugify turns a file name or title into a URL slug: lowercase letters and
// digits, in any script, separated by single dashes. The markdown extension is
// dropped.
func Slugify(name string) string {
	name = strings.TrimSpace(name)
	if ext := path.Ext(name); strings.EqualFold(ext, ".md") || strings.EqualFold(ext, ".markdown") {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.ToLower(name)
	var b strings.Builder
	dash := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

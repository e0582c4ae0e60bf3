// Package server provides the HTTP server for the blog.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/catalog"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/feed"
	"github.com/euforicio/blogmd/internal/tagfilter"
	"github.com/euforicio/blogmd/internal/theme"
	"github.com/euforicio/blogmd/internal/view"
	"github.com/euforicio/blogmd/static"
)

// pendingTimeout is the default wait for the first catalog delivery before an
// article request gets the loading page.
const pendingTimeout = 3 * time.Second

const eventTypeCatalogUpdated = "catalogUpdated"

// Event is the payload sent to /events subscribers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Articles  int       `json:"articles"`
}

// Server serves the blog pages, the JSON API and the feeds from a catalog repository.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	repo       *catalog.Repository
	templates  *theme.Templates
	cfg        config.Config

	// pendingWait bounds how long article requests wait for the first catalog.
	pendingWait time.Duration
}

var (
	errPathRequired        = errors.New("path is required")
	errInvalidPathEncoding = errors.New("invalid path encoding")
)

// New constructs a Server over repo and registers all routes.
func New(cfg config.Config, logger *slog.Logger, repo *catalog.Repository) (*Server, error) {
	if repo == nil {
		return nil, errors.New("catalog repository must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := theme.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		mux:         http.NewServeMux(),
		logger:      logger.With("component", "http"),
		repo:        repo,
		templates:   tmpl,
		pendingWait: pendingTimeout,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)

	s.mux.HandleFunc("GET /media/{path...}", s.handleMedia)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /blog", s.handleBlogIndex)
	s.mux.HandleFunc("GET /blog/{$}", s.handleBlogIndex)
	s.mux.HandleFunc("GET /blog/{slug}", s.handleArticle)
	s.mux.HandleFunc("GET /blog/{slug}/{$}", s.handleArticle)
	s.mux.HandleFunc("GET /tags/{tag}", s.handleTag)
	s.mux.HandleFunc("GET /tags/{tag}/{$}", s.handleTag)

	s.mux.HandleFunc("GET /api/articles", s.handleAPIArticles)
	s.mux.HandleFunc("GET /api/articles/{slug}", s.handleAPIArticle)
	s.mux.HandleFunc("GET /api/tags", s.handleAPITags)

	s.mux.HandleFunc("GET /feed.xml", s.handleFeed)
	s.mux.HandleFunc("GET /sitemap.xml", s.handleSitemap)
	s.mux.HandleFunc("GET /events", s.handleEvents)

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		headersMiddleware,
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)
}

// Start runs the HTTP server until ctx is canceled, then shuts down gracefully.
// With cfg.Port 0 a free port on localhost is chosen.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	if s.cfg.Port == 0 {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return fmt.Errorf("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(os.Stdout, "blogmd listening on %s\n", serverURL); err != nil {
			s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
		}
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.repo.Snapshot()
	status := "ok"
	code := http.StatusOK
	if !snap.Ready {
		status = "loading"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":   status,
		"articles": len(snap.Articles),
		"build":    buildinfo.Current(),
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	filter := tagfilter.FromQuery(r.URL.Query())
	var meta view.Meta
	home := view.NewHome(s.repo, filter, &meta, s.cfg.Site)
	defer home.Close()

	page := theme.NewPage(s.cfg.Site, meta, "/", feed.WebsiteJSONLD(s.cfg.Site))
	page.Live = s.cfg.Watch
	selected := filter.Selected()
	data := theme.Home{
		Page:       page,
		Text:       filter.Text(),
		Articles:   home.Articles(),
		Selected:   theme.SelectionChips(selected, filter.Text()),
		Candidates: theme.CandidateChips(selected, home.Tags()),
		Ready:      home.Ready(),
	}

	if isHTMXRequest(r) {
		setHXTrigger(w, map[string]any{"filterChanged": map[string]any{"tags": selected, "count": len(data.Articles)}})
		s.renderTemplate(w, r, http.StatusOK, theme.ArticlesList, data)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, theme.HomePage, data)
}

func (s *Server) handleBlogIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusMovedPermanently)
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimSpace(r.PathValue("tag"))
	if tag == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/?"+url.Values{"tag": {tag}}.Encode(), http.StatusFound)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	route := article.RouteFor(slug)

	var meta view.Meta
	detail := view.NewDetail(s.repo, &meta, s.cfg.Site)

	ctx, cancel := context.WithTimeout(r.Context(), s.pendingWait)
	defer cancel()
	a, err := detail.Open(ctx, slug, s.absoluteURL(r, route))
	switch {
	case errors.Is(err, article.ErrNotFound):
		s.renderNotFound(w, r)
		return
	case errors.Is(err, context.Canceled):
		// Client went away while the catalog was pending.
		return
	case errors.Is(err, context.DeadlineExceeded):
		page := theme.NewPage(s.cfg.Site, view.Meta{}, route, "")
		w.Header().Set("Retry-After", "2")
		s.renderTemplate(w, r, http.StatusServiceUnavailable, theme.LoadingPage, page)
		return
	case err != nil:
		s.logger.WarnContext(r.Context(), "open article failed", slog.String("route", route), slog.Any("err", err))
		http.Error(w, "failed to load article", http.StatusInternalServerError)
		return
	}

	page := theme.NewPage(s.cfg.Site, meta, a.Route, feed.BlogPostingJSONLD(s.cfg.Site, a))
	page.Live = s.cfg.Watch
	s.renderTemplate(w, r, http.StatusOK, theme.ArticlePage, theme.Detail{
		Page: page,
		//nolint:gosec // rendered from the site owner's markdown
		Body:     template.HTML(a.HTML),
		Article:  a,
		Related:  detail.Related(),
		ShareURL: detail.ShareURL(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderNotFound(w, r)
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	page := theme.NewPage(s.cfg.Site, view.Meta{Title: "Not found | " + s.cfg.Site.Name}, r.URL.Path, "")
	s.renderTemplate(w, r, http.StatusNotFound, theme.NotFoundPage, theme.NotFound{Page: page, Path: r.URL.Path})
}

type articleResponse struct {
	Article  article.Article `json:"article"`
	HTML     string          `json:"html"`
	Meta     view.Meta       `json:"meta"`
	ShareURL string          `json:"shareUrl"`
	Related  []string        `json:"related"`
}

func (s *Server) handleAPIArticles(w http.ResponseWriter, r *http.Request) {
	filter := tagfilter.FromQuery(r.URL.Query())
	home := view.NewHome(s.repo, filter, nil, s.cfg.Site)
	defer home.Close()

	if !home.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse("catalog is loading"))
		return
	}
	articles := home.Articles()
	respondJSON(w, http.StatusOK, map[string]any{
		"articles": articles,
		"count":    len(articles),
		"selected": filter.Selected(),
	})
}

func (s *Server) handleAPIArticle(w http.ResponseWriter, r *http.Request) {
	slug, err := parseWildcardPath(r.PathValue("slug"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	var meta view.Meta
	detail := view.NewDetail(s.repo, &meta, s.cfg.Site)
	ctx, cancel := context.WithTimeout(r.Context(), s.pendingWait)
	defer cancel()

	a, err := detail.Open(ctx, slug, s.absoluteURL(r, article.RouteFor(slug)))
	switch {
	case errors.Is(err, article.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse("article not found"))
		return
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, context.DeadlineExceeded):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse("catalog is loading"))
		return
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, errorResponse("failed to load article"))
		return
	}

	related := make([]string, 0, len(detail.Related()))
	for _, rel := range detail.Related() {
		related = append(related, rel.Route)
	}
	respondJSON(w, http.StatusOK, articleResponse{
		Article:  a,
		HTML:     a.HTML,
		Meta:     meta,
		ShareURL: detail.ShareURL(),
		Related:  related,
	})
}

func (s *Server) handleAPITags(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := tagfilter.FromQuery(query)
	home := view.NewHome(s.repo, filter, nil, s.cfg.Site)
	defer home.Close()

	if !home.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse("catalog is loading"))
		return
	}
	tags := home.AllTags()
	if query.Has("q") || query.Has("tag") {
		tags = home.Tags()
	}
	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	snap := s.repo.Snapshot()
	if !snap.Ready {
		http.Error(w, "catalog is loading", http.StatusServiceUnavailable)
		return
	}
	var buf bytes.Buffer
	if err := feed.WriteRSS(&buf, s.siteFor(r), snap.Articles); err != nil {
		s.logger.ErrorContext(r.Context(), "render feed failed", slog.Any("err", err))
		http.Error(w, "failed to render feed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	snap := s.repo.Snapshot()
	if !snap.Ready {
		http.Error(w, "catalog is loading", http.StatusServiceUnavailable)
		return
	}
	var buf bytes.Buffer
	if err := feed.WriteSitemap(&buf, s.siteFor(r), snap.Articles, snap.Tags); err != nil {
		s.logger.ErrorContext(r.Context(), "render sitemap failed", slog.Any("err", err))
		http.Error(w, "failed to render sitemap", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Observe replays the current snapshot synchronously; only later
	// publishes are forwarded.
	var live atomic.Bool
	updates := make(chan catalog.Snapshot, 1)
	cancel := s.repo.Observe(func(snap catalog.Snapshot) {
		if !live.Load() {
			return
		}
		select {
		case updates <- snap:
		default:
		}
	})
	defer cancel()
	live.Store(true)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			payload, err := encodeJSON(Event{
				Timestamp: time.Now(),
				Type:      eventTypeCatalogUpdated,
				Articles:  len(snap.Articles),
			})
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventTypeCatalogUpdated, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawPath, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	cleanPath := filepath.Clean(filepath.FromSlash(rawPath))
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		s.logger.WarnContext(ctx, "invalid media path attempted", slog.String("path", rawPath))
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	absRoot, err := filepath.Abs(s.cfg.RootDir)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to resolve root directory", slog.Any("err", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	absPath := filepath.Join(absRoot, cleanPath)
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		s.logger.WarnContext(ctx, "media path outside root directory attempted",
			slog.String("path", rawPath),
			slog.String("resolved", absPath))
		http.Error(w, "Invalid path", http.StatusForbidden)
		return
	}

	// Article sources are published as rendered pages, not raw files.
	if isMarkdownFile(absPath) || strings.HasPrefix(filepath.Base(absPath), ".") {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logger.WarnContext(ctx, "failed to stat media file", slog.Any("err", err), slog.String("path", rawPath))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "Path is a directory", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, absPath)
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.Render(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render template failed", slog.Any("err", err), slog.String("template", name))
		http.Error(w, "failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// absoluteURL resolves a site path against the configured site URL, or
// against the request host when none is configured.
func (s *Server) absoluteURL(r *http.Request, path string) string {
	return feed.URL(s.siteFor(r).URL, path)
}

func (s *Server) siteFor(r *http.Request) config.Site {
	site := s.cfg.Site
	if site.URL != "" {
		return site
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	site.URL = scheme + "://" + r.Host
	return site
}

func parseWildcardPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errPathRequired
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", errInvalidPathEncoding
	}
	path := strings.TrimSpace(decoded)
	if path == "" {
		return "", errPathRequired
	}
	return path, nil
}

func (s *Server) respondPathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPathRequired):
		respondJSON(w, http.StatusBadRequest, errorResponse("path is required"))
	case errors.Is(err, errInvalidPathEncoding):
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path encoding"))
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	}
}

func isMarkdownFile(path string) bool {
	name := strings.ToLower(path)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

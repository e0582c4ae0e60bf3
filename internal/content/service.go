// Package content loads the article catalog from a directory of markdown files
// and republishes it whenever the files change.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/renderer"
)

const reloadTimeout = 10 * time.Second

// Options configures catalog loading.
type Options struct {
	ExcludeDirs   []string
	IncludeHidden bool
	IncludeDrafts bool
	Watch         bool
}

// Service owns the current catalog snapshot and fans it out to subscribers.
type Service struct {
	ctx         context.Context
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	renderer    *renderer.Service
	cancel      context.CancelFunc
	catalog     atomic.Pointer[[]article.Article]
	subscribers map[uint64]chan []article.Article
	root        string
	opts        Options
	subCounter  atomic.Uint64
	subsMu      sync.Mutex
	reloadMu    sync.Mutex
	wg          sync.WaitGroup
}

// NewService loads the catalog under root. With opts.Watch it keeps watching
// the tree until Close.
func NewService(parentCtx context.Context, root string, rendererSvc *renderer.Service, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if rendererSvc == nil {
		return nil, errors.New("renderer service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		ctx:         ctx,
		cancel:      cancel,
		root:        absRoot,
		renderer:    rendererSvc,
		opts:        opts,
		logger:      logger.With("component", "content_service"),
		subscribers: make(map[uint64]chan []article.Article),
	}

	articles, err := Load(ctx, absRoot, rendererSvc, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	svc.catalog.Store(&articles)
	svc.logger.Info("catalog loaded", slog.Int("articles", len(articles)), slog.String("root", absRoot))

	if opts.Watch {
		if err := svc.startWatcher(); err != nil {
			cancel()
			return nil, err
		}
	}
	return svc, nil
}

// Root returns the absolute content directory.
func (s *Service) Root() string {
	return s.root
}

// Close stops watching and closes every subscription.
func (s *Service) Close() error {
	s.cancel()
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

// Current returns the latest catalog. The boolean is false before the first
// successful load.
func (s *Service) Current() ([]article.Article, bool) {
	p := s.catalog.Load()
	if p == nil {
		return nil, false
	}
	return slices.Clone(*p), true
}

// Subscribe delivers the current catalog followed by every reload. A slow
// subscriber only ever sees the newest pending catalog. The channel closes when
// ctx or the service is done.
func (s *Service) Subscribe(ctx context.Context) <-chan []article.Article {
	ch := make(chan []article.Article, 1)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = ch
	if current, ok := s.Current(); ok {
		ch <- current
	}
	s.subsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}

		s.subsMu.Lock()
		if sub, ok := s.subscribers[id]; ok {
			close(sub)
			delete(s.subscribers, id)
		}
		s.subsMu.Unlock()
	}()

	return ch
}

// Reload re-reads the content tree. On failure the previous catalog stays
// current and nothing is published.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	articles, err := Load(ctx, s.root, s.renderer, s.opts)
	if err != nil {
		return err
	}
	s.catalog.Store(&articles)
	s.broadcast(articles)
	return nil
}

func (s *Service) broadcast(articles []article.Article) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subscribers {
		snapshot := slices.Clone(articles)
		select {
		case ch <- snapshot:
		default:
			// replace the stale catalog the subscriber has not read yet
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	if err := s.watchRecursive(s.root); err != nil {
		_ = watcher.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWatcher()
	}()
	return nil
}

func (s *Service) runWatcher() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}

	rel := s.relativePath(event.Name)
	op := event.Op
	s.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", op.String()))

	isDir := false
	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			_ = s.watchRecursive(event.Name)
		}
	}

	isMarkdown := isMarkdownPath(event.Name)
	if !isMarkdown && !isDir && op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if isMarkdown {
		s.renderer.Invalidate(rel)
	}

	ctx, cancel := context.WithTimeout(s.ctx, reloadTimeout)
	defer cancel()
	if err := s.Reload(ctx); err != nil {
		s.logger.Error("reload catalog failed, keeping previous snapshot", slog.String("path", rel), slog.Any("err", err))
		return
	}
	s.logger.Info("catalog reloaded", slog.String("path", rel))
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !s.opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
			}
		}
		return nil
	})
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

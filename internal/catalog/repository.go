// Package catalog wraps an article source and exposes the derived views the
// pages consume: articles newest first and the sorted tag universe.
package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/euforicio/blogmd/internal/article"
)

// Source delivers catalog snapshots. The channel yields the current catalog as
// soon as one exists, then every replacement, and closes when ctx is done.
type Source interface {
	Subscribe(ctx context.Context) <-chan []article.Article
}

// Snapshot is the derived state for one catalog delivery.
type Snapshot struct {
	Articles []article.Article
	Tags     []string
	Ready    bool
}

// Repository caches the latest catalog delivery and its derivations.
type Repository struct {
	src       Source
	logger    *slog.Logger
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.RWMutex
	articles []article.Article
	tags     []string
	loaded   bool

	obsMu     sync.Mutex
	observers map[uint64]func(Snapshot)
	nextID    uint64
}

// New constructs a repository over src. Call Run to start consuming it.
func New(src Source, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		src:       src,
		logger:    logger.With("component", "catalog"),
		ready:     make(chan struct{}),
		observers: make(map[uint64]func(Snapshot)),
	}
}

// Run consumes the source until ctx is done or the source closes its channel.
func (r *Repository) Run(ctx context.Context) {
	if r.src == nil {
		return
	}
	ch := r.src.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case articles, ok := <-ch:
			if !ok {
				return
			}
			r.Publish(articles)
		}
	}
}

// Publish replaces the cached catalog and notifies observers synchronously.
func (r *Repository) Publish(articles []article.Article) {
	sorted := article.Sorted(articles)
	tags := article.Tags(sorted)

	r.mu.Lock()
	r.articles = sorted
	r.tags = tags
	r.loaded = true
	r.mu.Unlock()

	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Debug("catalog published", slog.Int("articles", len(sorted)), slog.Int("tags", len(tags)))

	r.notify(r.Snapshot())
}

// Ready returns a channel closed after the first delivery.
func (r *Repository) Ready() <-chan struct{} {
	return r.ready
}

// Articles returns the catalog newest first, waiting for the first delivery.
func (r *Repository) Articles(ctx context.Context) ([]article.Article, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.Snapshot().Articles, nil
}

// Tags returns the tag universe, waiting for the first delivery.
func (r *Repository) Tags(ctx context.Context) ([]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.Snapshot().Tags, nil
}

// Snapshot returns the current state without waiting. Before the first
// delivery it is empty with Ready false.
func (r *Repository) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Articles: slices.Clone(r.articles),
		Tags:     slices.Clone(r.tags),
		Ready:    r.loaded,
	}
}

// Observe registers fn for every later delivery. When the catalog is already
// loaded fn is also called once with the current snapshot before Observe
// returns.
func (r *Repository) Observe(fn func(Snapshot)) (cancel func()) {
	r.obsMu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.obsMu.Unlock()

	if snap := r.Snapshot(); snap.Ready {
		fn(snap)
	}

	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

func (r *Repository) wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	default:
	}
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Repository) notify(snap Snapshot) {
	r.obsMu.Lock()
	ids := make([]uint64, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.observers[id])
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
)

// Cache compresses each input document once, in parallel, and remembers the
// result for the rest of the run.
type Cache struct {
	engine domain.Recompressor
	opts   Options

	mu    sync.Mutex
	slots map[string]*slot
	owned []string
}

// New creates a new cache instance
func New(engine domain.Recompressor, opts Options) *Cache {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.Quality == "" {
		opts.Quality = domain.QualityEbook
	}
	return &Cache{
		engine: engine,
		opts:   opts,
		slots:  make(map[string]*slot),
	}
}

// BuildMany returns one entry per document, in input order. Documents already
// in the cache are not compressed again. A failure yields an Unusable entry,
// never a missing one.
func (c *Cache) BuildMany(ctx context.Context, docs []string) ([]Entry, error) {
	log := logger.FromContext(ctx)

	slots := make([]*slot, len(docs))
	var claimed []int
	cached := 0

	c.mu.Lock()
	for i, doc := range docs {
		if s, ok := c.slots[doc]; ok {
			slots[i] = s
			cached++
			continue
		}
		s := &slot{done: make(chan struct{})}
		c.slots[doc] = s
		slots[i] = s
		claimed = append(claimed, i)
	}
	c.mu.Unlock()

	n := c.opts.Notifier
	n.SetTotal(len(docs))
	n.Step(cached)
	counter := n.NewCounter(cached)

	pool, err := ants.NewPool(c.opts.Workers)
	if err != nil {
		for _, i := range claimed {
			c.finish(docs[i], slots[i], Entry{Original: docs[i], Size: domain.Unusable, Err: err})
		}
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	log.Info().Int("documents", len(docs)).Int("cached", cached).Int("workers", c.opts.Workers).Msg("pre-compressing")

	var wg sync.WaitGroup
	for workerID, i := range claimed {
		doc, s := docs[i], slots[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				c.finish(doc, s, Entry{Original: doc, Size: domain.Unusable, Err: fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())})
				return
			}
			c.finish(doc, s, c.compress(ctx, doc, workerID))
			counter.Done()
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			c.finish(doc, s, Entry{Original: doc, Size: domain.Unusable, Err: err})
		}
	}
	wg.Wait()

	entries := make([]Entry, len(docs))
	for i, s := range slots {
		<-s.done
		entries[i] = s.entry
		if !containsIndex(claimed, i) && s.entry.Err == nil {
			entries[i].Cached = true
			c.opts.Metrics.IncCacheEntry("cached")
		}
	}
	return entries, nil
}

func (c *Cache) compress(ctx context.Context, doc string, workerID int) Entry {
	log := logger.FromContext(ctx).With().Str("file", filepath.Base(doc)).Int("worker_id", workerID).Logger()

	out := filepath.Join(c.opts.WorkDir, "pre-"+common.ShortID()+".pdf")
	c.mu.Lock()
	c.owned = append(c.owned, out)
	c.mu.Unlock()

	res, err := c.engine.Invoke(ctx, []string{doc}, c.opts.Quality, out)
	if err != nil {
		os.Remove(out)
		log.Warn().Err(err).Msg("pre-compression failed")
		c.opts.Metrics.IncCacheEntry("failed")
		return Entry{Original: doc, Size: domain.Unusable, Err: err}
	}

	log.Debug().Int64("size", res.Size).Msg("pre-compressed")
	c.opts.Metrics.IncCacheEntry("ok")
	return Entry{Original: doc, CompressedPath: res.OutputPath, Size: res.Size}
}

// finish publishes the entry. Cancelled entries are evicted so a later call
// can retry them.
func (c *Cache) finish(doc string, s *slot, e Entry) {
	s.entry = e
	if errors.Is(e.Err, domain.ErrCancelled) {
		c.opts.Metrics.IncCacheEntry("cancelled")
		c.mu.Lock()
		if c.slots[doc] == s {
			delete(c.slots, doc)
		}
		c.mu.Unlock()
	}
	close(s.done)
}

// Cleanup removes every compressed file the cache produced.
func (c *Cache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, p := range c.owned {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	c.owned = nil
	c.slots = make(map[string]*slot)
	return errors.Join(errs...)
}

func containsIndex(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

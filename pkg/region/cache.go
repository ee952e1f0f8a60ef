package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Cache keeps a bounded set of region files open for a world directory.
//
// Regions are reference counted. When the LRU evicts a region that is still
// in use it is parked until its last Release and then closed; acquiring it
// again before that brings the same *Region back, so a file never has two
// open handles.
type Cache struct {
	mu      sync.Mutex
	dir     string
	opts    Options
	log     *zap.Logger
	lru     *simplelru.LRU[Pos, *cached]
	retired map[Pos]*cached
	closed  bool
}

type cached struct {
	region *Region
	refs   int
}

// NewCache opens regions from dir, keeping at most maxOpen idle files open.
func NewCache(dir string, maxOpen int, opts Options, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("region: create %s: %w", dir, err)
	}
	c := &Cache{
		dir:     dir,
		opts:    opts,
		log:     log.Named("region"),
		retired: make(map[Pos]*cached),
	}
	lru, err := simplelru.NewLRU[Pos, *cached](maxOpen, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	c.lru = lru
	return c, nil
}

// evicted runs under c.mu, called synchronously by the LRU.
func (c *Cache) evicted(pos Pos, e *cached) {
	if c.closed {
		return
	}
	if e.refs > 0 {
		c.retired[pos] = e
		return
	}
	c.closeRegion(pos, e.region)
}

func (c *Cache) closeRegion(pos Pos, r *Region) {
	if err := r.Close(); err != nil {
		c.log.Warn("close region", zap.Stringer("region", pos), zap.Error(err))
		return
	}
	c.log.Debug("closed region", zap.Stringer("region", pos))
}

// Dir returns the directory holding the region files.
func (c *Cache) Dir() string { return c.dir }

// Acquire returns the open region at pos, opening it if needed. Every
// successful Acquire must be paired with a Release.
func (c *Cache) Acquire(pos Pos) (*Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if e, ok := c.lru.Get(pos); ok {
		e.refs++
		return e.region, nil
	}
	if e, ok := c.retired[pos]; ok {
		delete(c.retired, pos)
		e.refs++
		c.lru.Add(pos, e)
		return e.region, nil
	}

	r, err := Open(filepath.Join(c.dir, pos.FileName()), c.opts)
	if err != nil {
		return nil, err
	}
	c.log.Debug("opened region", zap.Stringer("region", pos))
	c.lru.Add(pos, &cached{region: r, refs: 1})
	return r, nil
}

// Release drops one reference taken by Acquire.
func (c *Cache) Release(pos Pos) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Peek(pos); ok {
		if e.refs > 0 {
			e.refs--
		}
		return
	}
	if e, ok := c.retired[pos]; ok {
		e.refs--
		if e.refs <= 0 {
			delete(c.retired, pos)
			c.closeRegion(pos, e.region)
		}
	}
}

// With runs fn on the region at pos between Acquire and Release.
func (c *Cache) With(pos Pos, fn func(*Region) error) error {
	r, err := c.Acquire(pos)
	if err != nil {
		return err
	}
	defer c.Release(pos)
	return fn(r)
}

// Open reports how many region files are currently open, including evicted
// ones that are still referenced.
func (c *Cache) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len() + len(c.retired)
}

// Sync flushes every open region.
func (c *Cache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, pos := range c.lru.Keys() {
		e, _ := c.lru.Peek(pos)
		if err := e.region.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every region, referenced or not. Later Acquire calls fail
// with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	closeOne := func(pos Pos, e *cached) {
		if err := e.region.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos, err))
		}
	}
	for _, pos := range c.lru.Keys() {
		e, _ := c.lru.Peek(pos)
		closeOne(pos, e)
	}
	for pos, e := range c.retired {
		closeOne(pos, e)
	}
	c.lru.Purge()
	clear(c.retired)
	return errors.Join(errs...)
}

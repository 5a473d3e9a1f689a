// Package locator resolves frame-qualified selectors to live element handles,
// searching nested frames breadth first and caching handles for the session.
package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("locator")
	if err != nil {
		debugLog.Warnf("Failed to initialize locator logger, using stderr fallback: %v", err)
	}
}

// DisambiguatingAttrs are compared against a reference's hint, in order.
var DisambiguatingAttrs = []string{"id", "name", "data-testid", "aria-label"}

// Config bounds the search.
type Config struct {
	MaxFrameDepth  int
	ResolveTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns the defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		MaxFrameDepth:  3,
		ResolveTimeout: 5 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// Stats counts cache behaviour for the run summary.
type Stats struct {
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	Stale         int `json:"stale"`
	Invalidations int `json:"invalidations"`
}

// Locator owns the session-scoped selector cache.
type Locator struct {
	drv driver.Driver
	cfg Config

	mu    sync.Mutex
	cache map[form.RefKey]driver.Handle
	stats Stats
}

// New creates a locator over drv.
func New(drv driver.Driver, cfg Config) *Locator {
	def := DefaultConfig()
	if cfg.MaxFrameDepth <= 0 {
		cfg.MaxFrameDepth = def.MaxFrameDepth
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Locator{
		drv:   drv,
		cfg:   cfg,
		cache: make(map[form.RefKey]driver.Handle),
	}
}

// Resolve returns a live handle for ref. It fails with ElementNotFound when
// nothing matches within the resolve timeout and with AmbiguousElement when
// several elements match and the hint cannot narrow them to one.
func (l *Locator) Resolve(ctx context.Context, ref form.ElementRef) (driver.Handle, error) {
	key := ref.Key()

	l.mu.Lock()
	cached, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		if l.drv.Alive(ctx, cached) {
			l.count(func(s *Stats) { s.Hits++ })
			return cached, nil
		}
		debugLog.Debugf("Dropping stale handle for %s", ref)
		l.mu.Lock()
		delete(l.cache, key)
		l.stats.Stale++
		l.mu.Unlock()
	}
	l.count(func(s *Stats) { s.Misses++ })

	var found driver.Handle
	ok, err := driver.Poll(ctx, l.cfg.PollInterval, l.cfg.ResolveTimeout, func(ctx context.Context) (bool, error) {
		h, hit, err := l.search(ctx, ref)
		if err != nil {
			return false, err
		}
		if hit {
			found = h
		}
		return hit, nil
	})
	if err != nil {
		return driver.Handle{}, err
	}
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return driver.Handle{}, form.WrapFieldError(form.ErrActionTimeout, "", ctxErr)
		}
		return driver.Handle{}, form.NewFieldError(form.ErrElementNotFound, "", "no element matches %s within %s", ref, l.cfg.ResolveTimeout)
	}

	l.mu.Lock()
	l.cache[key] = found
	l.mu.Unlock()
	debugLog.Debugf("Resolved %s in frame %s", ref.Selector, found.Frame)
	return found, nil
}

// Probe runs a single search for ref without waiting for it to appear. It
// reports AmbiguousElement and session loss; an element that is not on the
// page yet is not an error. A unique match is cached.
func (l *Locator) Probe(ctx context.Context, ref form.ElementRef) error {
	h, hit, err := l.search(ctx, ref)
	if err != nil || !hit {
		return err
	}
	l.mu.Lock()
	l.cache[ref.Key()] = h
	l.mu.Unlock()
	return nil
}

// search walks frames breadth first from ref.Frame and stops at the first
// frame with a match.
func (l *Locator) search(ctx context.Context, ref form.ElementRef) (driver.Handle, bool, error) {
	start := ref.Frame
	queue := []form.FramePath{start}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		handles, err := l.drv.Find(ctx, path, ref.Selector)
		if err != nil {
			if errors.Is(err, driver.ErrFrameNotFound) {
				continue
			}
			if errors.Is(err, driver.ErrSessionLost) {
				return driver.Handle{}, false, err
			}
			debugLog.Warnf("Find %s in frame %s failed: %v", ref.Selector, path, err)
			continue
		}

		switch len(handles) {
		case 0:
		case 1:
			return handles[0], true, nil
		default:
			h, ok := disambiguate(handles, ref.Hint)
			if !ok {
				return driver.Handle{}, false, form.NewFieldError(form.ErrAmbiguousElement, "",
					"%d elements match %s in frame %s", len(handles), ref.Selector, path)
			}
			return h, true, nil
		}

		if path.Depth()-start.Depth() >= l.cfg.MaxFrameDepth {
			continue
		}
		children, err := l.drv.ChildFrames(ctx, path)
		if err != nil {
			if errors.Is(err, driver.ErrSessionLost) {
				return driver.Handle{}, false, err
			}
			continue
		}
		for _, c := range children {
			queue = append(queue, path.Child(c))
		}
	}
	return driver.Handle{}, false, nil
}

// disambiguate picks the single handle whose attributes agree with hint on
// the first attribute that tells the matches apart.
func disambiguate(handles []driver.Handle, hint map[string]string) (driver.Handle, bool) {
	if len(hint) == 0 {
		return driver.Handle{}, false
	}
	for _, attr := range DisambiguatingAttrs {
		want := hint[attr]
		if want == "" {
			continue
		}
		var hits []driver.Handle
		for _, h := range handles {
			if h.Attrs[attr] == want {
				hits = append(hits, h)
			}
		}
		if len(hits) == 1 {
			return hits[0], true
		}
	}
	return driver.Handle{}, false
}

// Invalidate drops every cached handle. Callers use it after navigation or
// a DOM mutation.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.cache) > 0 {
		debugLog.Debugf("Invalidating %d cached handles", len(l.cache))
	}
	l.cache = make(map[form.RefKey]driver.Handle)
	l.stats.Invalidations++
}

// InvalidateRef drops the cached handle for ref.
func (l *Locator) InvalidateRef(ref form.ElementRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, ref.Key())
	l.stats.Invalidations++
}

// Stats returns a snapshot of the counters.
func (l *Locator) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Locator) count(fn func(*Stats)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.stats)
}

package dedup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bookguard/fingerprint"
	"bookguard/identity"
	"bookguard/metrics"
	"bookguard/util/goroutine"

	"github.com/cespare/xxhash/v2"
	"github.com/facebookgo/clock"
	"go.uber.org/zap"
)

// Entry is what the cache remembers about one fingerprint
type Entry struct {
	Fingerprint string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	HitCount    int64
	Window      time.Duration
}

// Outcome is the result of a Check
type Outcome struct {
	Duplicate  bool
	RetryAfter time.Duration
	// Fingerprint is set for every successful check, for logging
	Fingerprint string
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Size                 int           `json:"size"`
	MaxSize              int           `json:"maxSize"`
	Window               time.Duration `json:"-"`
	RecentDuplicateCount int64         `json:"recentDuplicateCount"`
	Shards               int           `json:"shards"`
	Running              bool          `json:"running"`
}

// MarshalJSON renders the window as a duration string
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	return json.Marshal(struct {
		plain
		Window string `json:"window"`
	}{plain: plain(s), Window: s.Window.String()})
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the wall clock, used by tests
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// Cache is the request-deduplication cache. Entries are spread over
// independently locked shards; sweep and eviction take the same locks.
type Cache struct {
	cfg     Config
	logger  *zap.SugaredLogger
	clock   clock.Clock
	classes []*fingerprint.RouteClass
	shards  []*shard
	size    atomic.Int64
	recent  recentCounter

	evicting atomic.Bool

	// sweep is what each background tick runs; Sweep unless replaced in tests
	sweep func() int

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	sweepWg     sync.WaitGroup
}

// New creates a cache. Route class patterns are validated and compiled here,
// so a bad pattern fails startup rather than a request.
func New(cfg Config, logger *zap.SugaredLogger, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}

	c := &Cache{
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		shards: make([]*shard, cfg.Shards),
	}
	c.sweep = c.Sweep
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	for _, rc := range cfg.RouteClasses {
		class, err := fingerprint.NewRouteClass(rc.Name, rc.Window, rc.Patterns)
		if err != nil {
			return nil, err
		}
		c.classes = append(c.classes, class)
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ShouldSkip reports whether the request bypasses deduplication entirely
func (c *Cache) ShouldSkip(r *http.Request) bool {
	if !c.cfg.Enabled {
		return true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	for _, prefix := range c.cfg.SkipPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// WindowFor returns the deduplication window for the request's route
func (c *Cache) WindowFor(r *http.Request) time.Duration {
	return c.windowFor(r.Method, fingerprint.NormalizePath(r.URL.Path))
}

func (c *Cache) windowFor(method, normalizedPath string) time.Duration {
	key := fingerprint.RouteKey(method, normalizedPath)
	for _, class := range c.classes {
		if class.Matches(key) {
			return class.Window
		}
	}
	return c.cfg.DefaultWindow
}

// Check fingerprints the request and records it. A fingerprint seen within
// its window is reported as a duplicate and its window restarts. Any failure
// is returned as *InternalError with a zero Outcome. The request body is left
// readable for downstream handlers.
func (c *Cache) Check(r *http.Request) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{}
			err = &InternalError{Op: "check", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	body, err := readBody(r, c.cfg.MaxBodyBytes)
	if err != nil {
		return Outcome{}, &InternalError{Op: "read body", Err: err}
	}

	id := identity.FromRequest(r)
	tuple, err := fingerprint.Build(
		r.Method,
		r.URL.Path,
		fingerprint.Actor(id.ActorID, id.ClientAddr),
		r.URL.RawQuery,
		body,
		r.Header.Get("Content-Type"),
	)
	if err != nil {
		return Outcome{}, &InternalError{Op: "fingerprint", Err: err}
	}
	fp, err := tuple.Digest()
	if err != nil {
		return Outcome{}, &InternalError{Op: "digest", Err: err}
	}

	return c.observe(fp, c.windowFor(r.Method, tuple.Path)), nil
}

// observe is the atomic check-and-set for one fingerprint
func (c *Cache) observe(fp string, window time.Duration) Outcome {
	now := c.clock.Now()
	s := c.shardFor(fp)

	s.mu.Lock()
	e, ok := s.entries[fp]
	switch {
	case ok && now.Sub(e.LastSeenAt) < e.Window:
		e.HitCount++
		e.LastSeenAt = now
		e.Window = window
		s.mu.Unlock()
		c.recent.record(now)
		return Outcome{Duplicate: true, RetryAfter: window, Fingerprint: fp}

	case ok:
		e.FirstSeenAt = now
		e.LastSeenAt = now
		e.HitCount = 1
		e.Window = window
		s.mu.Unlock()

	default:
		s.entries[fp] = &Entry{
			Fingerprint: fp,
			FirstSeenAt: now,
			LastSeenAt:  now,
			HitCount:    1,
			Window:      window,
		}
		size := c.size.Add(1)
		s.mu.Unlock()

		metrics.DedupCacheSize.Set(float64(size))
		if size > int64(c.cfg.MaxSize) {
			c.evict()
		}
	}

	return Outcome{Fingerprint: fp}
}

func (c *Cache) shardFor(fp string) *shard {
	return c.shards[xxhash.Sum64String(fp)%uint64(len(c.shards))]
}

type entryRef struct {
	shard    *shard
	key      string
	lastSeen time.Time
}

// evict trims the cache to 80% of MaxSize, dropping the least recently seen
// entries. Only one eviction runs at a time; it holds every shard lock, taken
// in index order.
func (c *Cache) evict() int {
	if !c.evicting.CompareAndSwap(false, true) {
		return 0
	}
	defer c.evicting.Store(false)

	for _, s := range c.shards {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range c.shards {
			s.mu.Unlock()
		}
	}()

	size := 0
	for _, s := range c.shards {
		size += len(s.entries)
	}
	if size <= c.cfg.MaxSize {
		return 0
	}

	refs := make([]entryRef, 0, size)
	for _, s := range c.shards {
		for k, e := range s.entries {
			refs = append(refs, entryRef{shard: s, key: k, lastSeen: e.LastSeenAt})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].lastSeen.Before(refs[j].lastSeen)
	})

	target := c.cfg.MaxSize * 8 / 10
	removed := size - target
	for _, ref := range refs[:removed] {
		delete(ref.shard.entries, ref.key)
	}

	c.size.Store(int64(target))
	metrics.DedupCacheSize.Set(float64(target))
	metrics.DedupEvictions.Add(float64(removed))
	c.logger.Infow("Deduplication cache over capacity, evicted oldest entries",
		"removed", removed,
		"size", target,
		"max_size", c.cfg.MaxSize)

	return removed
}

// Sweep removes entries idle for at least twice their window and returns the
// number removed.
func (c *Cache) Sweep() int {
	start := c.clock.Now()
	removed := 0

	for _, s := range c.shards {
		s.mu.Lock()
		n := 0
		for k, e := range s.entries {
			if start.Sub(e.LastSeenAt) >= 2*e.Window {
				delete(s.entries, k)
				n++
			}
		}
		c.size.Add(-int64(n))
		s.mu.Unlock()
		removed += n
	}

	metrics.DedupSweepRemoved.Add(float64(removed))
	return removed
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.lifecycleMu.Lock()
	running := c.stopCh != nil
	c.lifecycleMu.Unlock()

	return Stats{
		Size:                 int(c.size.Load()),
		MaxSize:              c.cfg.MaxSize,
		Window:               c.cfg.DefaultWindow,
		RecentDuplicateCount: c.recent.count(c.clock.Now()),
		Shards:               len(c.shards),
		Running:              running,
	}
}

// Start launches the background sweep. Calling Start on a running cache is a no-op.
func (c *Cache) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.stopCh != nil {
		return
	}

	c.stopCh = make(chan struct{})
	ticker := c.clock.Ticker(c.cfg.SweepInterval)
	c.sweepWg.Add(1)
	go c.sweepLoop(ticker, c.stopCh)
}

// Stop halts the background sweep and waits for it to exit. It is safe to
// call more than once.
func (c *Cache) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.stopCh == nil {
		return
	}

	close(c.stopCh)
	c.sweepWg.Wait()
	c.stopCh = nil
}

func (c *Cache) sweepLoop(ticker *clock.Ticker, stopCh <-chan struct{}) {
	defer c.sweepWg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepOnce()
		case <-stopCh:
			return
		}
	}
}

// sweepOnce recovers on its own so one bad sweep does not end the loop
func (c *Cache) sweepOnce() {
	defer goroutine.Recover("dedup-sweep", c.logger)

	start := time.Now()
	removed := c.sweep()
	metrics.DedupSweepDuration.Observe(time.Since(start).Seconds())
	if removed > 0 {
		c.logger.Debugw("Swept stale fingerprints", "removed", removed, "size", c.size.Load())
	}
	metrics.DedupCacheSize.Set(float64(c.size.Load()))
}

// readBody reads up to limit bytes of the request body and reinstalls a body
// that replays everything read, followed by whatever is left unread.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	original := r.Body
	buf, err := io.ReadAll(io.LimitReader(original, limit+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), original), original}

	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return buf, nil
}

// Package signals samples user-behavior signals for the current page visit.
//
// The collector is environment-agnostic: the embedding runtime feeds raw
// scroll and interaction observations into it, and a Ticker drives the
// time-on-page counter. Tests substitute a manual ticker for determinism.
package signals

import (
	"sync"
	"time"
)

// Snapshot is the current view of a visit's behavior signals.
// All fields are monotonically non-decreasing within a single visit.
type Snapshot struct {
	TimeOnPageSeconds  int     `json:"time_on_page_seconds"`
	ScrollDepthPercent float64 `json:"scroll_depth_percent"`
	InteractionCount   int     `json:"interaction_count"`
}

// Ticker delivers periodic ticks. time.Ticker satisfies it via tickerAdapter;
// tests provide a hand-driven channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker with the given period.
type TickerFactory func(d time.Duration) Ticker

type tickerAdapter struct {
	t *time.Ticker
}

func (a tickerAdapter) C() <-chan time.Time { return a.t.C }
func (a tickerAdapter) Stop()               { a.t.Stop() }

// NewTicker is the default TickerFactory, backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return tickerAdapter{t: time.NewTicker(d)}
}

// CollectorOptions configures a Collector. Zero values select defaults.
type CollectorOptions struct {
	// Interval between time-on-page ticks. Defaults to one second.
	Interval time.Duration
	// Tickers overrides the ticker construction; used in tests.
	Tickers TickerFactory
}

// Collector accumulates a Snapshot for one page visit.
// It performs no network or storage I/O.
type Collector struct {
	mu       sync.Mutex
	snap     Snapshot
	onUpdate func(Snapshot)

	interval time.Duration
	tickers  TickerFactory

	stopOnce sync.Once
	done     chan struct{}
}

// NewCollector creates a collector for a fresh page visit.
func NewCollector(opts CollectorOptions) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Tickers == nil {
		opts.Tickers = NewTicker
	}
	return &Collector{
		interval: opts.Interval,
		tickers:  opts.Tickers,
		done:     make(chan struct{}),
	}
}

// Start begins sampling and invokes onUpdate after every change to the
// snapshot. It returns a stop function that must be called on teardown to
// release the ticker; stop is idempotent.
func (c *Collector) Start(onUpdate func(Snapshot)) (stop func()) {
	c.mu.Lock()
	c.onUpdate = onUpdate
	c.mu.Unlock()

	ticker := c.tickers(c.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C():
				c.tick()
			}
		}
	}()

	return func() {
		c.stopOnce.Do(func() { close(c.done) })
	}
}

func (c *Collector) tick() {
	c.mu.Lock()
	c.snap.TimeOnPageSeconds++
	snap, fn := c.snap, c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// ObserveScroll records a scroll position. Depth is computed as
// top/(height-viewport) and only the running maximum is retained, clamped
// to [0,100]. A page shorter than the viewport counts as fully scrolled.
func (c *Collector) ObserveScroll(top, height, viewport float64) {
	depth := 100.0
	if scrollable := height - viewport; scrollable > 0 {
		depth = top / scrollable * 100
	}
	if depth < 0 {
		depth = 0
	}
	if depth > 100 {
		depth = 100
	}

	c.mu.Lock()
	if depth <= c.snap.ScrollDepthPercent {
		c.mu.Unlock()
		return
	}
	c.snap.ScrollDepthPercent = depth
	snap, fn := c.snap, c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// ObserveInteraction records a click or key press. The count is a coarse
// engagement signal only.
func (c *Collector) ObserveInteraction() {
	c.mu.Lock()
	c.snap.InteractionCount++
	snap, fn := c.snap, c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Snapshot returns the current signal values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

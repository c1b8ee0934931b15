package timectrl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts wall-clock access so progress can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// Snapshot is the state of a Progress at one tick.
type Snapshot struct {
	Elapsed time.Duration
	Done    int64
	Total   int64
}

// Rate returns completed units per second, or 0 before any time elapsed.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Done) / s.Elapsed.Seconds()
}

// Remaining estimates the time left at the current rate. It returns 0 when
// the total is unknown or no unit has completed yet.
func (s Snapshot) Remaining() time.Duration {
	rate := s.Rate()
	if rate == 0 || s.Total <= s.Done {
		return 0
	}
	return time.Duration(float64(s.Total-s.Done) / rate * float64(time.Second))
}

// Progress counts completed work units and notifies registered listeners on
// a fixed wall-clock tick. Add is safe from any goroutine.
type Progress struct {
	mu    sync.RWMutex
	Tick  time.Duration
	clock Clock
	start time.Time
	total int64
	done  atomic.Int64

	listeners []func(Snapshot)
}

// NewProgress constructs a tracker for total units. A zero total means
// unknown.
func NewProgress(total int, tick time.Duration, clock Clock) *Progress {
	if clock == nil {
		clock = SystemClock()
	}
	return &Progress{
		Tick:  tick,
		clock: clock,
		start: clock.Now(),
		total: int64(total),
	}
}

// Add records n completed units.
func (p *Progress) Add(n int) {
	p.done.Add(int64(n))
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	start := p.start
	p.mu.RUnlock()
	return Snapshot{
		Elapsed: p.clock.Now().Sub(start),
		Done:    p.done.Load(),
		Total:   p.total,
	}
}

// AddListener registers a callback invoked on every tick and once more when
// the tracker stops.
func (p *Progress) AddListener(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Progress) notify() {
	p.mu.RLock()
	listeners := append([]func(Snapshot){}, p.listeners...)
	p.mu.RUnlock()

	snap := p.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Start runs the ticker in a separate goroutine until ctx is cancelled. It
// returns a channel that is closed after the final notification.
func (p *Progress) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	p.mu.Lock()
	p.start = p.clock.Now()
	p.mu.Unlock()

	go func() {
		defer close(done)
		if p.Tick <= 0 {
			<-ctx.Done()
			p.notify()
			return
		}

		ticker := time.NewTicker(p.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.notify()
				return
			case <-ticker.C:
				p.notify()
			}
		}
	}()
	return done
}

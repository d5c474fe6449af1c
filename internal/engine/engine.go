package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/entropy"
)

// Engine drives a State forward in real time. Readers call State() and always
// see a whole day; only the run loop (or Step) produces new states.
type Engine struct {
	Interval time.Duration // how often the clock is polled

	// OnDay runs on the loop goroutine after each simulated day.
	OnDay func(s *State)

	mu    sync.Mutex // serialises Step and Snapshot
	rng   *entropy.Source
	clock Clock

	state atomic.Pointer[State]
	cfg   atomic.Pointer[config.Config]
	stop  chan struct{}
	once  sync.Once
}

// New creates an engine at s, drawing from rng.
func New(s *State, rng *entropy.Source) *Engine {
	e := &Engine{
		Interval: 100 * time.Millisecond,
		rng:      rng,
		stop:     make(chan struct{}),
	}
	e.state.Store(s)
	e.cfg.Store(s.Config)
	return e
}

// State returns the latest complete day.
func (e *Engine) State() *State { return e.state.Load() }

// Speed is the current seconds-per-day setting; 0 means paused.
func (e *Engine) Speed() float64 { return e.cfg.Load().Game.Speed.Get() }

// SetSpeed changes the game speed within its configured range. The new
// snapshot is carried by the next simulated day.
func (e *Engine) SetSpeed(speed float64) error {
	for {
		cur := e.cfg.Load()
		next, err := cur.WithSpeed(speed)
		if err != nil {
			return err
		}
		if e.cfg.CompareAndSwap(cur, next) {
			slog.Info("game speed changed", "from", cur.Game.Speed.Get(), "to", speed)
			return nil
		}
	}
}

// Step simulates exactly one day and publishes it.
func (e *Engine) Step() *State {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := AdvanceOneDay(e.state.Load(), e.rng)
	next.Config = e.cfg.Load()
	e.state.Store(next)
	return next
}

// Snapshot returns the current state together with the random stream
// position that continues it.
func (e *Engine) Snapshot() (*State, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rng, err := e.rng.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return e.state.Load(), rng, nil
}

// Run polls the clock every Interval and simulates each day that has come
// due, in order. It blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("simulation engine started", "day", e.State().Day, "speed", e.Speed())

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "day", e.State().Day)
			return
		case <-e.stop:
			slog.Info("simulation engine stopped", "day", e.State().Day)
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			due := e.clock.Advance(elapsed, e.Speed())
			for i := 0; i < due; i++ {
				if ctx.Err() != nil {
					break
				}
				s := e.Step()
				s.Report()
				if e.OnDay != nil {
					e.OnDay(s)
				}
			}
		}
	}
}

// Stop halts Run.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
}

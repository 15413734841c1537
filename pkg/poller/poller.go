// Package poller drives repeated fetches of volatile daemon state, one
// scheduler per query key: adaptive backoff while the daemon converges,
// bounded attempts, single-flight semantics, and stale-response
// discarding on cancellation or key change.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sjf/psyche-search/pkg/backoff"
	"github.com/sjf/psyche-search/pkg/protocol"
)

// State is the scheduler's lifecycle state for one key.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateRetrying
	StateReady
	StateExhausted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateRetrying:
		return "retrying"
	case StateReady:
		return "ready"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Clock abstracts timer scheduling so tests run without real delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real-time clock.
type SystemClock struct{}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// FetchFunc performs one poll for a key. A non-nil error means a
// transport-level failure (network error, non-2xx, malformed payload);
// daemon-side convergence states arrive inside the snapshot.
type FetchFunc func(ctx context.Context) (protocol.TreeSnapshot, error)

// Update is delivered to the consumer after every completed attempt.
// For a given key, update N finishes delivering before request N+1 is
// issued.
type Update struct {
	Key       string
	State     State
	Snapshot  protocol.TreeSnapshot
	Err       error
	Attempt   int
	NextDelay time.Duration // 0 unless State is StateRetrying
}

// Config parameterizes a poller.
type Config struct {
	Key    string
	Fetch  FetchFunc
	Policy backoff.Config
	Clock  Clock

	// Interval > 0 selects continuous mode: the key is re-polled on a
	// fixed cadence with no attempt ceiling, for resources that change
	// forever rather than converge (the downloads queue).
	Interval time.Duration

	OnUpdate func(Update)
}

// Poller is the per-key scheduler. All methods are safe for concurrent
// use; the fetch loop itself is a single goroutine, so snapshots for
// one key are strictly sequential.
type Poller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	gen     uint64
	running bool
	cancel  context.CancelFunc
	kick    chan struct{}
}

// New creates a poller in StateIdle.
func New(cfg Config) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Policy == (backoff.Config{}) {
		cfg.Policy = backoff.DefaultConfig()
	}
	return &Poller{cfg: cfg, state: StateIdle}
}

// Key returns the query key this poller serves.
func (p *Poller) Key() string {
	return p.cfg.Key
}

// State returns the current scheduler state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Activate starts the fetch loop. While a request is outstanding the
// call coalesces into its response (single-flight per key); while a
// loop is backing off, waiting out an interval, or delivering a
// terminal update, the call shortcuts that wait instead of starting a
// second loop. Activating after Ready, Exhausted, or Cancelled starts
// over with the attempt counter and delay reset.
func (p *Poller) Activate(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		select {
		case p.kick <- struct{}{}:
		default:
		}
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	p.state = StateFetching
	p.running = true
	// Only the waits hang off this context: Cancel releases pending
	// timers without aborting an in-flight request (staleness is
	// decided at response time by the generation guard).
	waitCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	// Per-activation channel, so a stale loop can never steal a kick
	// meant for its successor.
	kick := make(chan struct{}, 1)
	p.kick = kick
	p.mu.Unlock()

	go p.run(ctx, waitCtx, gen, kick)
}

// Cancel deactivates the key: pending timers are released and any
// in-flight response is discarded when it arrives. The transport is not
// aborted mid-request.
func (p *Poller) Cancel() {
	p.mu.Lock()
	p.gen++
	p.state = StateCancelled
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *Poller) run(ctx, waitCtx context.Context, gen uint64, kick chan struct{}) {
	defer func() {
		p.mu.Lock()
		// A stale loop must not clear the flag of its successor.
		if p.gen == gen {
			p.running = false
		}
		p.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		snap, err := p.cfg.Fetch(ctx)

		p.mu.Lock()
		if p.gen != gen {
			// The key changed hands while this request was in flight.
			p.mu.Unlock()
			return
		}
		// Activations that landed while this request was outstanding
		// are answered by its response.
		select {
		case <-kick:
		default:
		}

		update := Update{Key: p.cfg.Key, Snapshot: snap, Err: err, Attempt: attempt}
		var wait time.Duration
		done := false

		switch {
		case err == nil && snap.Converged():
			if p.cfg.Interval > 0 {
				p.state = StateReady
				update.State = StateReady
				attempt = 0
				wait = p.cfg.Interval
			} else {
				p.state = StateReady
				update.State = StateReady
				done = true
			}
		case p.cfg.Interval > 0:
			// Continuous mode never exhausts; keep the cadence.
			p.state = StateRetrying
			update.State = StateRetrying
			update.NextDelay = p.cfg.Interval
			wait = p.cfg.Interval
		case p.cfg.Policy.Exhausted(attempt):
			p.state = StateExhausted
			update.State = StateExhausted
			done = true
		default:
			wait = p.cfg.Policy.Delay(attempt)
			p.state = StateRetrying
			update.State = StateRetrying
			update.NextDelay = wait
		}
		p.mu.Unlock()

		// running stays true through delivery, so a concurrent
		// Activate becomes a kick and request N+1 is never issued
		// before update N finishes delivering.
		p.deliver(update)

		if done {
			p.mu.Lock()
			if p.gen != gen {
				p.mu.Unlock()
				return
			}
			select {
			case <-kick:
				// A reactivation arrived while the terminal update was
				// being delivered; start over with the attempt counter
				// reset.
				p.state = StateFetching
				p.mu.Unlock()
				attempt = 0
				continue
			default:
				p.running = false
				p.mu.Unlock()
				return
			}
		}

		select {
		case <-waitCtx.Done():
			return
		case <-p.cfg.Clock.After(wait):
		case <-kick:
		}

		p.mu.Lock()
		stale := p.gen != gen
		if !stale {
			p.state = StateFetching
		}
		p.mu.Unlock()
		if stale {
			return
		}
	}
}

func (p *Poller) deliver(u Update) {
	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(u)
	}
}

package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned without calling upstream while the breaker
	// is cooling off.
	ErrCircuitOpen = errors.New("upstream circuit open")
	// ErrProbeLimit is returned when every probe slot of a probing breaker
	// is taken.
	ErrProbeLimit = errors.New("upstream probe limit reached")
)

// State of an upstream breaker.
type State uint8

const (
	StateClosed State = iota
	StateProbing
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateProbing:
		return "probing"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Settings tunes a breaker. Zero values take the defaults applied by New.
type Settings struct {
	// MaxRequests is both the number of probe calls admitted while probing
	// and the number of probe successes that close the breaker.
	MaxRequests uint32
	// Interval is the closed-state window after which counts start over.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ReadyToTrip decides, after a closed-state failure, whether to open.
	ReadyToTrip func(Counts) bool
	// IsSuccessful classifies a call result. Defaults to err == nil.
	IsSuccessful func(error) bool
	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// Counts are the call statistics of the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// FailureRatio is TotalFailures/Requests, 0 for an empty window.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

type transition struct {
	from, to State
}

// Breaker guards calls to one upstream.
type Breaker struct {
	name string
	cfg  Settings
	now  func() time.Time

	mu       sync.Mutex
	state    State
	epoch    uint64
	counts   Counts
	deadline time.Time
}

// New builds a closed breaker.
func New(name string, cfg Settings) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.deadline = b.now().Add(cfg.Interval)
	return b
}

func (b *Breaker) Name() string { return b.name }

// State reports the state as of now, applying any due time-based move.
func (b *Breaker) State() State {
	s, _ := b.Snapshot()
	return s
}

// Counts returns a copy of the current window.
func (b *Breaker) Counts() Counts {
	_, c := b.Snapshot()
	return c
}

// Snapshot returns state and counts under one lock.
func (b *Breaker) Snapshot() (State, Counts) {
	b.mu.Lock()
	moved := b.advance(b.now())
	state, counts := b.state, b.counts
	b.mu.Unlock()
	b.notify(moved)
	return state, counts
}

// Reset closes the breaker and clears its window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	now := b.now()
	moved := b.moveTo(StateClosed, now)
	if moved == nil {
		b.epoch++
		b.counts = Counts{}
		b.deadline = now.Add(b.cfg.Interval)
	}
	b.mu.Unlock()
	b.notify(moved)
}

// Do runs fn if the breaker admits it and records the outcome. A panic in
// fn counts as a failure and is re-raised.
func Do[T any](b *Breaker, fn func() (T, error)) (result T, err error) {
	epoch, err := b.admit()
	if err != nil {
		return result, err
	}
	settled := false
	defer func() {
		if !settled {
			b.settle(epoch, false)
		}
	}()
	result, err = fn()
	settled = true
	b.settle(epoch, b.cfg.IsSuccessful(err))
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	moved := b.advance(b.now())
	epoch := b.epoch
	var err error
	switch {
	case b.state == StateOpen:
		err = ErrCircuitOpen
	case b.state == StateProbing && b.counts.Requests >= b.cfg.MaxRequests:
		err = ErrProbeLimit
	default:
		b.counts.Requests++
	}
	b.mu.Unlock()
	b.notify(moved)
	return epoch, err
}

// settle drops results from calls admitted in an earlier epoch.
func (b *Breaker) settle(epoch uint64, ok bool) {
	b.mu.Lock()
	now := b.now()
	moved := b.advance(now)
	if epoch == b.epoch {
		if ok {
			b.counts.success()
			if b.state == StateProbing && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
				moved = append(moved, b.moveTo(StateClosed, now)...)
			}
		} else {
			b.counts.failure()
			if b.state == StateProbing || b.cfg.ReadyToTrip(b.counts) {
				moved = append(moved, b.moveTo(StateOpen, now)...)
			}
		}
	}
	b.mu.Unlock()
	b.notify(moved)
}

// advance applies expired deadlines. Callers hold mu.
func (b *Breaker) advance(now time.Time) []transition {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.counts = Counts{}
			b.epoch++
			b.deadline = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		if now.After(b.deadline) {
			return b.moveTo(StateProbing, now)
		}
	}
	return nil
}

// moveTo starts a new epoch in state to. Callers hold mu.
func (b *Breaker) moveTo(to State, now time.Time) []transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.epoch++
	b.counts = Counts{}
	switch to {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	default:
		b.deadline = time.Time{}
	}
	return []transition{{from, to}}
}

func (b *Breaker) notify(moved []transition) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, t := range moved {
		b.cfg.OnStateChange(b.name, t.from, t.to)
	}
}

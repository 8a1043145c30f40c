// Package arbiter grants exclusive ownership of the logical display. A new
// open preempts the current owner: its display is force-shut-down into the
// Dead state and its resources released before the new owner's display is
// built. This is the layer that turns "somebody stole the display" into a
// concrete preemption event for the display core.
package arbiter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/evs-hal/displayd/internal/display"
	"github.com/evs-hal/displayd/internal/health"
	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("arbiter")

var (
	// ErrNoDisplay is returned when no display is currently open.
	ErrNoDisplay = errors.New("arbiter: no display open")

	// ErrNotOwner is returned when a token does not own the current display.
	ErrNotOwner = errors.New("arbiter: token does not own the display")
)

// healthComponent is the monitor entry the arbiter maintains.
const healthComponent = "display"

// Factory builds a ready-to-use display. onStateChange must be attached to
// the display so the arbiter can observe every recorded state transition.
type Factory func(onStateChange func(display.State)) (display.Display, error)

// Session is one producer's claim on the display.
type Session struct {
	Token   uuid.UUID
	Display display.Display
}

// Arbiter hands out exclusive display sessions.
type Arbiter struct {
	factory Factory
	monitor *health.Monitor

	// openMu serializes Open end to end: preempt, build, install. mu alone
	// only guards the current/token pair, and Open must drop it around the
	// blocking ForceShutdown and factory calls.
	openMu sync.Mutex

	mu      sync.Mutex
	current display.Display
	token   uuid.UUID

	subMu sync.Mutex
	subs  map[int]func(display.State)
	nextS int
}

// New creates an arbiter. monitor may be nil.
func New(factory Factory, monitor *health.Monitor) *Arbiter {
	return &Arbiter{
		factory: factory,
		monitor: monitor,
		subs:    make(map[int]func(display.State)),
	}
}

// Open claims the display for a new producer, preempting any current owner
// first. The preempted owner's display ends up Dead; its in-flight calls
// degrade per the display core's contract.
func (a *Arbiter) Open() (*Session, error) {
	a.openMu.Lock()
	defer a.openMu.Unlock()

	a.mu.Lock()
	preempted := a.current
	a.current = nil
	a.token = uuid.UUID{}
	a.mu.Unlock()

	if preempted != nil {
		log.Warn("display ownership preempted")
		preempted.ForceShutdown()
	}

	d, err := a.factory(a.broadcast)
	if err != nil {
		a.updateHealth(health.Unhealthy, fmt.Sprintf("display open failed: %v", err))
		return nil, fmt.Errorf("open display: %w", err)
	}

	token := uuid.New()
	a.mu.Lock()
	a.current = d
	a.token = token
	a.mu.Unlock()

	a.updateHealth(health.Healthy, d.State().String())
	log.Info("display opened", "token", token.String())
	return &Session{Token: token, Display: d}, nil
}

// Close releases the display if token still owns it. A preempted owner
// closing late gets ErrNotOwner, not a teardown of the new owner's display.
func (a *Arbiter) Close(token uuid.UUID) error {
	a.mu.Lock()
	if a.current == nil {
		a.mu.Unlock()
		return ErrNoDisplay
	}
	if a.token != token {
		a.mu.Unlock()
		return ErrNotOwner
	}
	d := a.current
	a.current = nil
	a.token = uuid.UUID{}
	a.mu.Unlock()

	d.ForceShutdown()
	a.updateHealth(health.Degraded, "no display open")
	log.Info("display closed", "token", token.String())
	return nil
}

// Display returns the currently open display, if any.
func (a *Arbiter) Display() (display.Display, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.current != nil
}

// Owns reports whether token holds the current session.
func (a *Arbiter) Owns(token uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil && a.token == token
}

// Subscribe registers a state-change listener and returns its cancel func.
func (a *Arbiter) Subscribe(fn func(display.State)) func() {
	a.subMu.Lock()
	id := a.nextS
	a.nextS++
	a.subs[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Arbiter) broadcast(s display.State) {
	if s == display.StateDead {
		a.updateHealth(health.Degraded, "display dead")
	} else {
		a.updateHealth(health.Healthy, s.String())
	}

	a.subMu.Lock()
	fns := make([]func(display.State), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (a *Arbiter) updateHealth(status health.Status, message string) {
	if a.monitor != nil {
		a.monitor.Update(healthComponent, status, message)
	}
}

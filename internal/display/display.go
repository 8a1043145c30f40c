// Package display implements the display-ownership state machine and the
// frame-buffer lifecycle behind it. A Display hands rendering buffers to
// exactly one producer at a time and arbitrates what the screen shows
// across state requests, buffer returns, and preemption.
//
// Two backends exist: the direct backend drives a hardware layer with a
// pre-allocated buffer pool, and the proxy backend renders through an
// external window compositor with a single lazily-allocated target. The
// backend is chosen at construction; both share the same state semantics.
package display

import (
	"github.com/evs-hal/displayd/internal/gralloc"
	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("display")

// Desc is the immutable self-description of the display.
type Desc struct {
	DisplayID   string `json:"displayId"`
	VendorFlags uint32 `json:"vendorFlags"`
}

// DefaultDesc is the identity reported when the daemon does not configure
// its own.
func DefaultDesc() Desc {
	return Desc{DisplayID: "evs hal Display", VendorFlags: 3870}
}

// Mode describes the active display geometry. A zero Mode means the
// physical display handle is not available; mode queries never block on
// hardware availability.
type Mode struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	RefreshRate float32 `json:"refreshRate"`
	LayerStack  int     `json:"layerStack"`
}

// BufferDesc describes one issued frame buffer. A zero BufferDesc (nil
// MemHandle) is the "no buffer" answer; acquisition failures are reported
// with it rather than with an error, because the completion callback must
// always fire.
type BufferDesc struct {
	Width     int
	Height    int
	Stride    int // in pixels
	Format    gralloc.PixelFormat
	Usage     gralloc.Usage
	BufferID  uint32
	PixelSize int
	MemHandle *gralloc.Buffer
}

// Valid reports whether the descriptor refers to a real buffer.
func (d BufferDesc) Valid() bool {
	return d.MemHandle != nil
}

// Display is one logical video display owned by a single producer.
type Display interface {
	// Info returns the immutable self-description.
	Info() Desc

	// SetState requests an ownership-state transition. The recorded state
	// reflects the request even when the visible effect lags (the show
	// for VisibleOnNextFrame happens on the next returned frame).
	SetState(state State) Result

	// State returns the most recently recorded state.
	State() State

	// TargetBuffer issues a frame buffer to the producer through deliver.
	// deliver is always invoked exactly once; on failure it receives a
	// zero BufferDesc.
	TargetBuffer(deliver func(BufferDesc))

	// ReturnBuffer hands a previously issued buffer back for display.
	// The buffer is no longer valid for the producer after this call.
	ReturnBuffer(desc BufferDesc) Result

	// Mode returns the active display geometry, or a zero Mode when the
	// physical display is not available.
	Mode() Mode

	// ForceShutdown releases every buffer and display resource and moves
	// the state machine to Dead. Called when another owner takes the
	// display, and on destruction. Idempotent.
	ForceShutdown()
}

// validRequest reports whether s is inside the known state enumeration.
func validRequest(s State) bool {
	return s >= StateNotVisible && s < numStates
}

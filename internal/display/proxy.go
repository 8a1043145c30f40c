package display

import (
	"sync"

	"github.com/evs-hal/displayd/internal/compositor"
	"github.com/evs-hal/displayd/internal/gralloc"
)

// renderTargetID is the magic buffer id of the proxy backend's single
// render target, used to recognize our own buffer on return.
const renderTargetID = 0x3870

// ProxyOptions configures a proxy-backend display.
type ProxyOptions struct {
	Info      Desc
	DisplayID uint64
	Format    gralloc.PixelFormat
	Allocator gralloc.Allocator
	Window    compositor.WindowProxy

	// OnStateChange, if set, is called after every recorded state change,
	// outside the display lock.
	OnStateChange func(State)
}

// ProxyDisplay renders through an external window compositor. One render
// target is allocated lazily on the first buffer request and circulated to
// the producer one frame at a time, tracked by the frameBusy flag.
type ProxyDisplay struct {
	mu    sync.Mutex
	state State

	info          Desc
	displayID     uint64
	format        gralloc.PixelFormat
	alloc         gralloc.Allocator
	window        compositor.WindowProxy
	onStateChange func(State)

	// Guarded by mu.
	buffer    BufferDesc
	frameBusy bool
}

// NewProxy constructs a proxy-backend display. No window or buffer exists
// until the first TargetBuffer call.
func NewProxy(opts ProxyOptions) *ProxyDisplay {
	info := opts.Info
	if info == (Desc{}) {
		info = DefaultDesc()
	}

	return &ProxyDisplay{
		state:         StateNotVisible,
		info:          info,
		displayID:     opts.DisplayID,
		format:        opts.Format,
		alloc:         opts.Allocator,
		window:        opts.Window,
		onStateChange: opts.OnStateChange,
	}
}

// Info returns the immutable self-description.
func (d *ProxyDisplay) Info() Desc {
	return d.info
}

// SetState requests a state transition, showing or hiding the compositor
// window immediately for Visible and NotVisible. VisibleOnNextFrame defers
// the show to the next returned frame.
func (d *ProxyDisplay) SetState(state State) Result {
	d.mu.Lock()

	if d.state == StateDead {
		d.mu.Unlock()
		return ResultOwnershipLost
	}
	if !validRequest(state) {
		d.mu.Unlock()
		return ResultInvalidArg
	}

	changed := d.state != state
	d.state = state
	d.mu.Unlock()

	switch state {
	case StateNotVisible:
		d.window.HideWindow(d.displayID)
	case StateVisible:
		d.window.ShowWindow(d.displayID)
	}

	if changed {
		d.fireState(state)
	}
	return ResultOK
}

// State returns the recorded state.
func (d *ProxyDisplay) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// TargetBuffer issues the render target. The first call sets up the window
// surface and allocates the buffer; later calls hand out the same buffer
// whenever it is not already outstanding. deliver always fires; failures
// and re-entrant requests hand it a zero BufferDesc.
func (d *ProxyDisplay) TargetBuffer(deliver func(BufferDesc)) {
	d.mu.Lock()

	if d.state == StateDead {
		d.mu.Unlock()
		log.Error("rejecting buffer request from object that lost display ownership")
		deliver(BufferDesc{})
		return
	}

	if d.buffer.MemHandle == nil {
		// One-time window setup. This makes the surface exist before the
		// first frame is returned; the compositor keeps it hidden until a
		// show is requested.
		if err := d.window.Initialize(d.displayID); err != nil {
			d.mu.Unlock()
			log.Error("failed to initialize window surface", "error", err)
			deliver(BufferDesc{})
			return
		}

		width := d.window.Width()
		height := d.window.Height()
		usage := gralloc.UsageHwRender | gralloc.UsageHwComposer | gralloc.UsageHwVideoEncoder

		buf, err := d.alloc.Allocate(width, height, d.format, usage, "EvsGlDisplay")
		if err != nil || buf == nil {
			// Tear the window back down rather than keeping a surface with
			// nothing to draw into it.
			d.window.Shutdown()
			d.mu.Unlock()
			log.Error("failed to allocate render target", "width", width, "height", height, "error", err)
			deliver(BufferDesc{})
			return
		}

		d.buffer = BufferDesc{
			Width:     buf.Width,
			Height:    buf.Height,
			Stride:    buf.Stride,
			Format:    buf.Format,
			Usage:     usage,
			BufferID:  renderTargetID,
			PixelSize: buf.Format.BytesPerPixel(),
			MemHandle: buf,
		}
		d.frameBusy = false
		log.Debug("allocated render target", "stride", buf.Stride, "bufferId", renderTargetID)
	}

	if d.frameBusy {
		// Either a second client is competing for the buffer (unsupported)
		// or the producer never returned the previous frame. The callback
		// still fires with nothing in it.
		d.mu.Unlock()
		log.Error("buffer requested while no buffers available")
		deliver(BufferDesc{})
		return
	}

	d.frameBusy = true
	desc := d.buffer
	d.mu.Unlock()

	deliver(desc)
}

// ReturnBuffer accepts the render target back. The busy flag clears before
// the ownership check so a preempted producer's return still frees the slot
// for cleanup; compositing only happens while ownership holds.
func (d *ProxyDisplay) ReturnBuffer(desc BufferDesc) Result {
	if desc.MemHandle == nil {
		log.Error("buffer returned without a valid memory handle")
		return ResultInvalidArg
	}

	d.mu.Lock()

	if desc.BufferID != d.buffer.BufferID {
		d.mu.Unlock()
		log.Error("unrecognized frame returned", "bufferId", desc.BufferID)
		return ResultInvalidArg
	}
	if !d.frameBusy {
		d.mu.Unlock()
		log.Error("frame returned with no outstanding frames")
		return ResultBufferNotAvailable
	}

	d.frameBusy = false

	if d.state == StateDead {
		d.mu.Unlock()
		return ResultOwnershipLost
	}

	transitioned := false
	if d.state == StateVisibleOnNextFrame {
		// The frame we were waiting for: become visible now.
		d.state = StateVisible
		transitioned = true
	}

	state := d.state
	buffer := d.buffer
	d.mu.Unlock()

	if transitioned {
		d.window.ShowWindow(d.displayID)
		d.fireState(StateVisible)
	}

	if state != StateVisible {
		log.Warn("frame returned while not visible, ignoring")
		return ResultOK
	}

	view := compositor.BufferView{
		Width:  buffer.Width,
		Height: buffer.Height,
		Stride: buffer.Stride,
		Format: buffer.Format,
		Pix:    buffer.MemHandle.Bytes(),
	}
	if err := d.window.UpdateImageTexture(view); err != nil {
		log.Error("texture update failed", "error", err)
		return ResultUnderlyingServiceError
	}
	if err := d.window.RenderImageToScreen(); err != nil {
		log.Error("render failed", "error", err)
	}

	return ResultOK
}

// Mode reports the window surface geometry once it exists, or a zero Mode
// before the first buffer request.
func (d *ProxyDisplay) Mode() Mode {
	d.mu.Lock()
	inited := d.buffer.MemHandle != nil
	d.mu.Unlock()

	if !inited {
		return Mode{}
	}
	return Mode{
		Width:       d.window.Width(),
		Height:      d.window.Height(),
		RefreshRate: 60,
		LayerStack:  int(d.displayID),
	}
}

// ForceShutdown frees the render target and shuts the window surface down,
// then moves to Dead. Releasing promptly here beats waiting for the
// producer: the next owner needs the display now. Idempotent.
func (d *ProxyDisplay) ForceShutdown() {
	log.Debug("proxy display forceShutdown")

	d.mu.Lock()
	buf := d.buffer.MemHandle
	busy := d.frameBusy
	d.buffer.MemHandle = nil
	// frameBusy stays set for an outstanding buffer: the producer's late
	// return clears it and learns of the loss via OWNERSHIP_LOST.
	changed := d.state != StateDead
	d.state = StateDead
	d.mu.Unlock()

	if buf != nil {
		if busy {
			log.Error("display going down while client is holding a buffer")
		}
		if err := d.alloc.Free(buf); err != nil {
			log.Warn("render target free failed", "error", err)
		}
		d.window.HideWindow(d.displayID)
		d.window.Shutdown()
	}

	if changed {
		d.fireState(StateDead)
	}
}

func (d *ProxyDisplay) fireState(s State) {
	if d.onStateChange != nil {
		d.onStateChange(s)
	}
}

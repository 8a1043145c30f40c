package display

import (
	"fmt"
	"sync"
	"time"

	"github.com/evs-hal/displayd/internal/displaysvc"
	"github.com/evs-hal/displayd/internal/gralloc"
)

// defaultRetryInterval paces the one-time display-service acquisition loop.
const defaultRetryInterval = 200 * time.Millisecond

// ServiceConnector attempts one connection to the display service. The
// direct backend retries it until it succeeds, so transient failures during
// early boot are expected.
type ServiceConnector func() (displaysvc.Service, error)

// DirectOptions configures a direct-backend display.
type DirectOptions struct {
	Info        Desc
	Width       int
	Height      int
	Format      gralloc.PixelFormat
	BufferCount int
	Connect     ServiceConnector
	Driver      gralloc.Driver

	// RetryInterval overrides the service acquisition backoff. Zero means
	// the 200ms default.
	RetryInterval time.Duration

	// OnStateChange, if set, is called after every recorded state change,
	// outside the display lock.
	OnStateChange func(State)
}

// DirectDisplay presents through a hardware layer with a fixed pool of
// driver-allocated buffers. Slot assignment is arbitrated by the display
// service; the slot index doubles as the public buffer id.
type DirectDisplay struct {
	mu    sync.Mutex
	state State

	info          Desc
	width, height int
	format        gralloc.PixelFormat
	bufferCount   int
	connect       ServiceConnector
	driver        gralloc.Driver
	retry         time.Duration
	onStateChange func(State)

	// Guarded by mu. svc and layer are the cached physical display handle;
	// a nil pool entry means that slot was released.
	svc     displaysvc.Service
	layer   int
	buffers []*gralloc.Buffer
}

// NewDirect constructs a direct-backend display. The buffer pool is not
// allocated yet; call InitializePool before issuing buffers, and treat a
// false return as fatal for this display (invoke ForceShutdown and discard).
func NewDirect(opts DirectOptions) *DirectDisplay {
	retry := opts.RetryInterval
	if retry == 0 {
		retry = defaultRetryInterval
	}
	info := opts.Info
	if info == (Desc{}) {
		info = DefaultDesc()
	}

	return &DirectDisplay{
		state:         StateNotVisible,
		info:          info,
		width:         opts.Width,
		height:        opts.Height,
		format:        opts.Format,
		bufferCount:   opts.BufferCount,
		connect:       opts.Connect,
		driver:        opts.Driver,
		retry:         retry,
		onStateChange: opts.OnStateChange,
		layer:         displaysvc.InvalidLayer,
		buffers:       make([]*gralloc.Buffer, opts.BufferCount),
	}
}

// acquireDisplay lazily obtains and caches the display service handle and
// the layer grant. The first call blocks, retrying until the service comes
// up; this runs once on a startup path, never per frame. A nil return means
// the layer grant failed, which is fatal for this display.
func (d *DirectDisplay) acquireDisplay() displaysvc.Service {
	d.mu.Lock()
	if d.svc != nil {
		svc := d.svc
		d.mu.Unlock()
		return svc
	}
	d.mu.Unlock()

	var svc displaysvc.Service
	for {
		s, err := d.connect()
		if err == nil && s != nil {
			svc = s
			break
		}
		log.Error("display service unavailable, retrying", "error", err)
		time.Sleep(d.retry)
	}

	layer, err := svc.GetLayer(d.bufferCount)
	if err != nil {
		log.Error("layer grant failed", "error", err)
		return nil
	}

	d.mu.Lock()
	if d.svc != nil {
		// A concurrent caller finished acquisition while we were connecting.
		// Keep its handle and give the duplicate grant back.
		cached := d.svc
		d.mu.Unlock()
		if err := svc.PutLayer(layer); err != nil {
			log.Warn("duplicate layer release failed", "layer", layer, "error", err)
		}
		return cached
	}
	d.svc = svc
	d.layer = layer
	d.mu.Unlock()
	return svc
}

// InitializePool allocates the fixed buffer pool. On any failure it reports
// false without releasing slots already allocated: a partially initialized
// pool must be torn down by the caller via ForceShutdown, never used.
func (d *DirectDisplay) InitializePool() bool {
	if err := d.driver.Init(); err != nil {
		log.Error("buffer driver init failed", "error", err)
		return false
	}

	for i := 0; i < d.bufferCount; i++ {
		desc := &gralloc.BufferDescriptor{
			Name:   fmt.Sprintf("EVS Display Buf%d", i),
			Width:  d.width,
			Height: d.height,
			Format: d.format,
			Usage:  gralloc.UsageHwTexture | gralloc.UsageHwRender | gralloc.UsageHwVideoEncoder,
		}

		buf, err := d.driver.Allocate(desc, gralloc.MetadataSize)
		if err != nil {
			log.Error("failed to allocate display buffer", "slot", i, "error", err)
			return false
		}

		region, err := d.driver.ReservedRegion(buf)
		if err != nil {
			d.driver.Release(buf)
			log.Error("failed to get reserved metadata region", "slot", i, "error", err)
			return false
		}

		meta := gralloc.Metadata{
			Name:      desc.Name,
			Dataspace: gralloc.DataspaceUnknown,
			BlendMode: gralloc.BlendModeInvalid,
		}
		if err := meta.EncodeTo(region); err != nil {
			d.driver.Release(buf)
			log.Error("failed to write buffer metadata", "slot", i, "error", err)
			return false
		}

		d.mu.Lock()
		d.buffers[i] = buf
		d.mu.Unlock()
	}

	return true
}

// Info returns the immutable self-description.
func (d *DirectDisplay) Info() Desc {
	return d.info
}

// SetState requests a state transition. The direct backend has no window to
// show or hide; visibility follows the presented layer.
func (d *DirectDisplay) SetState(state State) Result {
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

	if changed {
		d.fireState(state)
	}
	return ResultOK
}

// State returns the recorded state.
func (d *DirectDisplay) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// TargetBuffer asks the display service for the next drawable slot and
// delivers the pool buffer behind it. deliver always fires; failures hand
// it a zero BufferDesc.
func (d *DirectDisplay) TargetBuffer(deliver func(BufferDesc)) {
	d.mu.Lock()
	dead := d.state == StateDead
	d.mu.Unlock()
	if dead {
		log.Error("rejecting buffer request from object that lost display ownership")
		deliver(BufferDesc{})
		return
	}

	svc := d.acquireDisplay()
	if svc == nil {
		log.Error("no valid display handle")
		deliver(BufferDesc{})
		return
	}

	d.mu.Lock()
	layer := d.layer
	d.mu.Unlock()

	slot, err := svc.GetSlot(layer)
	if err != nil {
		log.Error("slot request failed", "layer", layer, "error", err)
		deliver(BufferDesc{})
		return
	}

	d.mu.Lock()
	if slot < 0 || slot >= len(d.buffers) || d.buffers[slot] == nil {
		d.mu.Unlock()
		log.Error("slot does not map to a valid pool buffer", "slot", slot)
		deliver(BufferDesc{})
		return
	}
	buf := d.buffers[slot]
	d.mu.Unlock()

	deliver(BufferDesc{
		Width:     buf.Width,
		Height:    buf.Height,
		Stride:    buf.Stride,
		Format:    buf.Format,
		Usage:     buf.Usage,
		BufferID:  uint32(slot),
		PixelSize: buf.Format.BytesPerPixel(),
		MemHandle: buf,
	})
}

// ReturnBuffer presents the slot's buffer to the hardware layer. The
// present is best-effort and happens before the ownership check: a frame is
// never dropped just because ownership was lost mid-flight, but the loss is
// still reported for the caller's bookkeeping.
func (d *DirectDisplay) ReturnBuffer(desc BufferDesc) Result {
	if desc.MemHandle == nil {
		log.Error("buffer returned without a valid memory handle")
		return ResultInvalidArg
	}
	if int(desc.BufferID) >= d.bufferCount {
		log.Error("buffer returned with invalid id", "bufferId", desc.BufferID)
		return ResultInvalidArg
	}

	d.mu.Lock()
	state := d.state
	buf := d.buffers[desc.BufferID]
	svc := d.svc
	layer := d.layer
	d.mu.Unlock()

	if buf == nil {
		log.Error("buffer returned for released slot", "bufferId", desc.BufferID)
		return ResultInvalidArg
	}

	if svc != nil {
		if err := svc.PresentLayer(layer, int(desc.BufferID), buf); err != nil {
			log.Error("present failed", "layer", layer, "slot", desc.BufferID, "error", err)
		}
	}

	if state == StateDead {
		return ResultOwnershipLost
	}

	if state == StateVisibleOnNextFrame {
		d.mu.Lock()
		d.state = StateVisible
		d.mu.Unlock()
		d.fireState(StateVisible)
		state = StateVisible
	}

	if state != StateVisible {
		log.Warn("frame returned while not visible, ignoring", "slot", desc.BufferID)
	}

	return ResultOK
}

// Mode reports the active geometry, or a zero Mode when the display handle
// has not been acquired. Capability queries never block on hardware.
func (d *DirectDisplay) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		return Mode{}
	}
	return Mode{
		Width:       d.width,
		Height:      d.height,
		RefreshRate: 60,
		LayerStack:  d.layer,
	}
}

// ForceShutdown releases the layer and every pool buffer, then moves to
// Dead. The Dead transition is unconditional: cleanup failures do not keep
// authority this object no longer has. Only the cached service handle is
// used, so teardown never blocks on service acquisition.
func (d *DirectDisplay) ForceShutdown() {
	log.Debug("direct display forceShutdown")

	d.mu.Lock()
	svc := d.svc
	layer := d.layer
	d.layer = displaysvc.InvalidLayer
	d.mu.Unlock()

	if svc != nil && layer != displaysvc.InvalidLayer {
		if err := svc.PutLayer(layer); err != nil {
			log.Warn("layer release failed", "layer", layer, "error", err)
		}
	}

	for i := 0; i < d.bufferCount; i++ {
		d.mu.Lock()
		buf := d.buffers[i]
		d.buffers[i] = nil
		d.mu.Unlock()

		if buf == nil {
			continue
		}
		if err := d.driver.Release(buf); err != nil {
			log.Warn("buffer release failed", "slot", i, "error", err)
		}
	}

	d.mu.Lock()
	changed := d.state != StateDead
	d.state = StateDead
	d.mu.Unlock()

	if changed {
		d.fireState(StateDead)
	}
}

func (d *DirectDisplay) fireState(s State) {
	if d.onStateChange != nil {
		d.onStateChange(s)
	}
}

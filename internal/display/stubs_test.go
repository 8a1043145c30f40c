package display

import (
	"errors"
	"fmt"
	"sync"

	"github.com/evs-hal/displayd/internal/compositor"
	"github.com/evs-hal/displayd/internal/displaysvc"
	"github.com/evs-hal/displayd/internal/gralloc"
)

// stubService satisfies displaysvc.Service with scripted slot answers.
type stubService struct {
	mu          sync.Mutex
	layer       int
	layerErr    error
	slotQueue   []int
	slotErr     error
	presented   [][3]interface{} // layer, slot, buf
	putLayers   []int
	layerGrants int

	// distinctLayers makes every grant return a fresh layer index, for
	// tests that must tell concurrent grants apart.
	distinctLayers bool
}

func (s *stubService) GetLayer(bufferCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerErr != nil {
		return displaysvc.InvalidLayer, s.layerErr
	}
	layer := s.layer
	if s.distinctLayers {
		layer += s.layerGrants
	}
	s.layerGrants++
	return layer, nil
}

func (s *stubService) PutLayer(layer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLayers = append(s.putLayers, layer)
	return nil
}

func (s *stubService) GetSlot(layer int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotErr != nil {
		return -1, s.slotErr
	}
	if len(s.slotQueue) == 0 {
		return 0, nil
	}
	slot := s.slotQueue[0]
	s.slotQueue = s.slotQueue[1:]
	return slot, nil
}

func (s *stubService) PresentLayer(layer int, slot int, buf *gralloc.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented = append(s.presented, [3]interface{}{layer, slot, buf})
	return nil
}

func (s *stubService) presentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.presented)
}

// stubDriver satisfies gralloc.Driver with in-memory buffers and an
// optional scripted failure at a given allocation index.
type stubDriver struct {
	mu        sync.Mutex
	inited    bool
	failAt    int // allocation index that fails; -1 for never
	allocs    int
	released  []*gralloc.Buffer
	regions   map[*gralloc.Buffer][]byte
	regionErr error
}

func newStubDriver() *stubDriver {
	return &stubDriver{failAt: -1, regions: make(map[*gralloc.Buffer][]byte)}
}

func (d *stubDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inited = true
	return nil
}

func (d *stubDriver) Allocate(desc *gralloc.BufferDescriptor, reservedSize int) (*gralloc.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return nil, errors.New("stub driver not initialized")
	}
	if d.failAt >= 0 && d.allocs == d.failAt {
		return nil, fmt.Errorf("stub allocation failure at %d", d.allocs)
	}
	d.allocs++

	buf := &gralloc.Buffer{
		Name:   desc.Name,
		Width:  desc.Width,
		Height: desc.Height,
		Stride: desc.Width,
		Format: desc.Format,
		Usage:  desc.Usage,
	}
	d.regions[buf] = make([]byte, reservedSize)
	return buf, nil
}

func (d *stubDriver) ReservedRegion(b *gralloc.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regionErr != nil {
		return nil, d.regionErr
	}
	region, ok := d.regions[b]
	if !ok {
		return nil, errors.New("stub: unknown buffer")
	}
	return region, nil
}

func (d *stubDriver) Release(b *gralloc.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, b)
	delete(d.regions, b)
	return nil
}

func (d *stubDriver) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.released)
}

// stubAllocator satisfies gralloc.Allocator.
type stubAllocator struct {
	mu      sync.Mutex
	failAll bool
	freed   []*gralloc.Buffer
}

func (a *stubAllocator) Allocate(width, height int, format gralloc.PixelFormat, usage gralloc.Usage, name string) (*gralloc.Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return nil, errors.New("stub allocator failure")
	}
	return &gralloc.Buffer{
		Name:   name,
		Width:  width,
		Height: height,
		Stride: width,
		Format: format,
		Usage:  usage,
	}, nil
}

func (a *stubAllocator) Free(b *gralloc.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed = append(a.freed, b)
	return nil
}

func (a *stubAllocator) freeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freed)
}

// stubWindow satisfies compositor.WindowProxy and counts every hook call.
type stubWindow struct {
	mu         sync.Mutex
	width      int
	height     int
	initErr    error
	textureErr error

	initCalls    int
	shows        int
	hides        int
	shutdowns    int
	textureCalls int
	renderCalls  int
}

func newStubWindow(w, h int) *stubWindow {
	return &stubWindow{width: w, height: h}
}

func (w *stubWindow) Initialize(displayID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initErr != nil {
		return w.initErr
	}
	w.initCalls++
	return nil
}

func (w *stubWindow) ShowWindow(displayID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shows++
}

func (w *stubWindow) HideWindow(displayID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hides++
}

func (w *stubWindow) UpdateImageTexture(view compositor.BufferView) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.textureErr != nil {
		return w.textureErr
	}
	w.textureCalls++
	return nil
}

func (w *stubWindow) RenderImageToScreen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renderCalls++
	return nil
}

func (w *stubWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdowns++
}

func (w *stubWindow) Width() int  { return w.width }
func (w *stubWindow) Height() int { return w.height }

func (w *stubWindow) counts() (shows, hides, textures, renders, shutdowns int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shows, w.hides, w.textureCalls, w.renderCalls, w.shutdowns
}

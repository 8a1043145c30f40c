package displaysvc

import (
	"fmt"
	"sync"

	"github.com/evs-hal/displayd/internal/gralloc"
	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("displaysvc")

// maxLayers bounds the number of concurrently granted layers. The embedded
// display controllers this models expose a small fixed overlay count.
const maxLayers = 4

type layerState struct {
	bufferCount int
	// onScreen is the slot most recently presented; it must not be handed
	// out again until another slot replaces it. -1 before the first present.
	onScreen int
	// next is the round-robin cursor for slot assignment.
	next int
}

// Loopback is an in-process Service implementation with per-layer
// round-robin slot arbitration. It never hands out the slot currently on
// screen, which is the guarantee double buffering relies on.
type Loopback struct {
	mu     sync.Mutex
	layers map[int]*layerState
	nextID int

	// LastPresented records the most recent PresentLayer call per layer for
	// introspection and tests.
	lastPresented map[int]*gralloc.Buffer
}

// NewLoopback returns an empty loopback display service.
func NewLoopback() *Loopback {
	return &Loopback{
		layers:        make(map[int]*layerState),
		lastPresented: make(map[int]*gralloc.Buffer),
	}
}

// GetLayer grants the next free layer index.
func (s *Loopback) GetLayer(bufferCount int) (int, error) {
	if bufferCount < 1 {
		return InvalidLayer, fmt.Errorf("displaysvc: invalid buffer count %d", bufferCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.layers) >= maxLayers {
		return InvalidLayer, ErrNoLayer
	}

	layer := s.nextID
	s.nextID++
	s.layers[layer] = &layerState{
		bufferCount: bufferCount,
		onScreen:    -1,
	}
	log.Debug("layer granted", "layer", layer, "bufferCount", bufferCount)
	return layer, nil
}

// PutLayer releases a granted layer.
func (s *Loopback) PutLayer(layer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.layers[layer]; !ok {
		return ErrUnknownLayer
	}
	delete(s.layers, layer)
	delete(s.lastPresented, layer)
	log.Debug("layer released", "layer", layer)
	return nil
}

// GetSlot returns the next drawable slot for the layer, skipping the slot
// currently on screen.
func (s *Loopback) GetSlot(layer int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.layers[layer]
	if !ok {
		return -1, ErrUnknownLayer
	}

	if st.bufferCount == 1 {
		if st.onScreen == 0 {
			return -1, ErrNoSlot
		}
		return 0, nil
	}

	for i := 0; i < st.bufferCount; i++ {
		slot := st.next
		st.next = (st.next + 1) % st.bufferCount
		if slot != st.onScreen {
			return slot, nil
		}
	}
	return -1, ErrNoSlot
}

// PresentLayer marks the slot as on screen.
func (s *Loopback) PresentLayer(layer int, slot int, buf *gralloc.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.layers[layer]
	if !ok {
		return ErrUnknownLayer
	}
	if slot < 0 || slot >= st.bufferCount {
		return fmt.Errorf("displaysvc: slot %d out of range for layer %d", slot, layer)
	}
	if buf == nil {
		return fmt.Errorf("displaysvc: nil buffer presented to layer %d", layer)
	}

	st.onScreen = slot
	s.lastPresented[layer] = buf
	return nil
}

// Presented returns the buffer most recently presented on the layer, or nil.
func (s *Loopback) Presented(layer int) *gralloc.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPresented[layer]
}

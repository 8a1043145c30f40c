// Package displaysvc abstracts the physical display service that grants
// hardware layers and arbitrates buffer slots for clients presenting
// directly to the screen.
package displaysvc

import (
	"errors"

	"github.com/evs-hal/displayd/internal/gralloc"
)

// InvalidLayer is the sentinel for "no layer held".
const InvalidLayer = -1

var (
	// ErrNoLayer is returned when the service has no free layer to grant.
	ErrNoLayer = errors.New("displaysvc: no free layer")

	// ErrUnknownLayer is returned for operations on a layer the service
	// never granted (or already reclaimed).
	ErrUnknownLayer = errors.New("displaysvc: unknown layer")

	// ErrNoSlot is returned when every slot of a layer is pending on screen.
	ErrNoSlot = errors.New("displaysvc: no free slot")
)

// Service is the display service consumed by the direct backend. One layer
// is an exclusive drawing surface; slots rotate the layer's buffers through
// the scanout engine.
type Service interface {
	// GetLayer grants a hardware layer sized for bufferCount slots.
	GetLayer(bufferCount int) (int, error)

	// PutLayer releases a previously granted layer.
	PutLayer(layer int) error

	// GetSlot returns the index of the next slot safe to draw into.
	GetSlot(layer int) (int, error)

	// PresentLayer queues the buffer in the given slot for scanout.
	PresentLayer(layer int, slot int, buf *gralloc.Buffer) error
}

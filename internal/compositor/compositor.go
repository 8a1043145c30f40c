// Package compositor defines the window/compositor proxy the display core's
// proxy backend renders through, and provides an X11 implementation.
package compositor

import "github.com/evs-hal/displayd/internal/gralloc"

// BufferView is a read-only view of a frame's pixel data handed to the
// compositor for texture upload. Stride is in pixels.
type BufferView struct {
	Width  int
	Height int
	Stride int
	Format gralloc.PixelFormat
	Pix    []byte
}

// WindowProxy is the external compositor surface the proxy backend draws
// into. Initialize must succeed before any other call; Shutdown releases the
// surface and makes the proxy reusable via a later Initialize.
type WindowProxy interface {
	Initialize(displayID uint64) error
	ShowWindow(displayID uint64)
	HideWindow(displayID uint64)
	UpdateImageTexture(view BufferView) error
	RenderImageToScreen() error
	Shutdown()
	Width() int
	Height() int
}

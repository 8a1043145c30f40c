package compositor

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xgraphics"

	"github.com/evs-hal/displayd/internal/gralloc"
	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("compositor")

// X11Window is a WindowProxy backed by a full-screen override-redirect X11
// window. Frames are uploaded into an xgraphics image and painted onto the
// window on RenderImageToScreen.
type X11Window struct {
	mu     sync.Mutex
	xu     *xgbutil.XUtil
	win    xproto.Window
	canvas *xgraphics.Image
	width  int
	height int
	inited bool
}

// NewX11Window returns an unconnected proxy. The X connection is made in
// Initialize so construction never depends on a running X server.
func NewX11Window() *X11Window {
	return &X11Window{}
}

// Initialize connects to the X server and creates the output window mapped
// to the full screen. The window starts hidden.
func (w *X11Window) Initialize(displayID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inited {
		return nil
	}

	xu, err := xgbutil.NewConn()
	if err != nil {
		return fmt.Errorf("connect to X server: %w", err)
	}

	screen := xu.Screen()
	width := int(screen.WidthInPixels)
	height := int(screen.HeightInPixels)

	win, err := createOutputWindow(xu, width, height)
	if err != nil {
		xu.Conn().Close()
		return fmt.Errorf("create output window: %w", err)
	}

	canvas := xgraphics.New(xu, image.Rect(0, 0, width, height))
	if err := canvas.XSurfaceSet(win); err != nil {
		xproto.DestroyWindow(xu.Conn(), win)
		xu.Conn().Close()
		return fmt.Errorf("bind canvas to window: %w", err)
	}

	w.xu = xu
	w.win = win
	w.canvas = canvas
	w.width = width
	w.height = height
	w.inited = true
	log.Info("X11 window surface ready", "displayId", displayID, "width", width, "height", height)
	return nil
}

// ShowWindow maps the output window.
func (w *X11Window) ShowWindow(displayID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inited {
		return
	}
	xproto.MapWindow(w.xu.Conn(), w.win)
	log.Debug("window shown", "displayId", displayID)
}

// HideWindow unmaps the output window.
func (w *X11Window) HideWindow(displayID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inited {
		return
	}
	xproto.UnmapWindow(w.xu.Conn(), w.win)
	log.Debug("window hidden", "displayId", displayID)
}

// UpdateImageTexture copies the frame into the window canvas.
func (w *X11Window) UpdateImageTexture(view BufferView) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inited {
		return fmt.Errorf("window surface not initialized")
	}
	if view.Format != gralloc.FormatRGBA8888 && view.Format != gralloc.FormatRGBX8888 {
		return fmt.Errorf("unsupported texture format %s", view.Format)
	}

	copyToCanvas(w.canvas.Pix, w.canvas.Stride, view, w.width, w.height)
	return nil
}

// RenderImageToScreen pushes the canvas to the window.
func (w *X11Window) RenderImageToScreen() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inited {
		return fmt.Errorf("window surface not initialized")
	}
	w.canvas.XDraw()
	w.canvas.XPaint(w.win)
	return nil
}

// Shutdown destroys the window and drops the X connection. Safe to call
// repeatedly; a later Initialize reconnects.
func (w *X11Window) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inited {
		return
	}
	w.canvas.Destroy()
	xproto.DestroyWindow(w.xu.Conn(), w.win)
	w.xu.Conn().Close()
	w.xu = nil
	w.canvas = nil
	w.win = 0
	w.inited = false
	log.Info("X11 window surface shut down")
}

// Width returns the surface width, valid after Initialize.
func (w *X11Window) Width() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

// Height returns the surface height, valid after Initialize.
func (w *X11Window) Height() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}

// createOutputWindow creates a hidden override-redirect window covering the
// whole screen, bypassing the window manager.
func createOutputWindow(xu *xgbutil.XUtil, width, height int) (xproto.Window, error) {
	conn := xu.Conn()
	screen := xu.Screen()

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		return 0, err
	}

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		xu.RootWin(),
		0, 0,
		uint16(width), uint16(height),
		0, // border_width
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwOverrideRedirect|xproto.CwBackPixel,
		// Value list order follows the bit positions of the mask (low to
		// high): CwBackPixel precedes CwOverrideRedirect.
		[]uint32{0, 1}, // back_pixel=black, override_redirect=true
	).Check()
	if err != nil {
		return 0, err
	}

	return wid, nil
}

// copyToCanvas converts the RGBA frame into the canvas's BGRA layout,
// clipping to the canvas geometry and honoring the source stride.
func copyToCanvas(dst []byte, dstStride int, view BufferView, maxW, maxH int) {
	w := view.Width
	if w > maxW {
		w = maxW
	}
	h := view.Height
	if h > maxH {
		h = maxH
	}

	srcStride := view.Stride * 4
	for y := 0; y < h; y++ {
		srcRow := view.Pix[y*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < w; x++ {
			si := x * 4
			di := x * 4
			dstRow[di+0] = srcRow[si+2] // B
			dstRow[di+1] = srcRow[si+1] // G
			dstRow[di+2] = srcRow[si+0] // R
			dstRow[di+3] = srcRow[si+3] // A
		}
	}
}

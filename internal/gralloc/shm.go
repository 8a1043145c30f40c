package gralloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("gralloc")

// strideAlign keeps row starts cache-line aligned, matching what hardware
// allocators typically hand back.
const strideAlign = 16

// ShmDriver allocates buffers backed by anonymous shared memory. The
// reserved metadata region lives in the same mapping, past the pixel data.
type ShmDriver struct {
	mu       sync.Mutex
	inited   bool
	reserved map[*Buffer]int // reserved-region size per live buffer
}

// NewShmDriver returns an uninitialized driver. Call Init before Allocate.
func NewShmDriver() *ShmDriver {
	return &ShmDriver{}
}

// Init prepares the driver. Idempotent.
func (d *ShmDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inited {
		d.reserved = make(map[*Buffer]int)
		d.inited = true
	}
	return nil
}

// Allocate creates a shared-memory buffer of the requested geometry with
// reservedSize extra bytes mapped past the pixel data.
func (d *ShmDriver) Allocate(desc *BufferDescriptor, reservedSize int) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inited {
		return nil, fmt.Errorf("driver not initialized")
	}
	if desc == nil {
		return nil, fmt.Errorf("nil buffer descriptor")
	}

	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", desc.Format)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", desc.Width, desc.Height)
	}
	if reservedSize < 0 {
		return nil, fmt.Errorf("negative reserved region size %d", reservedSize)
	}

	stride := alignUp(desc.Width, strideAlign)
	pixelLen := stride * desc.Height * bpp

	buf, err := mapAnonymous(desc.Name, pixelLen+reservedSize)
	if err != nil {
		return nil, err
	}

	buf.Name = desc.Name
	buf.Width = desc.Width
	buf.Height = desc.Height
	buf.Stride = stride
	buf.Format = desc.Format
	buf.Usage = desc.Usage
	buf.pixelLen = pixelLen

	d.reserved[buf] = reservedSize
	log.Debug("allocated buffer", "name", desc.Name, "stride", stride, "bytes", pixelLen+reservedSize)
	return buf, nil
}

// ReservedRegion returns the metadata region of a buffer allocated by this
// driver.
func (d *ShmDriver) ReservedRegion(b *Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.reserved[b]
	if !ok {
		return nil, fmt.Errorf("buffer not owned by this driver")
	}
	if size == 0 {
		return nil, fmt.Errorf("buffer %q has no reserved region", b.Name)
	}
	return b.mapped[b.pixelLen : b.pixelLen+size], nil
}

// Release unmaps and closes a buffer. Releasing a buffer this driver does
// not own is an error; releasing nil is a no-op.
func (d *ShmDriver) Release(b *Buffer) error {
	if b == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.reserved[b]; !ok {
		return fmt.Errorf("buffer not owned by this driver")
	}
	delete(d.reserved, b)
	return unmapBuffer(b)
}

// ShmAllocator is the plain-render-target allocator over the same
// shared-memory backing, without a reserved region.
type ShmAllocator struct{}

// NewShmAllocator returns a ready-to-use allocator.
func NewShmAllocator() *ShmAllocator {
	return &ShmAllocator{}
}

// Allocate creates a shared-memory render target.
func (a *ShmAllocator) Allocate(width, height int, format PixelFormat, usage Usage, name string) (*Buffer, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", width, height)
	}

	stride := alignUp(width, strideAlign)
	pixelLen := stride * height * bpp

	buf, err := mapAnonymous(name, pixelLen)
	if err != nil {
		return nil, err
	}

	buf.Name = name
	buf.Width = width
	buf.Height = height
	buf.Stride = stride
	buf.Format = format
	buf.Usage = usage
	buf.pixelLen = pixelLen
	return buf, nil
}

// Free unmaps and closes a buffer. Freeing nil is a no-op.
func (a *ShmAllocator) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	return unmapBuffer(b)
}

func mapAnonymous(name string, size int) (*Buffer, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	// Prevent the consumer side from growing or shrinking the object under us.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW); err != nil {
		log.Warn("could not seal buffer size", "name", name, "error", err)
	}

	return &Buffer{fd: fd, mapped: data}, nil
}

func unmapBuffer(b *Buffer) error {
	if b.mapped == nil {
		return nil
	}
	if err := unix.Munmap(b.mapped); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	b.mapped = nil
	if err := unix.Close(b.fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	b.fd = -1
	return nil
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// Package gralloc provides the graphics buffer allocation layer used by the
// display core: a low-level Driver that allocates buffers with an in-band
// reserved metadata region, and a simpler Allocator for plain render targets.
//
// The reference implementation backs buffers with anonymous shared memory
// (memfd + mmap) so buffer handles can be passed to an out-of-process
// consumer by file descriptor.
package gralloc

import "fmt"

// PixelFormat identifies the pixel layout of a buffer.
type PixelFormat uint32

const (
	FormatRGBA8888 PixelFormat = 1
	FormatRGBX8888 PixelFormat = 2
	FormatRGB565   PixelFormat = 4
)

// BytesPerPixel returns the per-pixel byte size of the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888, FormatRGBX8888:
		return 4
	case FormatRGB565:
		return 2
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA_8888"
	case FormatRGBX8888:
		return "RGBX_8888"
	case FormatRGB565:
		return "RGB_565"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint32(f))
	}
}

// Usage is a bitmask describing how a buffer will be used.
type Usage uint32

const (
	UsageHwTexture Usage = 1 << iota
	UsageHwRender
	UsageHwVideoEncoder
	UsageHwComposer
)

// BufferDescriptor describes a buffer allocation request to the Driver.
type BufferDescriptor struct {
	Name   string
	Width  int
	Height int
	Format PixelFormat
	Usage  Usage
}

// Buffer is an allocated graphics buffer. The pixel region and the reserved
// metadata region map the same underlying memory object; Release unmaps both.
type Buffer struct {
	Name   string
	Width  int
	Height int
	Stride int // in pixels
	Format PixelFormat
	Usage  Usage

	fd       int
	mapped   []byte
	pixelLen int
}

// Bytes returns the writable pixel region of the buffer.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.mapped == nil {
		return nil
	}
	return b.mapped[:b.pixelLen]
}

// Fd returns the file descriptor backing the buffer, or -1 after release.
func (b *Buffer) Fd() int {
	if b == nil || b.mapped == nil {
		return -1
	}
	return b.fd
}

// Driver is the low-level buffer driver: allocation with a reserved
// metadata region appended past the pixel data.
type Driver interface {
	Init() error
	Allocate(desc *BufferDescriptor, reservedSize int) (*Buffer, error)
	ReservedRegion(b *Buffer) ([]byte, error)
	Release(b *Buffer) error
}

// Allocator allocates plain render-target buffers without a reserved region.
type Allocator interface {
	Allocate(width, height int, format PixelFormat, usage Usage, name string) (*Buffer, error)
	Free(b *Buffer) error
}

package gralloc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Dataspace describes how pixel values should be interpreted.
type Dataspace uint32

const (
	DataspaceUnknown Dataspace = 0
	DataspaceSRGB    Dataspace = 1
	DataspaceBT709   Dataspace = 2
)

// BlendMode describes how a buffer composites with layers below it.
type BlendMode int32

const (
	BlendModeInvalid       BlendMode = -1
	BlendModeNone          BlendMode = 0
	BlendModePremultiplied BlendMode = 1
	BlendModeCoverage      BlendMode = 2
)

const metadataNameSize = 64

// MetadataSize is the reserved-region size needed to hold a Metadata block.
const MetadataSize = metadataNameSize + 4 + 4

// Metadata is the in-band header written into a buffer's reserved region at
// allocation time. Consumers on the far side of the buffer handle read it to
// learn the buffer's identity and colorspace without a side channel.
type Metadata struct {
	Name      string
	Dataspace Dataspace
	BlendMode BlendMode
}

// EncodeTo serializes the metadata into region, which must be at least
// MetadataSize bytes.
func (m *Metadata) EncodeTo(region []byte) error {
	if len(region) < MetadataSize {
		return fmt.Errorf("reserved region too small: %d < %d", len(region), MetadataSize)
	}

	var name [metadataNameSize]byte
	copy(name[:], m.Name)
	copy(region[:metadataNameSize], name[:])
	binary.LittleEndian.PutUint32(region[metadataNameSize:], uint32(m.Dataspace))
	binary.LittleEndian.PutUint32(region[metadataNameSize+4:], uint32(m.BlendMode))
	return nil
}

// DecodeMetadata reads a Metadata block back out of a reserved region.
func DecodeMetadata(region []byte) (Metadata, error) {
	if len(region) < MetadataSize {
		return Metadata{}, fmt.Errorf("reserved region too small: %d < %d", len(region), MetadataSize)
	}

	name := region[:metadataNameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Metadata{
		Name:      string(name),
		Dataspace: Dataspace(binary.LittleEndian.Uint32(region[metadataNameSize:])),
		BlendMode: BlendMode(int32(binary.LittleEndian.Uint32(region[metadataNameSize+4:]))),
	}, nil
}

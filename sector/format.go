// Package sector reads and writes sector-deduplicated block images.
//
// This format works on 512-byte SD card sectors instead of 64 KiB pages. Every
// distinct sector is stored once, in the order it first appears, and a
// directory maps each sector of the image to its stored copy:
//
//	0x00  magic, "XemuBlockCompressedImage000" + NUL
//	0x1C  entry size, always 3 (24-bit big-endian)
//	0x1F  sector count N (24-bit big-endian)
//	0x22  N directory entries (24-bit big-endian)
//	      stored sectors, starting at 0x22 + 3*N
//
// The low 23 bits of a directory entry give the index of the stored sector.
// The high bit is set if that stored sector is used by more than one sector of
// the image, which tells a reader that the sector can't be modified in place.
//
// Sectors aren't run-length encoded; on mostly empty cards nearly all sectors
// are copies of a handful of fill patterns, and deduplication alone removes
// them.
package sector

import (
	"bytes"
	"fmt"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
	"github.com/dargueta/sdimage/utilities/compression"
)

// MagicSize is the length of the magic string, including its NUL terminator.
const MagicSize = 28

var Magic = []byte("XemuBlockCompressedImage000\x00")

const (
	// SectorSize is the size of a sector in bytes.
	SectorSize = compression.SectorSize
	// HeaderSize is the size of the magic string and header fields. The
	// directory begins right after it.
	HeaderSize = 0x22
	// EntrySize is the size of a directory entry, and also the value of the
	// first header field.
	EntrySize = 3

	// MinSectorCount is the smallest image accepted, 64 KiB.
	MinSectorCount = 128
	// MaxSectorCount is the largest sector count the header can hold.
	MaxSectorCount = directory.MaxUint24
	// MaxStoredSectors is the number of distinct sectors the directory entries
	// can address.
	MaxStoredSectors = 1 << 23

	sharedFlag  = 1 << 23
	storedIndex = sharedFlag - 1
)

// DataOffset returns the offset of the first stored sector in an image with
// `sectorCount` sectors.
func DataOffset(sectorCount int) int64 {
	return HeaderSize + EntrySize*int64(sectorCount)
}

// Header holds the fields of a sector image header.
type Header struct {
	EntrySize   int
	SectorCount int
}

// MarshalBinary serializes the magic string and header fields.
func (header Header) MarshalBinary() ([]byte, error) {
	output := make([]byte, HeaderSize)
	copy(output, Magic)

	err := directory.PutUint24BE(output[MagicSize:], uint64(header.EntrySize))
	if err != nil {
		return nil, err
	}
	err = directory.PutUint24BE(output[MagicSize+3:], uint64(header.SectorCount))
	if err != nil {
		return nil, err
	}
	return output, nil
}

// ParseHeader parses the first [HeaderSize] bytes of a sector image.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize || !bytes.HasPrefix(data, Magic) {
		return Header{}, sdimage.ErrBadMagic
	}

	header := Header{
		EntrySize:   int(directory.Uint24BE(data[MagicSize:])),
		SectorCount: int(directory.Uint24BE(data[MagicSize+3:])),
	}
	if header.EntrySize != EntrySize {
		return Header{}, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf("unsupported directory entry size %d", header.EntrySize))
	}
	if header.SectorCount < 1 {
		return Header{}, sdimage.ErrCorruptHeader.WithMessage("image has no sectors")
	}
	return header, nil
}

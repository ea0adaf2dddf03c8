// Package container reads and writes compressed block images made of 64 KiB
// pages.
//
// A container starts with a NUL-terminated magic string, followed by a header
// of 32-bit little-endian fields. The header is written as zeros first and
// filled in once all pages have been written, since most of its values aren't
// known until then. Two layouts exist, distinguished by their magic string:
//
// RLE directory ("XemuBlockCompressedImage001"):
//
//	0   magic (28 bytes)
//	28  page count
//	32  directory offset
//	36  largest compressed page size
//	40  directory size
//	44  data offset (always 48)
//	48  compressed pages, null pages omitted
//	    RLE directory of compressed sizes
//
// Offset table ("XemuBlockCompressedImage002"):
//
//	0   magic (28 bytes)
//	28  offset table offset (end of the data region)
//	32  largest compressed page size
//	36  compressed pages, all of them
//	    page count + 1 absolute offsets
//
// See package directory for the directory encodings and package compression
// for the page encoding.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
	"github.com/dargueta/sdimage/utilities/compression"
	"github.com/noxer/bytewriter"
)

// MagicSize is the length of the magic string, including its NUL terminator.
const MagicSize = 28

var (
	MagicRLEDirectory = []byte("XemuBlockCompressedImage001\x00")
	MagicOffsetTable  = []byte("XemuBlockCompressedImage002\x00")
)

const (
	// MinPageCount is the smallest number of pages an image may have. Anything
	// shorter is almost certainly not an SD card image.
	MinPageCount = 16
	// MaxImageSize is the largest raw image that can be compressed. Offsets are
	// stored in 32 bits.
	MaxImageSize = int64(1) << 32
	// MaxPageCount is the number of pages in an image of [MaxImageSize] bytes.
	MaxPageCount = MaxImageSize / compression.PageSize

	fieldSize = 4
)

// Layout selects the directory design used by a container.
type Layout int

const (
	// LayoutRLEDirectory stores a run-length encoded list of compressed page
	// sizes after the data region. Null pages aren't stored.
	LayoutRLEDirectory Layout = iota
	// LayoutOffsetTable stores the absolute offset of every page after the data
	// region. Every page is stored.
	LayoutOffsetTable
)

func (layout Layout) String() string {
	switch layout {
	case LayoutRLEDirectory:
		return "rle"
	case LayoutOffsetTable:
		return "offsets"
	default:
		return fmt.Sprintf("Layout(%d)", int(layout))
	}
}

// ParseLayout returns the layout named by `name`, as returned by
// [Layout.String].
func ParseLayout(name string) (Layout, error) {
	switch strings.ToLower(name) {
	case "rle", "":
		return LayoutRLEDirectory, nil
	case "offsets":
		return LayoutOffsetTable, nil
	default:
		return 0, sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown container layout %q", name))
	}
}

// Magic returns the magic string identifying containers with this layout.
func (layout Layout) Magic() []byte {
	if layout == LayoutOffsetTable {
		return MagicOffsetTable
	}
	return MagicRLEDirectory
}

func (layout Layout) fieldCount() int {
	if layout == LayoutOffsetTable {
		return 2
	}
	return 5
}

// HeaderSize returns the size of the magic string and header fields together,
// which is also where the data region begins.
func (layout Layout) HeaderSize() int64 {
	return int64(MagicSize + layout.fieldCount()*fieldSize)
}

// LayoutForMagic identifies the layout of a container from its first
// [MagicSize] bytes.
func LayoutForMagic(magic []byte) (Layout, error) {
	switch {
	case bytes.HasPrefix(magic, MagicRLEDirectory):
		return LayoutRLEDirectory, nil
	case bytes.HasPrefix(magic, MagicOffsetTable):
		return LayoutOffsetTable, nil
	default:
		return 0, sdimage.ErrBadMagic
	}
}

// Header holds the values recorded in a container header. Not every field is
// stored for every layout; fields that aren't are derived from the file size
// when the header is parsed.
type Header struct {
	Layout                Layout
	PageCount             int64
	DirectoryOffset       int64
	MaxCompressedPageSize int64
	DirectorySize         int64
	DataOffset            int64
}

func (header Header) fieldValues() []int64 {
	if header.Layout == LayoutOffsetTable {
		return []int64{header.DirectoryOffset, header.MaxCompressedPageSize}
	}
	return []int64{
		header.PageCount,
		header.DirectoryOffset,
		header.MaxCompressedPageSize,
		header.DirectorySize,
		header.DataOffset,
	}
}

// MarshalFields serializes the header fields, without the magic string. It
// fails with [sdimage.ErrFieldOverflow] if any value needs more than 32 bits.
func (header Header) MarshalFields() ([]byte, error) {
	values := header.fieldValues()
	fields := make([]uint32, len(values))
	for i, value := range values {
		if value < 0 || value > directory.MaxUint32 {
			return nil, sdimage.ErrFieldOverflow.WithMessage(
				fmt.Sprintf("header field %d: %d does not fit in 32 bits", i, value))
		}
		fields[i] = uint32(value)
	}

	buffer := make([]byte, len(fields)*fieldSize)
	err := binary.Write(bytewriter.New(buffer), binary.LittleEndian, fields)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// MarshalBinary serializes the magic string and the header.
func (header Header) MarshalBinary() ([]byte, error) {
	fields, err := header.MarshalFields()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, header.Layout.Magic()...), fields...), nil
}

// ParseHeader parses the magic string and header at the beginning of `data`.
// `fileSize` is the total size of the container, needed to derive the page
// count and directory size of offset-table containers.
func ParseHeader(data []byte, fileSize int64) (Header, error) {
	if len(data) < MagicSize {
		return Header{}, sdimage.ErrBadMagic.WithMessage("file too short")
	}
	layout, err := LayoutForMagic(data)
	if err != nil {
		return Header{}, err
	}
	if int64(len(data)) < layout.HeaderSize() {
		return Header{}, sdimage.ErrCorruptHeader.WithMessage("header is truncated")
	}

	fields := make([]int64, layout.fieldCount())
	for i := range fields {
		offset := MagicSize + i*fieldSize
		fields[i] = int64(binary.LittleEndian.Uint32(data[offset : offset+fieldSize]))
	}

	header := Header{Layout: layout}
	if layout == LayoutOffsetTable {
		header.DirectoryOffset = fields[0]
		header.MaxCompressedPageSize = fields[1]
		header.DataOffset = layout.HeaderSize()
		header.DirectorySize = fileSize - header.DirectoryOffset
		if header.DirectorySize < 2*directory.OffsetEntrySize ||
			header.DirectorySize%directory.OffsetEntrySize != 0 {
			return Header{}, sdimage.ErrCorruptHeader.WithMessage(
				fmt.Sprintf(
					"offset table at %d doesn't fit a %d-byte file",
					header.DirectoryOffset,
					fileSize,
				),
			)
		}
		header.PageCount = header.DirectorySize/directory.OffsetEntrySize - 1
	} else {
		header.PageCount = fields[0]
		header.DirectoryOffset = fields[1]
		header.MaxCompressedPageSize = fields[2]
		header.DirectorySize = fields[3]
		header.DataOffset = fields[4]
	}

	return header, header.validate(fileSize)
}

func (header Header) validate(fileSize int64) error {
	maxEncodedSize := int64(compression.MaxEncodedSize(compression.PageSize))

	switch {
	case header.PageCount < 1:
		return sdimage.ErrCorruptHeader.WithMessage("image has no pages")
	case header.PageCount > MaxPageCount:
		return sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"image claims %d pages, can have at most %d", header.PageCount, MaxPageCount))
	case header.MaxCompressedPageSize < 1:
		return sdimage.ErrCorruptHeader.WithMessage("largest page size is zero")
	case header.MaxCompressedPageSize > maxEncodedSize:
		return sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"largest page size %d exceeds the %d-byte worst case",
				header.MaxCompressedPageSize,
				maxEncodedSize,
			),
		)
	case header.DataOffset < header.Layout.HeaderSize():
		return sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf("data region at %d overlaps the header", header.DataOffset))
	case header.DirectoryOffset < header.DataOffset:
		return sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"directory at %d begins before the data region at %d",
				header.DirectoryOffset,
				header.DataOffset,
			),
		)
	case header.DirectoryOffset+header.DirectorySize != fileSize:
		// The directory is always the last thing in the file.
		return sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"directory at %d (%d bytes) doesn't end the %d-byte file",
				header.DirectoryOffset,
				header.DirectorySize,
				fileSize,
			),
		)
	}
	return nil
}

package sector

import (
	"fmt"
	"io"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
)

// Reader gives random access to the sectors of a sector image. It implements
// [sdimage.PageReader].
type Reader struct {
	source        io.ReaderAt
	header        Header
	entries       []uint32
	storedSectors int
}

// Open parses the header and directory of the `size`-byte sector image in
// `source`.
func Open(source io.ReaderAt, size int64) (*Reader, error) {
	if size < HeaderSize {
		return nil, sdimage.ErrBadMagic.WithMessage("file too short")
	}

	headerBytes := make([]byte, HeaderSize)
	err := sdimage.ReadFullAt(source, headerBytes, 0)
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	dataOffset := DataOffset(header.SectorCount)
	if dataOffset > size || (size-dataOffset)%SectorSize != 0 {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"%d sectors don't fit a %d-byte file", header.SectorCount, size))
	}
	storedSectors := int((size - dataOffset) / SectorSize)

	directoryBytes := make([]byte, EntrySize*header.SectorCount)
	err = sdimage.ReadFullAt(source, directoryBytes, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	entries := make([]uint32, header.SectorCount)
	for i := range entries {
		entries[i] = directory.Uint24BE(directoryBytes[i*EntrySize:])
		if int(entries[i]&storedIndex) >= storedSectors {
			return nil, sdimage.ErrCorruptHeader.WithMessage(
				fmt.Sprintf(
					"sector %d refers to stored sector %d, but only %d are stored",
					i,
					entries[i]&storedIndex,
					storedSectors,
				),
			)
		}
	}

	return &Reader{
		source:        source,
		header:        header,
		entries:       entries,
		storedSectors: storedSectors,
	}, nil
}

func (reader *Reader) Header() Header {
	return reader.header
}

func (reader *Reader) PageSize() int {
	return SectorSize
}

func (reader *Reader) PageCount() int {
	return len(reader.entries)
}

// StoredSectors returns the number of distinct sectors stored in the image.
func (reader *Reader) StoredSectors() int {
	return reader.storedSectors
}

func (reader *Reader) checkIndex(sector int) error {
	if sector < 0 || sector >= len(reader.entries) {
		return sdimage.ErrPageOutOfRange.WithMessage(
			fmt.Sprintf("sector %d not in range [0, %d)", sector, len(reader.entries)))
	}
	return nil
}

// IsShared returns true if the stored copy of `sector` is also used by other
// sectors of the image.
func (reader *Reader) IsShared(sector int) (bool, error) {
	err := reader.checkIndex(sector)
	if err != nil {
		return false, err
	}
	return reader.entries[sector]&sharedFlag != 0, nil
}

// SectorOffset returns the offset in the file of the stored copy of `sector`.
func (reader *Reader) SectorOffset(sector int) (int64, error) {
	err := reader.checkIndex(sector)
	if err != nil {
		return 0, err
	}
	stored := int64(reader.entries[sector] & storedIndex)
	return DataOffset(len(reader.entries)) + stored*SectorSize, nil
}

// ReadPage reads `sector` into `buffer`, which must be exactly [SectorSize]
// bytes long.
func (reader *Reader) ReadPage(sector int, buffer []byte) error {
	if len(buffer) != SectorSize {
		return sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer must be %d bytes, got %d", SectorSize, len(buffer)))
	}

	offset, err := reader.SectorOffset(sector)
	if err != nil {
		return err
	}
	err = sdimage.ReadFullAt(reader.source, buffer, offset)
	if err != nil {
		return fmt.Errorf("sector %d: %w", sector, err)
	}
	return nil
}

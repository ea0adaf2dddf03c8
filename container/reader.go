package container

import (
	"fmt"
	"io"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
	"github.com/dargueta/sdimage/utilities/compression"
)

// Reader gives random access to the pages of a container. It implements
// [sdimage.PageReader].
//
// A Reader keeps a single buffer for compressed data and is not safe for
// concurrent use.
type Reader struct {
	source     io.ReaderAt
	header     Header
	locator    directory.Locator
	compressed []byte
}

// Open parses the header and directory of the `size`-byte container in
// `source`. No pages are decoded.
func Open(source io.ReaderAt, size int64) (*Reader, error) {
	headerBytes := make([]byte, LayoutRLEDirectory.HeaderSize())
	if size < int64(len(headerBytes)) {
		headerBytes = headerBytes[:size]
	}
	err := sdimage.ReadFullAt(source, headerBytes, 0)
	if err != nil {
		return nil, err
	}

	header, err := ParseHeader(headerBytes, size)
	if err != nil {
		return nil, err
	}

	directoryBytes := make([]byte, header.DirectorySize)
	err = sdimage.ReadFullAt(source, directoryBytes, header.DirectoryOffset)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var locator directory.Locator
	if header.Layout == LayoutOffsetTable {
		locator, err = openOffsetTable(header, directoryBytes)
	} else {
		locator, err = openRLEDirectory(header, directoryBytes)
	}
	if err != nil {
		return nil, err
	}

	return &Reader{
		source:     source,
		header:     header,
		locator:    locator,
		compressed: make([]byte, header.MaxCompressedPageSize),
	}, nil
}

func openRLEDirectory(header Header, directoryBytes []byte) (directory.Locator, error) {
	sizes, err := directory.DecodeRLE(directoryBytes, int(header.PageCount))
	if err != nil {
		return nil, err
	}

	for i, size := range sizes {
		if int64(size) > header.MaxCompressedPageSize {
			return nil, sdimage.ErrCorruptHeader.WithMessage(
				fmt.Sprintf(
					"page %d is %d bytes, larger than the recorded maximum of %d",
					i,
					size,
					header.MaxCompressedPageSize,
				),
			)
		}
	}

	index := directory.NewIndex(header.DataOffset, sizes)
	if index.DataEnd() != header.DirectoryOffset {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"pages end at %d but the directory starts at %d",
				index.DataEnd(),
				header.DirectoryOffset,
			),
		)
	}
	return index, nil
}

func openOffsetTable(header Header, directoryBytes []byte) (directory.Locator, error) {
	table, err := directory.DecodeOffsetTable(directoryBytes, int(header.PageCount))
	if err != nil {
		return nil, err
	}

	first, _ := table.Locate(0)
	if first.Offset != header.DataOffset || table.DataEnd() != header.DirectoryOffset {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"offset table covers [%d, %d), expected [%d, %d)",
				first.Offset,
				table.DataEnd(),
				header.DataOffset,
				header.DirectoryOffset,
			),
		)
	}
	return table, nil
}

func (reader *Reader) Header() Header {
	return reader.header
}

func (reader *Reader) PageSize() int {
	return compression.PageSize
}

func (reader *Reader) PageCount() int {
	return reader.locator.PageCount()
}

// Locate returns where the compressed form of `page` is stored.
func (reader *Reader) Locate(page int) (directory.Extent, error) {
	return reader.locator.Locate(page)
}

// ReadCompressedPage returns the compressed bytes of `page`. The returned
// slice is only valid until the next call to a read method. Null pages that
// aren't stored return an empty slice.
func (reader *Reader) ReadCompressedPage(page int) ([]byte, error) {
	extent, err := reader.locator.Locate(page)
	if err != nil {
		return nil, err
	}
	if extent.Size == 0 {
		return reader.compressed[:0], nil
	}
	if int64(extent.Size) > reader.header.MaxCompressedPageSize {
		return nil, sdimage.ErrCorruptPage.WithMessage(
			fmt.Sprintf(
				"page %d is %d bytes, larger than the recorded maximum of %d",
				page,
				extent.Size,
				reader.header.MaxCompressedPageSize,
			),
		)
	}

	buffer := reader.compressed[:extent.Size]
	err = sdimage.ReadFullAt(reader.source, buffer, extent.Offset)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	return buffer, nil
}

// ReadPage decodes `page` into `buffer`, which must be exactly [PageSize] bytes.
// Only the bytes of the requested page are read from the source.
func (reader *Reader) ReadPage(page int, buffer []byte) error {
	if len(buffer) != compression.PageSize {
		return sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be %d bytes, got %d", compression.PageSize, len(buffer)))
	}

	compressed, err := reader.ReadCompressedPage(page)
	if err != nil {
		return err
	}

	if len(compressed) == 0 {
		for i := range buffer {
			buffer[i] = 0
		}
		return nil
	}

	err = compression.DecodePage(compressed, buffer)
	if err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}
	return nil
}

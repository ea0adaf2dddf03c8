package container

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
	"github.com/dargueta/sdimage/utilities/compression"
)

// WriteOptions configures container creation.
type WriteOptions struct {
	// Layout selects the directory design. The zero value is
	// LayoutRLEDirectory.
	Layout Layout
	// Logger receives a summary once the container is written, and per-page
	// details at debug level. If nil, nothing is logged.
	Logger *slog.Logger
}

// Writer compresses raw images of 64 KiB pages into containers. It implements
// [sdimage.ImageCompressor].
type Writer struct {
	options WriteOptions
}

// NewWriter creates a [Writer] with the given options.
func NewWriter(options WriteOptions) *Writer {
	return &Writer{options: options}
}

func (writer *Writer) log() *slog.Logger {
	if writer.options.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return writer.options.Logger
}

func (writer *Writer) PageSize() int {
	return compression.PageSize
}

// ValidateInputSize checks that a raw image of `size` bytes is a whole number of
// pages, no larger than [MaxImageSize] and at least [MinPageCount] pages long.
func (writer *Writer) ValidateInputSize(size int64) error {
	switch {
	case size%compression.PageSize != 0:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf(
				"%d bytes is not a multiple of the %d-byte page size",
				size,
				compression.PageSize,
			),
		)
	case size > MaxImageSize:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf("%d bytes is larger than the %d-byte maximum", size, MaxImageSize))
	case size/compression.PageSize < MinPageCount:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf(
				"image has %d pages, need at least %d",
				size/compression.PageSize,
				MinPageCount,
			),
		)
	}
	return nil
}

// Compress writes a container for the `inputSize`-byte raw image read from
// `input`. The container always begins at offset 0 of `output`.
//
// Pages are read, compressed and written one at a time. The header is written
// as zeros first and overwritten at the end, once the directory has been
// written and all of its values are known.
func (writer *Writer) Compress(
	input io.Reader, inputSize int64, output io.WriteSeeker,
) (sdimage.Stats, error) {
	err := writer.ValidateInputSize(inputSize)
	if err != nil {
		return sdimage.Stats{}, err
	}

	layout := writer.options.Layout
	logger := writer.log()
	pageCount := int(inputSize / compression.PageSize)

	encoder, err := compression.NewPageEncoder(compression.PageSize)
	if err != nil {
		return sdimage.Stats{}, err
	}

	_, err = output.Seek(0, io.SeekStart)
	if err != nil {
		return sdimage.Stats{}, err
	}

	placeholder := Header{Layout: layout}
	headerBytes, err := placeholder.MarshalBinary()
	if err != nil {
		return sdimage.Stats{}, err
	}
	err = sdimage.WriteFull(output, headerBytes)
	if err != nil {
		return sdimage.Stats{}, err
	}

	stats := sdimage.Stats{
		PageSize:   compression.PageSize,
		PageCount:  pageCount,
		DataOffset: layout.HeaderSize(),
	}
	position := layout.HeaderSize()

	sizes := make([]uint32, 0, pageCount)
	offsets := make([]int64, 0, pageCount+1)
	page := make([]byte, compression.PageSize)

	for pageIndex := 0; pageIndex < pageCount; pageIndex++ {
		_, err = io.ReadFull(input, page)
		if err != nil {
			return stats, sdimage.ErrShortRead.WithMessage(
				fmt.Sprintf("page %d of %d", pageIndex, pageCount)).Wrap(err)
		}

		encoded, err := encoder.Encode(page)
		if err != nil {
			return stats, err
		}

		logger.Debug(
			"compressed page",
			slog.Int("page", pageIndex),
			slog.Int("escape", int(encoded.Escape)),
			slog.Int("size", len(encoded.Data)),
		)

		if layout == LayoutRLEDirectory && encoded.IsZeroPage() {
			sizes = append(sizes, 0)
			stats.OmittedPages++
			continue
		}

		offsets = append(offsets, position)
		sizes = append(sizes, uint32(len(encoded.Data)))
		err = sdimage.WriteFull(output, encoded.Data)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", pageIndex, err)
		}
		position += int64(len(encoded.Data))
		stats.StoredPages++
	}

	stats.UniformPages = encoder.UniformPages()
	stats.MaxCompressedPageSize = encoder.MaxCompressedSize()

	var directoryBytes []byte
	if layout == LayoutOffsetTable {
		offsets = append(offsets, position)
		directoryBytes, err = directory.EncodeOffsetTable(offsets)
	} else {
		directoryBytes, err = directory.EncodeRLE(sizes)
	}
	if err != nil {
		return stats, err
	}

	header := Header{
		Layout:                layout,
		PageCount:             int64(pageCount),
		DirectoryOffset:       position,
		MaxCompressedPageSize: int64(stats.MaxCompressedPageSize),
		DirectorySize:         int64(len(directoryBytes)),
		DataOffset:            layout.HeaderSize(),
	}

	// Serialize the header before writing the directory so that an overflowing
	// field aborts before anything else is written.
	fields, err := header.MarshalFields()
	if err != nil {
		return stats, err
	}

	err = sdimage.WriteFull(output, directoryBytes)
	if err != nil {
		return stats, fmt.Errorf("directory: %w", err)
	}
	stats.DirectorySize = header.DirectorySize
	stats.TotalSize = position + header.DirectorySize

	_, err = output.Seek(MagicSize, io.SeekStart)
	if err != nil {
		return stats, err
	}
	err = sdimage.WriteFull(output, fields)
	if err != nil {
		return stats, fmt.Errorf("header: %w", err)
	}

	_, err = output.Seek(stats.TotalSize, io.SeekStart)
	if err != nil {
		return stats, err
	}

	logger.Info(
		"container written",
		slog.String("layout", layout.String()),
		slog.Int("pages", stats.PageCount),
		slog.Int("stored_pages", stats.StoredPages),
		slog.Int("uniform_pages", stats.UniformPages),
		slog.Int("omitted_pages", stats.OmittedPages),
		slog.Int("max_compressed_page_size", stats.MaxCompressedPageSize),
		slog.Int64("directory_size", stats.DirectorySize),
		slog.Int64("total_size", stats.TotalSize),
	)
	return stats, nil
}

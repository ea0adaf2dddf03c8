package sector

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/directory"
	"github.com/dargueta/sdimage/utilities/compression"
	"github.com/dchest/siphash"
)

// Keys for the content hash used to find duplicate sectors. They only need to
// be fixed so that output is reproducible.
const (
	hashKey0 = 0x5844656475704b30
	hashKey1 = 0x5844656475704b31
)

// WriteOptions configures sector image creation.
type WriteOptions struct {
	// Logger receives a summary once the image is written. If nil, nothing is
	// logged.
	Logger *slog.Logger
}

// Writer creates sector-deduplicated images. It implements
// [sdimage.ImageCompressor].
type Writer struct {
	options WriteOptions
}

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
	return SectorSize
}

// ValidateInputSize checks that a raw image of `size` bytes is a whole number of
// sectors, between [MinSectorCount] and [MaxSectorCount] sectors long.
func (writer *Writer) ValidateInputSize(size int64) error {
	switch {
	case size%SectorSize != 0:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf(
				"%d bytes is not a multiple of the %d-byte sector size", size, SectorSize))
	case size/SectorSize < MinSectorCount:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf(
				"image has %d sectors, need at least %d", size/SectorSize, MinSectorCount))
	case size/SectorSize > MaxSectorCount:
		return sdimage.ErrBadInputSize.WithMessage(
			fmt.Sprintf(
				"image has %d sectors, can have at most %d", size/SectorSize, MaxSectorCount))
	}
	return nil
}

// sectorKey identifies a sector by its 128-bit SipHash. Sectors with equal keys
// are treated as identical; their bytes are never compared. At 2^23 distinct
// sectors the chance of a collision is around 2^-82.
type sectorKey struct {
	lo, hi uint64
}

// Compress writes a sector image for the `inputSize`-byte raw image read from
// `input`. The image always begins at offset 0 of `output`.
//
// The size of the directory is known from the start, so the writer skips over
// it, writes the distinct sectors, and then goes back to fill in the header and
// directory.
func (writer *Writer) Compress(
	input io.Reader, inputSize int64, output io.WriteSeeker,
) (sdimage.Stats, error) {
	err := writer.ValidateInputSize(inputSize)
	if err != nil {
		return sdimage.Stats{}, err
	}

	sectorCount := int(inputSize / SectorSize)
	dataOffset := DataOffset(sectorCount)

	header := Header{EntrySize: EntrySize, SectorCount: sectorCount}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return sdimage.Stats{}, err
	}

	// Only the magic goes out now; the fields stay zero until the end.
	_, err = output.Seek(0, io.SeekStart)
	if err != nil {
		return sdimage.Stats{}, err
	}
	placeholder := make([]byte, HeaderSize)
	copy(placeholder, Magic)
	err = sdimage.WriteFull(output, placeholder)
	if err != nil {
		return sdimage.Stats{}, err
	}
	_, err = output.Seek(dataOffset, io.SeekStart)
	if err != nil {
		return sdimage.Stats{}, err
	}

	stats := sdimage.Stats{
		PageSize:              SectorSize,
		PageCount:             sectorCount,
		MaxCompressedPageSize: SectorSize,
		DirectorySize:         EntrySize * int64(sectorCount),
		DataOffset:            dataOffset,
	}

	storedIndexes := make(map[sectorKey]uint32)
	sharedSectors := bitmap.New(sectorCount)
	entries := make([]uint32, sectorCount)
	sector := make([]byte, SectorSize)

	for sectorIndex := 0; sectorIndex < sectorCount; sectorIndex++ {
		_, err = io.ReadFull(input, sector)
		if err != nil {
			return stats, sdimage.ErrShortRead.WithMessage(
				fmt.Sprintf("sector %d of %d", sectorIndex, sectorCount)).Wrap(err)
		}

		_, frequency := compression.EscapeByte(sector)
		if frequency == SectorSize {
			stats.UniformPages++
		}

		lo, hi := siphash.Hash128(hashKey0, hashKey1, sector)
		key := sectorKey{lo: lo, hi: hi}

		stored, exists := storedIndexes[key]
		if !exists {
			if len(storedIndexes) >= MaxStoredSectors {
				return stats, sdimage.ErrFieldOverflow.WithMessage(
					fmt.Sprintf(
						"sector %d: more than %d distinct sectors", sectorIndex, MaxStoredSectors))
			}
			stored = uint32(len(storedIndexes))
			storedIndexes[key] = stored

			err = sdimage.WriteFull(output, sector)
			if err != nil {
				return stats, fmt.Errorf("sector %d: %w", sectorIndex, err)
			}
			stats.StoredPages++
		} else {
			sharedSectors.Set(int(stored), true)
		}
		entries[sectorIndex] = stored
	}

	directoryBytes := make([]byte, 0, HeaderSize+stats.DirectorySize)
	directoryBytes = append(directoryBytes, headerBytes...)
	var entry [EntrySize]byte
	for _, stored := range entries {
		value := uint64(stored)
		if sharedSectors.Get(int(stored)) {
			value |= sharedFlag
			stats.SharedPages++
		}
		err = directory.PutUint24BE(entry[:], value)
		if err != nil {
			return stats, err
		}
		directoryBytes = append(directoryBytes, entry[:]...)
	}

	stats.TotalSize = dataOffset + int64(stats.StoredPages)*SectorSize

	_, err = output.Seek(0, io.SeekStart)
	if err != nil {
		return stats, err
	}
	err = sdimage.WriteFull(output, directoryBytes)
	if err != nil {
		return stats, fmt.Errorf("directory: %w", err)
	}
	_, err = output.Seek(stats.TotalSize, io.SeekStart)
	if err != nil {
		return stats, err
	}

	writer.log().Info(
		"sector image written",
		slog.Int("sectors", stats.PageCount),
		slog.Int("stored_sectors", stats.StoredPages),
		slog.Int("shared_sectors", stats.SharedPages),
		slog.Int("uniform_sectors", stats.UniformPages),
		slog.Int64("total_size", stats.TotalSize),
	)
	return stats, nil
}

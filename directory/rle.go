package directory

import (
	"fmt"

	"github.com/dargueta/sdimage"
)

const (
	// RLEEntrySize is the size of a single RLE directory entry, in bytes.
	RLEEntrySize = 3
	// MaxRunValue is the largest page size that can be run-length encoded.
	MaxRunValue = 0x7F
	// MaxRunLength is the largest number of pages a single run entry covers.
	// Longer runs are split into several entries.
	MaxRunLength = 0xFFFF
	// MaxLiteralSize is the largest compressed page size the RLE directory can
	// record. The high bit of the top byte is reserved for run entries.
	MaxLiteralSize = 0x7FFFFF

	runEntryFlag = 0x80
)

// EncodeRLE encodes a list of per-page compressed sizes as an RLE directory.
// A size of 0 means the page is all null bytes and isn't stored.
func EncodeRLE(sizes []uint32) ([]byte, error) {
	output := make([]byte, 0, len(sizes)*RLEEntrySize)
	var entry [RLEEntrySize]byte

	for i := 0; i < len(sizes); {
		value := sizes[i]
		next := i + 1
		var encoded uint64

		if value <= MaxRunValue {
			for next < len(sizes) && sizes[next] == value && next-i < MaxRunLength {
				next++
			}
		}

		runLength := next - i
		if runLength > 1 {
			encoded = uint64(runLength) | uint64(value|runEntryFlag)<<16
		} else if value > MaxLiteralSize {
			return nil, sdimage.ErrFieldOverflow.WithMessage(
				fmt.Sprintf(
					"page %d: compressed size %d can't be stored in the directory",
					i,
					value,
				),
			)
		} else {
			encoded = uint64(value)
		}

		err := PutUint24LE(entry[:], encoded)
		if err != nil {
			return nil, err
		}
		output = append(output, entry[:]...)
		i = next
	}

	return output, nil
}

// DecodeRLE expands an RLE directory back into the per-page compressed sizes.
// The directory must describe exactly `pageCount` pages.
func DecodeRLE(data []byte, pageCount int) ([]uint32, error) {
	if len(data)%RLEEntrySize != 0 {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"directory size %d is not a multiple of %d", len(data), RLEEntrySize))
	}

	// pageCount comes from the file header, so don't trust it further than the
	// entries actually present can reach.
	capacity := pageCount
	if capacity < 0 {
		capacity = 0
	}
	if maxPages := len(data) / RLEEntrySize * MaxRunLength; capacity > maxPages {
		capacity = maxPages
	}
	sizes := make([]uint32, 0, capacity)
	for offset := 0; offset < len(data); offset += RLEEntrySize {
		entry := Uint24LE(data[offset:])

		if entry&(runEntryFlag<<16) == 0 {
			if len(sizes) >= pageCount {
				return nil, tooManyPagesError(offset, pageCount)
			}
			sizes = append(sizes, entry)
			continue
		}

		runLength := int(entry & 0xFFFF)
		value := (entry >> 16) & MaxRunValue
		if runLength == 0 {
			return nil, sdimage.ErrCorruptHeader.WithMessage(
				fmt.Sprintf("empty run in directory entry at offset %d", offset))
		}
		if len(sizes)+runLength > pageCount {
			return nil, tooManyPagesError(offset, pageCount)
		}
		for j := 0; j < runLength; j++ {
			sizes = append(sizes, value)
		}
	}

	if len(sizes) != pageCount {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"directory describes %d pages, expected %d", len(sizes), pageCount))
	}
	return sizes, nil
}

func tooManyPagesError(offset, pageCount int) error {
	return sdimage.ErrCorruptHeader.WithMessage(
		fmt.Sprintf(
			"directory entry at offset %d describes more than %d pages",
			offset,
			pageCount,
		),
	)
}

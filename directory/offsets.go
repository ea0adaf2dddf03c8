package directory

import (
	"fmt"

	"github.com/dargueta/sdimage"
)

// OffsetEntrySize is the size of one offset table entry, in bytes.
const OffsetEntrySize = 4

// EncodeOffsetTable encodes absolute page offsets as an offset table. `offsets`
// must contain one entry per page followed by the offset of the end of the data
// region.
func EncodeOffsetTable(offsets []int64) ([]byte, error) {
	if len(offsets) < 2 {
		return nil, sdimage.ErrInvalidArgument.WithMessage(
			"offset table needs at least one page and the end offset")
	}

	output := make([]byte, len(offsets)*OffsetEntrySize)
	for i, offset := range offsets {
		if offset < 0 {
			return nil, sdimage.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("offset %d of page %d is negative", offset, i))
		}
		if i > 0 && offset < offsets[i-1] {
			return nil, sdimage.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("offset of page %d is less than that of page %d", i, i-1))
		}
		err := PutUint32LE(output[i*OffsetEntrySize:], uint64(offset))
		if err != nil {
			return nil, err
		}
	}
	return output, nil
}

// OffsetTable is a [Locator] reading page positions directly from an offset
// table.
type OffsetTable struct {
	offsets []int64
}

// DecodeOffsetTable parses an offset table of `pageCount` + 1 entries.
func DecodeOffsetTable(data []byte, pageCount int) (*OffsetTable, error) {
	if pageCount < 1 || len(data) != (pageCount+1)*OffsetEntrySize {
		return nil, sdimage.ErrCorruptHeader.WithMessage(
			fmt.Sprintf(
				"offset table is %d bytes, expected %d entries",
				len(data),
				pageCount+1,
			),
		)
	}

	offsets := make([]int64, pageCount+1)
	for i := range offsets {
		offset := data[i*OffsetEntrySize:]
		offsets[i] = int64(offset[0]) |
			int64(offset[1])<<8 |
			int64(offset[2])<<16 |
			int64(offset[3])<<24
		if i > 0 && offsets[i] <= offsets[i-1] {
			return nil, sdimage.ErrCorruptHeader.WithMessage(
				fmt.Sprintf("page %d has a non-positive size", i-1))
		}
	}
	return &OffsetTable{offsets: offsets}, nil
}

func (table *OffsetTable) PageCount() int {
	return len(table.offsets) - 1
}

func (table *OffsetTable) Locate(page int) (Extent, error) {
	err := checkPageIndex(page, table.PageCount())
	if err != nil {
		return Extent{}, err
	}
	return Extent{
		Offset: table.offsets[page],
		Size:   int(table.offsets[page+1] - table.offsets[page]),
	}, nil
}

func (table *OffsetTable) DataEnd() int64 {
	return table.offsets[len(table.offsets)-1]
}

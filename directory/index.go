package directory

import (
	"fmt"

	"github.com/dargueta/sdimage"
)

// Extent gives the location of one compressed page in the container file.
type Extent struct {
	Offset int64
	// Size is the compressed size of the page. A size of 0 means the page is all
	// null bytes and occupies no space in the file.
	Size int
}

// Locator finds compressed pages in a container in constant time.
type Locator interface {
	PageCount() int
	Locate(page int) (Extent, error)
	// DataEnd returns the offset just past the last stored page.
	DataEnd() int64
}

func checkPageIndex(page, pageCount int) error {
	if page < 0 || page >= pageCount {
		return sdimage.ErrPageOutOfRange.WithMessage(
			fmt.Sprintf("page %d not in range [0, %d)", page, pageCount))
	}
	return nil
}

// Index is a [Locator] built from the page sizes stored in an RLE directory. The
// page offsets are computed once, when the index is created.
type Index struct {
	sizes   []uint32
	offsets []int64
}

// NewIndex builds an [Index] for pages stored back to back starting at
// `dataOffset`.
func NewIndex(dataOffset int64, sizes []uint32) *Index {
	offsets := make([]int64, len(sizes)+1)
	offsets[0] = dataOffset
	for i, size := range sizes {
		offsets[i+1] = offsets[i] + int64(size)
	}
	return &Index{sizes: sizes, offsets: offsets}
}

func (index *Index) PageCount() int {
	return len(index.sizes)
}

func (index *Index) Locate(page int) (Extent, error) {
	err := checkPageIndex(page, len(index.sizes))
	if err != nil {
		return Extent{}, err
	}
	return Extent{Offset: index.offsets[page], Size: int(index.sizes[page])}, nil
}

func (index *Index) DataEnd() int64 {
	return index.offsets[len(index.offsets)-1]
}

// Offsets returns the offset of every page, plus the end of the data region.
func (index *Index) Offsets() []int64 {
	return index.offsets
}

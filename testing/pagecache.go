package testing

import (
	"fmt"
	"testing"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/pagecache"
	"github.com/stretchr/testify/assert"
)

// CreateDefaultCache creates a page cache over an in-memory image.
//
// Arguments:
//
//   - bytesPerPage: The number of bytes in a single page.
//   - totalPages: The number of pages in the image.
//   - slots: The number of pages the cache may hold at once.
//   - backingData: Optional. A byte slice of at least `bytesPerPage * totalPages`
//     that is used as the underlying storage the cache sits on top of. You can
//     pass `nil` for this to get completely random data.
//   - `t`: The testing fixture.
//
// The fetch handler checks bounds for you and fails the test if it's asked for
// a page outside the image. The second return value counts how many times the
// fetch handler was called for each page.
func CreateDefaultCache(
	bytesPerPage,
	totalPages,
	slots uint,
	backingData []byte,
	t *testing.T,
) (*pagecache.PageCache, map[int]int) {
	if backingData == nil {
		backingData = CreateRandomImage(bytesPerPage, totalPages, t)
	}

	fetchCounts := make(map[int]int)
	fetchCallback := func(pageIndex int, buffer []byte) error {
		if pageIndex < 0 || pageIndex >= int(totalPages) {
			message := fmt.Sprintf(
				"attempted to read outside bounds: page %d not in [0, %d)",
				pageIndex,
				totalPages,
			)
			t.Error(message)
			return sdimage.ErrPageOutOfRange.WithMessage(message)
		}

		fetchCounts[pageIndex]++
		start := uint(pageIndex) * bytesPerPage
		copy(buffer, backingData[start:start+bytesPerPage])
		return nil
	}

	cache := pagecache.New(int(bytesPerPage), int(totalPages), int(slots), fetchCallback)
	assert.EqualValues(t, bytesPerPage, cache.BytesPerPage(), "wrong bytes per page")
	assert.EqualValues(t, totalPages, cache.TotalPages(), "wrong total pages")
	assert.EqualValues(t, bytesPerPage*totalPages, cache.Size(), "total size is wrong")
	return cache, fetchCounts
}

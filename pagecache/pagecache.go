// Package pagecache provides a read-only page cache that presents a compressed
// image as a contiguous stream of uncompressed bytes.
//
// Decoding a page is far more expensive than copying it, and readers of disk
// images tend to access the same few pages over and over (the partition table,
// the FAT, directory sectors). The cache holds a fixed number of decoded pages
// and evicts them in round-robin order once it's full.
//
// All page indexes begin at 0.
package pagecache

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/sdimage"
)

// FetchPageCallback is a pointer to a function that writes the uncompressed
// contents of a single page into `buffer`. `buffer` is guaranteed to be the
// size of exactly one page.
type FetchPageCallback func(pageIndex int, buffer []byte) error

type PageCache struct {
	residentPages bitmap.Bitmap
	pageSlots     map[int]int
	slotOwners    []int
	nextVictim    int
	fetch         FetchPageCallback
	bytesPerPage  int
	totalPages    int
	data          []byte
	hits          int
	misses        int
}

// New creates a new PageCache holding at most `slots` decoded pages of an image
// with `totalPages` pages.
func New(bytesPerPage, totalPages, slots int, fetchCb FetchPageCallback) *PageCache {
	if slots < 1 {
		slots = 1
	}
	if slots > totalPages {
		slots = totalPages
	}

	slotOwners := make([]int, slots)
	for i := range slotOwners {
		slotOwners[i] = -1
	}

	return &PageCache{
		residentPages: bitmap.New(totalPages),
		pageSlots:     make(map[int]int, slots),
		slotOwners:    slotOwners,
		fetch:         fetchCb,
		bytesPerPage:  bytesPerPage,
		totalPages:    totalPages,
		data:          make([]byte, slots*bytesPerPage),
	}
}

// BytesPerPage returns the size of a single page, in bytes.
func (cache *PageCache) BytesPerPage() int {
	return cache.bytesPerPage
}

// TotalPages returns the number of pages in the image behind the cache.
func (cache *PageCache) TotalPages() int {
	return cache.totalPages
}

// Slots returns the maximum number of pages held in memory at once.
func (cache *PageCache) Slots() int {
	return len(cache.slotOwners)
}

// Size returns the size of the uncompressed image, in bytes.
func (cache *PageCache) Size() int64 {
	return int64(cache.bytesPerPage) * int64(cache.totalPages)
}

// Stats returns the number of page lookups that were served from memory and
// the number that required a fetch.
func (cache *PageCache) Stats() (hits, misses int) {
	return cache.hits, cache.misses
}

// IsResident returns true if the page is currently held in the cache.
func (cache *PageCache) IsResident(pageIndex int) bool {
	if pageIndex < 0 || pageIndex >= cache.totalPages {
		return false
	}
	return cache.residentPages.Get(pageIndex)
}

func (cache *PageCache) slotData(slot int) []byte {
	return cache.data[slot*cache.bytesPerPage : (slot+1)*cache.bytesPerPage]
}

// GetPage returns the contents of a page, fetching it if it isn't resident.
// The returned slice points into the cache and is only valid until the next
// call to a method of the cache.
func (cache *PageCache) GetPage(pageIndex int) ([]byte, error) {
	if pageIndex < 0 || pageIndex >= cache.totalPages {
		return nil, sdimage.ErrPageOutOfRange.WithMessage(
			fmt.Sprintf("page %d not in range [0, %d)", pageIndex, cache.totalPages))
	}

	if cache.residentPages.Get(pageIndex) {
		cache.hits++
		return cache.slotData(cache.pageSlots[pageIndex]), nil
	}
	cache.misses++

	slot := cache.nextVictim
	cache.nextVictim = (cache.nextVictim + 1) % len(cache.slotOwners)
	cache.evictSlot(slot)

	buffer := cache.slotData(slot)
	err := cache.fetch(pageIndex, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to load page %d: %w", pageIndex, err)
	}

	cache.slotOwners[slot] = pageIndex
	cache.pageSlots[pageIndex] = slot
	cache.residentPages.Set(pageIndex, true)
	return buffer, nil
}

func (cache *PageCache) evictSlot(slot int) {
	owner := cache.slotOwners[slot]
	if owner < 0 {
		return
	}
	cache.residentPages.Set(owner, false)
	delete(cache.pageSlots, owner)
	cache.slotOwners[slot] = -1
}

// Reset drops every page from the cache.
func (cache *PageCache) Reset() {
	for slot := range cache.slotOwners {
		cache.evictSlot(slot)
	}
	cache.nextVictim = 0
}

// ReadAt implements [io.ReaderAt] over the uncompressed image. Reads may span
// any number of pages.
func (cache *PageCache) ReadAt(buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}
	if offset >= cache.Size() {
		return 0, io.EOF
	}

	totalRead := 0
	for totalRead < len(buffer) {
		position := offset + int64(totalRead)
		if position >= cache.Size() {
			return totalRead, io.EOF
		}

		pageIndex := int(position / int64(cache.bytesPerPage))
		pageOffset := int(position % int64(cache.bytesPerPage))

		page, err := cache.GetPage(pageIndex)
		if err != nil {
			return totalRead, err
		}
		totalRead += copy(buffer[totalRead:], page[pageOffset:])
	}
	return totalRead, nil
}

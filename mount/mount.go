// Package mount presents a compressed image as the raw image it was made from,
// without inflating it. Pages are decoded on demand and kept in a small cache.
package mount

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/container"
	"github.com/dargueta/sdimage/formats"
	"github.com/dargueta/sdimage/pagecache"
	"github.com/dargueta/sdimage/sector"
	"github.com/hashicorp/go-multierror"
)

// DefaultCacheSlots is the number of decoded pages kept in memory when the
// caller doesn't ask for a specific number.
const DefaultCacheSlots = 8

// Image is a read-only view of the uncompressed contents of a compressed image.
// It implements [io.ReaderAt]. It is not safe for concurrent use.
type Image struct {
	file   *os.File
	pages  sdimage.PageReader
	format formats.Format
	cache  *pagecache.PageCache
}

// Open opens the compressed image at `path`. The format is detected from its
// magic string. `cacheSlots` is the maximum number of decoded pages held in
// memory; 0 means [DefaultCacheSlots].
func Open(path string, cacheSlots int) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	image, err := OpenReader(file, info.Size(), cacheSlots)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("can't mount %q: %w", path, err)
	}
	image.file = file
	return image, nil
}

// OpenReader is like [Open] but reads the `size`-byte compressed image from
// `source`. Closing the returned Image doesn't close `source`.
func OpenReader(source io.ReaderAt, size int64, cacheSlots int) (*Image, error) {
	if cacheSlots < 0 {
		return nil, sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cache slots must be non-negative, got %d", cacheSlots))
	}
	if cacheSlots == 0 {
		cacheSlots = DefaultCacheSlots
	}

	magicSize := int64(container.MagicSize)
	if size < magicSize {
		return nil, sdimage.ErrBadMagic.WithMessage("file too short")
	}
	magic := make([]byte, magicSize)
	err := sdimage.ReadFullAt(source, magic, 0)
	if err != nil {
		return nil, err
	}

	format, err := formats.ForMagic(magic)
	if err != nil {
		return nil, err
	}

	var pages sdimage.PageReader
	if format.Layout == "sector" {
		pages, err = sector.Open(source, size)
	} else {
		pages, err = container.Open(source, size)
	}
	if err != nil {
		return nil, err
	}

	return &Image{
		pages:  pages,
		format: format,
		cache: pagecache.New(
			pages.PageSize(), pages.PageCount(), cacheSlots, pages.ReadPage),
	}, nil
}

// Format returns the catalogue entry for the format of the image.
func (image *Image) Format() formats.Format {
	return image.format
}

// Pages gives direct access to the pages of the image, bypassing the cache.
func (image *Image) Pages() sdimage.PageReader {
	return image.pages
}

func (image *Image) PageSize() int {
	return image.pages.PageSize()
}

func (image *Image) PageCount() int {
	return image.pages.PageCount()
}

// Size returns the size of the uncompressed image, in bytes.
func (image *Image) Size() int64 {
	return image.cache.Size()
}

// ReadAt reads uncompressed bytes starting at `offset`. Reads may cross page
// boundaries. Reading past the end of the image returns [io.EOF].
func (image *Image) ReadAt(buffer []byte, offset int64) (int, error) {
	return image.cache.ReadAt(buffer, offset)
}

// CacheStats returns the number of page lookups served from memory and the
// number that required decoding a page.
func (image *Image) CacheStats() (hits, misses int) {
	return image.cache.Stats()
}

// Close releases the cache and closes the underlying file if the image was
// opened with [Open].
func (image *Image) Close() error {
	var result error
	image.cache.Reset()
	if image.file != nil {
		err := image.file.Close()
		if err != nil {
			result = multierror.Append(result, err)
		}
		image.file = nil
	}
	return result
}

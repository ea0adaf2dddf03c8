package sdimage

import (
	"io"
)

// PageReader is the interface for readers of a compressed image. Pages can be
// read in any order; reading one page never requires decoding another.
type PageReader interface {
	// PageSize returns the size of one uncompressed page, in bytes.
	PageSize() int
	// PageCount returns the number of pages in the uncompressed image.
	PageCount() int
	// ReadPage decodes page `index` into `buffer`, which must be exactly
	// PageSize() bytes long. A failure to decode one page does not prevent
	// other pages from being read.
	ReadPage(index int, buffer []byte) error
}

// ImageCompressor is the interface for the container writers. Each compressor
// owns its own page codec and directory layout.
type ImageCompressor interface {
	// PageSize returns the granularity the raw image must be aligned to.
	PageSize() int
	// ValidateInputSize returns an error wrapping [ErrBadInputSize] if a raw
	// image of `size` bytes can't be stored in this format.
	ValidateInputSize(size int64) error
	// Compress reads exactly `inputSize` bytes from `input` and writes a
	// complete container to `output`. If an error is returned the contents of
	// `output` are undefined and must not be used.
	Compress(input io.Reader, inputSize int64, output io.WriteSeeker) (Stats, error)
}

// Stats summarizes a container after it was written.
type Stats struct {
	PageSize  int
	PageCount int
	// StoredPages is the number of pages that occupy bytes in the data region.
	StoredPages int
	// UniformPages is the number of pages consisting of a single byte value.
	UniformPages int
	// OmittedPages is the number of all-zero pages that aren't stored at all.
	OmittedPages int
	// SharedPages is the number of pages whose stored copy is used by more than
	// one page. Only deduplicating formats set this.
	SharedPages           int
	MaxCompressedPageSize int
	DirectorySize         int64
	DataOffset            int64
	TotalSize             int64
}

// CompressionRatio returns the size of the container relative to the raw
// image, as a percentage.
func (s Stats) CompressionRatio() int {
	rawSize := int64(s.PageSize) * int64(s.PageCount)
	if rawSize == 0 {
		return 0
	}
	return int(100 * s.TotalSize / rawSize)
}

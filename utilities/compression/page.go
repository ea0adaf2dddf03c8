package compression

import (
	"fmt"

	"github.com/dargueta/sdimage"
)

const (
	// SectorSize is the size of an SD card sector, the smallest page size.
	SectorSize = 512
	// PageSize is the size of the pages used by the page-RLE containers.
	PageSize = 0x10000
	// MaxPageSize is the largest page the codec can handle. Any run in a
	// non-uniform page of this size fits in the 16-bit extended run length.
	MaxPageSize = PageSize
)

const (
	// MaxLiteralRunLength is the longest run of a non-escape byte that is
	// written out as literal bytes instead of an escape sequence.
	MaxLiteralRunLength = 3
	// MinExtendedRunLength is the shortest run that needs the 5-byte extended
	// escape sequence.
	MinExtendedRunLength = 0x100
	// MaxExtendedRunLength is the longest run a single escape sequence can
	// describe.
	MaxExtendedRunLength = 0xFFFF

	shortRunSequenceSize    = 3
	extendedRunSequenceSize = 5
)

// MaxEncodedSize returns an upper bound on the size of a compressed page of
// `pageSize` bytes. The worst case is a page made of isolated escape bytes,
// each of which costs a 3-byte sequence.
func MaxEncodedSize(pageSize int) int {
	return shortRunSequenceSize*pageSize + 1
}

// EscapeByte returns the most frequent byte value in `page` along with the
// number of times it occurs. Ties go to the lowest byte value.
func EscapeByte(page []byte) (byte, int) {
	var histogram [256]int
	for _, b := range page {
		histogram[b]++
	}

	escape := 0
	for value := 1; value < len(histogram); value++ {
		if histogram[value] > histogram[escape] {
			escape = value
		}
	}
	return byte(escape), histogram[escape]
}

// EncodedPage is the compressed form of a single page.
type EncodedPage struct {
	// Escape is the escape byte chosen for the page. It's also the first byte
	// of Data.
	Escape byte
	// Data is the complete compressed page, escape byte included.
	Data []byte
	// Uniform is true if every byte in the page is Escape. Data is then exactly
	// one byte long.
	Uniform bool
}

// IsZeroPage returns true if the page consisted entirely of null bytes.
// Containers are allowed to omit such pages entirely.
func (page EncodedPage) IsZeroPage() bool {
	return page.Uniform && page.Escape == 0
}

// PageEncoder compresses pages of a fixed size one at a time, reusing a single
// scratch buffer. It also keeps track of the largest compressed page it
// produced, which readers use to size their own buffers.
type PageEncoder struct {
	pageSize          int
	scratch           []byte
	maxCompressedSize int
	pagesEncoded      int
	uniformPages      int
}

// NewPageEncoder creates a [PageEncoder] for pages of `pageSize` bytes.
func NewPageEncoder(pageSize int) (*PageEncoder, error) {
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("page size must be in [1, %d], got %d", MaxPageSize, pageSize))
	}
	return &PageEncoder{
		pageSize: pageSize,
		scratch:  make([]byte, 0, MaxEncodedSize(pageSize)),
	}, nil
}

func (enc *PageEncoder) PageSize() int {
	return enc.pageSize
}

// MaxCompressedSize returns the size of the largest compressed page produced so
// far.
func (enc *PageEncoder) MaxCompressedSize() int {
	return enc.maxCompressedSize
}

// PagesEncoded returns the number of pages passed to [PageEncoder.Encode].
func (enc *PageEncoder) PagesEncoded() int {
	return enc.pagesEncoded
}

// UniformPages returns how many of the encoded pages were a single byte value.
func (enc *PageEncoder) UniformPages() int {
	return enc.uniformPages
}

// Encode compresses a page. The Data slice of the result points into the
// encoder's scratch buffer and is only valid until the next call to Encode.
func (enc *PageEncoder) Encode(page []byte) (EncodedPage, error) {
	if len(page) != enc.pageSize {
		return EncodedPage{}, sdimage.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("page must be %d bytes, got %d", enc.pageSize, len(page)))
	}

	escape, frequency := EscapeByte(page)
	output := append(enc.scratch[:0], escape)
	uniform := frequency == len(page)

	if !uniform {
		grouper := NewRunLengthGrouper(page)
		for !grouper.AtEnd() {
			run := grouper.GetNextRun()
			if run.Byte == escape && grouper.AtEnd() {
				// The decoder prefills the page with the escape byte, so a
				// trailing run of it needn't be stored.
				break
			}
			output = appendRun(output, escape, run)
		}
	} else {
		enc.uniformPages++
	}

	enc.pagesEncoded++
	if len(output) > enc.maxCompressedSize {
		enc.maxCompressedSize = len(output)
	}
	enc.scratch = output

	return EncodedPage{Escape: escape, Data: output, Uniform: uniform}, nil
}

func appendRun(output []byte, escape byte, run ByteRun) []byte {
	switch {
	case run.RunLength >= MinExtendedRunLength:
		return append(
			output,
			escape,
			run.Byte,
			0,
			byte(run.RunLength&0xFF),
			byte((run.RunLength>>8)&0xFF),
		)
	case run.RunLength > MaxLiteralRunLength || run.Byte == escape:
		return append(output, escape, run.Byte, byte(run.RunLength))
	default:
		for i := 0; i < run.RunLength; i++ {
			output = append(output, run.Byte)
		}
		return output
	}
}

// EncodePage compresses a single page, returning its escape byte and its
// compressed form. The result is a newly allocated slice.
func EncodePage(page []byte) (byte, []byte, error) {
	encoder, err := NewPageEncoder(len(page))
	if err != nil {
		return 0, nil, err
	}

	encoded, err := encoder.Encode(page)
	if err != nil {
		return 0, nil, err
	}

	compressed := make([]byte, len(encoded.Data))
	copy(compressed, encoded.Data)
	return encoded.Escape, compressed, nil
}

// DecodePage decompresses `compressed` into `page`. The length of `page`
// determines the page size.
//
// It returns an error wrapping [sdimage.ErrCorruptPage] if an escape sequence is
// truncated, describes an empty run, or if the stream would produce more than
// len(page) bytes. On error the contents of `page` are undefined.
func DecodePage(compressed []byte, page []byte) error {
	if len(compressed) == 0 {
		return sdimage.ErrCorruptPage.WithMessage("compressed page is empty")
	}

	escape := compressed[0]
	fill(page, escape)

	outPos := 0
	inPos := 1
	for inPos < len(compressed) {
		current := compressed[inPos]
		if current != escape {
			if outPos >= len(page) {
				return corruptPageError("literal byte", inPos, outPos, len(page))
			}
			page[outPos] = current
			outPos++
			inPos++
			continue
		}

		if inPos+shortRunSequenceSize > len(compressed) {
			return sdimage.ErrCorruptPage.WithMessage(
				fmt.Sprintf("truncated escape sequence at offset %d", inPos))
		}

		value := compressed[inPos+1]
		runLength := int(compressed[inPos+2])
		sequenceStart := inPos
		inPos += shortRunSequenceSize

		if runLength == 0 {
			if sequenceStart+extendedRunSequenceSize > len(compressed) {
				return sdimage.ErrCorruptPage.WithMessage(
					fmt.Sprintf("truncated extended escape sequence at offset %d", sequenceStart))
			}
			runLength = int(compressed[inPos]) | int(compressed[inPos+1])<<8
			inPos += extendedRunSequenceSize - shortRunSequenceSize
			if runLength == 0 {
				return sdimage.ErrCorruptPage.WithMessage(
					fmt.Sprintf("zero-length run at offset %d", sequenceStart))
			}
		}

		if outPos+runLength > len(page) {
			return corruptPageError("run", sequenceStart, outPos+runLength, len(page))
		}
		if value != escape {
			fill(page[outPos:outPos+runLength], value)
		}
		outPos += runLength
	}

	return nil
}

// DecodePageToBytes is a convenience wrapper around [DecodePage] that allocates
// the output page.
func DecodePageToBytes(compressed []byte, pageSize int) ([]byte, error) {
	page := make([]byte, pageSize)
	err := DecodePage(compressed, page)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func corruptPageError(what string, inPos, outEnd, pageSize int) error {
	return sdimage.ErrCorruptPage.WithMessage(
		fmt.Sprintf(
			"%s at offset %d extends to byte %d, past the end of the %d-byte page",
			what,
			inPos,
			outEnd,
			pageSize,
		),
	)
}

func fill(buffer []byte, value byte) {
	if len(buffer) == 0 {
		return
	}
	buffer[0] = value
	for filled := 1; filled < len(buffer); filled *= 2 {
		copy(buffer[filled:], buffer[:filled])
	}
}

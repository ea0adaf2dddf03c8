package container_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/container"
	dt "github.com/dargueta/sdimage/testing"
	"github.com/dargueta/sdimage/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageCount = 20

func maxContainerSize(pageCount int) int {
	return int(container.LayoutRLEDirectory.HeaderSize()) +
		pageCount*compression.MaxEncodedSize(compression.PageSize) +
		(pageCount+1)*4
}

var layouts = []container.Layout{
	container.LayoutRLEDirectory,
	container.LayoutOffsetTable,
}

func TestCompress__EndToEnd(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 1)

	for _, layout := range layouts {
		t.Run(
			layout.String(),
			func(t *testing.T) {
				writer := container.NewWriter(container.WriteOptions{Layout: layout})
				data, stats := dt.CompressToBytes(
					t, writer, rawImage, maxContainerSize(testPageCount))
				t.Logf(
					"compressed %d -> %d bytes (%d%%)",
					len(rawImage),
					len(data),
					stats.CompressionRatio(),
				)

				assert.Equal(t, testPageCount, stats.PageCount)
				assert.Equal(t, compression.PageSize, stats.PageSize)
				assert.EqualValues(t, len(data), stats.TotalSize)
				assert.Equal(t, layout.Magic(), data[:container.MagicSize])

				reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
				require.NoError(t, err)
				assert.Equal(t, testPageCount, reader.PageCount())
				assert.EqualValues(t, stats.MaxCompressedPageSize, reader.Header().MaxCompressedPageSize)
				assert.Equal(t, stats.DirectorySize, reader.Header().DirectorySize)

				// Pages are read back to front so that no page depends on its
				// predecessor having been decoded.
				page := make([]byte, compression.PageSize)
				for i := testPageCount - 1; i >= 0; i-- {
					err = reader.ReadPage(i, page)
					require.NoErrorf(t, err, "failed to read page %d", i)
					expected := rawImage[i*compression.PageSize : (i+1)*compression.PageSize]
					require.Truef(t, bytes.Equal(expected, page), "page %d is wrong", i)
				}

				assert.Equal(t, rawImage, dt.DecompressAll(t, reader))
			},
		)
	}
}

func TestCompress__RLEDirectoryLayout(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 2)
	writer := container.NewWriter(container.WriteOptions{})
	data, stats := dt.CompressToBytes(t, writer, rawImage, maxContainerSize(testPageCount))

	assert.Equal(t, len(dt.ZeroPages), stats.OmittedPages)
	assert.Equal(t, testPageCount-len(dt.ZeroPages), stats.StoredPages)
	assert.Equal(t, len(dt.ZeroPages)+1, stats.UniformPages)

	reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	header := reader.Header()
	assert.Equal(t, container.LayoutRLEDirectory, header.Layout)
	assert.EqualValues(t, testPageCount, header.PageCount)
	assert.EqualValues(t, 48, header.DataOffset)
	assert.Equal(t, int64(len(data))-header.DirectorySize, header.DirectoryOffset)

	for _, zeroPage := range dt.ZeroPages {
		extent, err := reader.Locate(zeroPage)
		require.NoError(t, err)
		assert.Equalf(t, 0, extent.Size, "zero page %d is stored", zeroPage)
	}

	// Page 0 isn't stored, so the data region begins with page 1, which is a
	// single escape byte.
	extent, err := reader.Locate(dt.UniformPage)
	require.NoError(t, err)
	assert.Equal(t, header.DataOffset, extent.Offset)
	assert.Equal(t, 1, extent.Size)
	assert.EqualValues(t, dt.UniformPageValue, data[header.DataOffset])

	// The pages are stored back to back, and nothing else is in the data region.
	var storedBytes int64
	for i := 0; i < reader.PageCount(); i++ {
		extent, err := reader.Locate(i)
		require.NoError(t, err)
		storedBytes += int64(extent.Size)
	}
	assert.Equal(t, header.DirectoryOffset-header.DataOffset, storedBytes)
}

func TestCompress__OffsetTableLayout(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 3)
	writer := container.NewWriter(container.WriteOptions{Layout: container.LayoutOffsetTable})
	data, stats := dt.CompressToBytes(t, writer, rawImage, maxContainerSize(testPageCount))

	assert.Equal(t, 0, stats.OmittedPages)
	assert.Equal(t, testPageCount, stats.StoredPages)
	assert.EqualValues(t, (testPageCount+1)*4, stats.DirectorySize)

	reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	header := reader.Header()
	assert.EqualValues(t, 36, header.DataOffset)
	assert.EqualValues(t, testPageCount, header.PageCount)

	for _, zeroPage := range dt.ZeroPages {
		extent, err := reader.Locate(zeroPage)
		require.NoError(t, err)
		assert.Equalf(t, 1, extent.Size, "zero page %d should be one byte", zeroPage)
	}

	extent, err := reader.Locate(0)
	require.NoError(t, err)
	assert.Equal(t, header.DataOffset, extent.Offset)
	assert.EqualValues(t, 0, data[header.DataOffset])
}

func TestCompressFile__Deterministic(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 4)
	inputPath := dt.WriteImageFile(t, "raw.img", rawImage)

	for _, layout := range layouts {
		t.Run(
			layout.String(),
			func(t *testing.T) {
				writer := container.NewWriter(container.WriteOptions{Layout: layout})
				outputDir := t.TempDir()

				var outputs [][]byte
				for _, name := range []string{"first.cimg", "second.cimg"} {
					outputPath := filepath.Join(outputDir, name)
					stats, err := sdimage.CompressFile(writer, inputPath, outputPath)
					require.NoError(t, err)

					data, err := os.ReadFile(outputPath)
					require.NoError(t, err)
					require.EqualValues(t, stats.TotalSize, len(data))
					outputs = append(outputs, data)
				}
				assert.Equal(t, outputs[0], outputs[1], "output differs between runs")

				inMemory, _ := dt.CompressToBytes(
					t, writer, rawImage, maxContainerSize(testPageCount))
				assert.Equal(t, outputs[0], inMemory, "file and memory output differ")
			},
		)
	}
}

////////////////////////////////////////////////////////////////////////////////
// Input size limits

func TestValidateInputSize(t *testing.T) {
	writer := container.NewWriter(container.WriteOptions{})
	const pageSize = compression.PageSize

	assert.NoError(t, writer.ValidateInputSize(container.MinPageCount*pageSize))
	assert.NoError(t, writer.ValidateInputSize(container.MaxImageSize))

	badSizes := map[string]int64{
		"one page short":     (container.MinPageCount - 1) * pageSize,
		"empty":              0,
		"not page aligned":   container.MinPageCount*pageSize + 512,
		"larger than 32 bit": container.MaxImageSize + pageSize,
	}
	for name, size := range badSizes {
		assert.ErrorIsf(
			t, writer.ValidateInputSize(size), sdimage.ErrBadInputSize, "%s", name)
	}
}

func TestCompress__MinimumPageCount(t *testing.T) {
	writer := container.NewWriter(container.WriteOptions{})

	rawImage := make([]byte, container.MinPageCount*compression.PageSize)
	data, stats := dt.CompressToBytes(t, writer, rawImage, maxContainerSize(container.MinPageCount))
	assert.Equal(t, container.MinPageCount, stats.OmittedPages)
	// 48 bytes of header and a single directory entry for all pages.
	assert.Len(t, data, 48+3)

	reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, rawImage, dt.DecompressAll(t, reader))

	short := rawImage[:(container.MinPageCount-1)*compression.PageSize]
	_, err = writer.Compress(bytes.NewReader(short), int64(len(short)), &limitedWriteSeeker{limit: 1 << 20})
	assert.ErrorIs(t, err, sdimage.ErrBadInputSize)
}

func TestCompressFile__BadInputSizeCreatesNoOutput(t *testing.T) {
	rawImage := make([]byte, container.MinPageCount*compression.PageSize+100)
	inputPath := dt.WriteImageFile(t, "raw.img", rawImage)
	outputPath := filepath.Join(t.TempDir(), "out.cimg")

	_, err := sdimage.CompressFile(
		container.NewWriter(container.WriteOptions{}), inputPath, outputPath)
	assert.ErrorIs(t, err, sdimage.ErrBadInputSize)

	_, err = os.Stat(outputPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "output file was created")
}

////////////////////////////////////////////////////////////////////////////////
// I/O failures

// limitedWriteSeeker accepts at most `limit` bytes, then starts returning short
// writes without an error.
type limitedWriteSeeker struct {
	limit    int64
	position int64
}

func (w *limitedWriteSeeker) Write(p []byte) (int, error) {
	available := w.limit - w.position
	if available < 0 {
		available = 0
	}
	n := int64(len(p))
	if n > available {
		n = available
	}
	w.position += n
	return int(n), nil
}

func (w *limitedWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		w.position = offset
	case io.SeekCurrent:
		w.position += offset
	default:
		return 0, errors.New("unsupported whence")
	}
	return w.position, nil
}

func TestCompress__ShortWrite(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 5)
	writer := container.NewWriter(container.WriteOptions{})

	_, err := writer.Compress(
		bytes.NewReader(rawImage), int64(len(rawImage)), &limitedWriteSeeker{limit: 1000})
	assert.ErrorIs(t, err, sdimage.ErrShortWrite)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestCompress__ShortRead(t *testing.T) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 6)
	writer := container.NewWriter(container.WriteOptions{})

	truncated := rawImage[:len(rawImage)-100]
	_, err := writer.Compress(
		bytes.NewReader(truncated),
		int64(len(rawImage)),
		&limitedWriteSeeker{limit: int64(maxContainerSize(testPageCount))},
	)
	assert.ErrorIs(t, err, sdimage.ErrShortRead)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

////////////////////////////////////////////////////////////////////////////////
// Reading damaged containers

func compressSynthetic(t *testing.T, layout container.Layout) ([]byte, []byte) {
	rawImage := dt.CreateSyntheticImage(compression.PageSize, testPageCount, 7)
	writer := container.NewWriter(container.WriteOptions{Layout: layout})
	data, _ := dt.CompressToBytes(t, writer, rawImage, maxContainerSize(testPageCount))
	return rawImage, data
}

func TestOpen__BadMagic(t *testing.T) {
	_, data := compressSynthetic(t, container.LayoutRLEDirectory)
	data[3] ^= 0xff

	_, err := container.Open(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, sdimage.ErrBadMagic)

	_, err = container.Open(bytes.NewReader(data[:10]), 10)
	assert.ErrorIs(t, err, sdimage.ErrBadMagic)
}

func TestOpen__TruncatedContainer(t *testing.T) {
	for _, layout := range layouts {
		t.Run(
			layout.String(),
			func(t *testing.T) {
				_, data := compressSynthetic(t, layout)
				truncated := data[:len(data)-2]

				_, err := container.Open(bytes.NewReader(truncated), int64(len(truncated)))
				assert.ErrorIs(t, err, sdimage.ErrCorruptHeader)
			},
		)
	}
}

func TestOpen__DirectoryMismatch(t *testing.T) {
	_, data := compressSynthetic(t, container.LayoutRLEDirectory)

	// Claim one page more than the directory describes.
	data[28]++
	_, err := container.Open(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, sdimage.ErrCorruptHeader)
}

// buildRLEContainer builds a minimal RLE-directory container by hand: a header
// with the given fields followed directly by a single directory entry covering
// 16 null pages.
func buildRLEContainer(pageCount, maxCompressedSize uint32) []byte {
	data := append([]byte{}, container.MagicRLEDirectory...)
	for _, field := range []uint32{pageCount, 48, maxCompressedSize, 3, 48} {
		data = binary.LittleEndian.AppendUint32(data, field)
	}
	return append(data, 0x10, 0x00, 0x80)
}

func TestOpen__MinimalContainer(t *testing.T) {
	data := buildRLEContainer(16, 1)
	require.Len(t, data, 51)

	reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16*compression.PageSize), dt.DecompressAll(t, reader))
}

// Header values that would make the reader allocate huge buffers must be
// rejected before anything is allocated.
func TestOpen__ImplausibleHeaderFields(t *testing.T) {
	testCases := []struct {
		name              string
		pageCount         uint32
		maxCompressedSize uint32
	}{
		{"page count past 4 GiB", uint32(container.MaxPageCount + 1), 1},
		{"page count all ones", 0xFFFFFFFF, 1},
		{"largest page past worst case", 16, uint32(compression.MaxEncodedSize(compression.PageSize) + 1)},
		{"largest page all ones", 16, 0xFFFFFFF0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := buildRLEContainer(tc.pageCount, tc.maxCompressedSize)
			_, err := container.Open(bytes.NewReader(data), int64(len(data)))
			assert.ErrorIs(t, err, sdimage.ErrCorruptHeader)
		})
	}
}

func TestOpen__TrailingData(t *testing.T) {
	data := append(buildRLEContainer(16, 1), 0x00)
	_, err := container.Open(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, sdimage.ErrCorruptHeader)

	_, compressed := compressSynthetic(t, container.LayoutRLEDirectory)
	padded := append(append([]byte{}, compressed...), 0xAA, 0xBB, 0xCC)
	_, err = container.Open(bytes.NewReader(padded), int64(len(padded)))
	assert.ErrorIs(t, err, sdimage.ErrCorruptHeader)
}

func TestReadPage__CorruptPageIsIsolated(t *testing.T) {
	for _, layout := range layouts {
		t.Run(
			layout.String(),
			func(t *testing.T) {
				rawImage, data := compressSynthetic(t, layout)
				reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
				require.NoError(t, err)

				// Page 3 is entirely random, so its compressed form is large.
				extent, err := reader.Locate(3)
				require.NoError(t, err)
				require.Greater(t, extent.Size, 9)

				escape := data[extent.Offset]
				copy(
					data[extent.Offset:],
					[]byte{escape, escape, 0x22, 0, 0xff, 0xff, escape, 0x22, 0x05},
				)

				page := make([]byte, compression.PageSize)
				err = reader.ReadPage(3, page)
				assert.ErrorIs(t, err, sdimage.ErrCorruptPage)

				for _, i := range []int{2, 4, 5} {
					err = reader.ReadPage(i, page)
					require.NoError(t, err)
					assert.Equal(t, rawImage[i*compression.PageSize:(i+1)*compression.PageSize], page)
				}
			},
		)
	}
}

func TestReadPage__BadArguments(t *testing.T) {
	_, data := compressSynthetic(t, container.LayoutRLEDirectory)
	reader, err := container.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	err = reader.ReadPage(0, make([]byte, 512))
	assert.ErrorIs(t, err, sdimage.ErrInvalidArgument)

	err = reader.ReadPage(testPageCount, make([]byte, compression.PageSize))
	assert.ErrorIs(t, err, sdimage.ErrPageOutOfRange)
}

////////////////////////////////////////////////////////////////////////////////
// Header

func TestHeader__FieldOverflow(t *testing.T) {
	header := container.Header{
		Layout:                container.LayoutRLEDirectory,
		PageCount:             16,
		DirectoryOffset:       1 << 32,
		MaxCompressedPageSize: 100,
	}
	_, err := header.MarshalFields()
	assert.ErrorIs(t, err, sdimage.ErrFieldOverflow)
}

func TestHeader__RoundTrip(t *testing.T) {
	header := container.Header{
		Layout:                container.LayoutRLEDirectory,
		PageCount:             0x4000,
		DirectoryOffset:       0x12345678,
		MaxCompressedPageSize: 0x20001,
		DirectorySize:         0x600,
		DataOffset:            48,
	}
	data, err := header.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 48)
	assert.Equal(t, []byte{0x00, 0x40, 0x00, 0x00}, data[28:32])

	parsed, err := container.ParseHeader(data, 0x12345678+0x600)
	require.NoError(t, err)
	assert.Equal(t, header, parsed)
}

func TestParseLayout(t *testing.T) {
	for _, layout := range layouts {
		parsed, err := container.ParseLayout(layout.String())
		require.NoError(t, err)
		assert.Equal(t, layout, parsed)
	}

	_, err := container.ParseLayout("sector")
	assert.ErrorIs(t, err, sdimage.ErrInvalidArgument)
}

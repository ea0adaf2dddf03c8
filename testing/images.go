package testing

import (
	"bytes"
	"crypto/rand"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/sdimage"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// ZeroPages lists the pages of a synthetic image that are entirely null bytes.
var ZeroPages = []int{0, 2, 4}

// UniformPage is the page of a synthetic image that consists of a single
// non-zero byte, UniformPageValue.
const UniformPage = 1
const UniformPageValue = 0x41

// CreateRandomImage creates an image with the given number of pages and bytes
// per page. It is guaranteed to either return a valid slice or fail the test and
// abort.
func CreateRandomImage(bytesPerPage, totalPages uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerPage*totalPages)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d pages of size %d with random bytes",
		totalPages,
		bytesPerPage,
	)
	return backingData
}

// CreateSyntheticImage creates a deterministic image with `totalPages` pages
// that looks roughly like a sparsely used SD card:
//
//   - The pages listed in [ZeroPages] are all null bytes.
//   - Page [UniformPage] is entirely [UniformPageValue].
//   - Every other page is pseudo-random data with stretches of null bytes, and
//     every fourth one is completely random.
//
// The same arguments always produce the same image.
func CreateSyntheticImage(bytesPerPage, totalPages uint, seed int64) []byte {
	rng := mathrand.New(mathrand.NewSource(seed))
	image := make([]byte, bytesPerPage*totalPages)

	for pageIndex := 0; pageIndex < int(totalPages); pageIndex++ {
		page := image[uint(pageIndex)*bytesPerPage : uint(pageIndex+1)*bytesPerPage]
		switch {
		case isZeroPage(pageIndex):
			continue
		case pageIndex == UniformPage:
			copy(page, bytes.Repeat([]byte{UniformPageValue}, len(page)))
		case pageIndex%4 == 3:
			rng.Read(page)
		default:
			for i := 0; i < len(page); {
				runLength := 1 + rng.Intn(600)
				if i+runLength > len(page) {
					runLength = len(page) - i
				}
				if rng.Intn(3) != 0 {
					rng.Read(page[i : i+runLength])
				}
				i += runLength
			}
		}
	}
	return image
}

func isZeroPage(pageIndex int) bool {
	for _, zeroPage := range ZeroPages {
		if pageIndex == zeroPage {
			return true
		}
	}
	return false
}

// WriteImageFile writes `data` to a new file in a temporary directory that's
// removed when the test finishes, and returns its path.
func WriteImageFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, data, 0o644)
	require.NoError(t, err, "failed to write temporary image file")
	return path
}

// CompressToBytes runs `compressor` over `rawImage` entirely in memory and
// returns the resulting container along with the writer's statistics.
//
// The output buffer is sized for the worst case, so the compressor must never
// run out of space; `maxContainerSize` gives that worst case.
func CompressToBytes(
	t *testing.T,
	compressor sdimage.ImageCompressor,
	rawImage []byte,
	maxContainerSize int,
) ([]byte, sdimage.Stats) {
	storage := make([]byte, maxContainerSize)
	output := bytesextra.NewReadWriteSeeker(storage)

	stats, err := compressor.Compress(
		bytes.NewReader(rawImage), int64(len(rawImage)), output)
	require.NoError(t, err, "compression failed")
	require.LessOrEqual(t, stats.TotalSize, int64(maxContainerSize))
	return storage[:stats.TotalSize], stats
}

// DecompressAll reads every page from `reader` and returns the uncompressed
// image.
func DecompressAll(t *testing.T, reader sdimage.PageReader) []byte {
	pageSize := reader.PageSize()
	image := make([]byte, pageSize*reader.PageCount())
	for i := 0; i < reader.PageCount(); i++ {
		err := reader.ReadPage(i, image[i*pageSize:(i+1)*pageSize])
		require.NoErrorf(t, err, "failed to read page %d", i)
	}
	return image
}

package formats_test

import (
	"testing"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/container"
	"github.com/dargueta/sdimage/formats"
	"github.com/dargueta/sdimage/sector"
	"github.com/dargueta/sdimage/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The catalogue must agree with the constants the codecs actually use.
func TestCatalogueMatchesCodecs(t *testing.T) {
	testCases := []struct {
		slug     string
		magic    []byte
		pageSize int
		minPages int
	}{
		{"xemu-rle", container.MagicRLEDirectory, compression.PageSize, container.MinPageCount},
		{"xemu-offsets", container.MagicOffsetTable, compression.PageSize, container.MinPageCount},
		{"mega65-sector", sector.Magic, sector.SectorSize, sector.MinSectorCount},
	}

	for _, tc := range testCases {
		t.Run(tc.slug, func(t *testing.T) {
			format, err := formats.Get(tc.slug)
			require.NoError(t, err)
			assert.Equal(t, tc.magic, format.MagicBytes())
			assert.Equal(t, tc.pageSize, format.PageSize)
			assert.Equal(t, tc.minPages, format.MinPages)
			assert.EqualValues(t, tc.pageSize*tc.minPages, format.MinImageSize())

			byMagic, err := formats.ForMagic(tc.magic)
			require.NoError(t, err)
			assert.Equal(t, format, byMagic)
		})
	}
}

func TestLayoutsParse(t *testing.T) {
	for _, format := range formats.All() {
		if format.Layout == "sector" {
			continue
		}
		layout, err := container.ParseLayout(format.Layout)
		require.NoError(t, err, format.Slug)
		assert.Equal(t, format.MagicBytes(), layout.Magic(), format.Slug)
	}
}

func TestAll__Sorted(t *testing.T) {
	all := formats.All()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Slug, all[i].Slug)
	}
}

func TestUnknown(t *testing.T) {
	_, err := formats.Get("zip")
	assert.ErrorIs(t, err, sdimage.ErrInvalidArgument)

	_, err = formats.ForMagic([]byte("XemuBlockCompressedImage003\x00"))
	assert.ErrorIs(t, err, sdimage.ErrBadMagic)

	_, err = formats.ForMagic([]byte("Xemu"))
	assert.ErrorIs(t, err, sdimage.ErrBadMagic)
}

// Package formats is a catalogue of the compressed image formats this module
// can produce and read.
package formats

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/sdimage"
	"github.com/gocarina/gocsv"
)

type Format struct {
	Slug  string `csv:"slug"`
	Name  string `csv:"name"`
	Magic string `csv:"magic"`

	// PageSize is the granularity of the format in bytes: the size of a page
	// for the 64 KiB formats, or of a sector for the sector format.
	PageSize int `csv:"page_size"`

	// MinPages is the smallest number of pages an image may have.
	MinPages int    `csv:"min_pages"`
	Layout   string `csv:"layout"`
	Notes    string `csv:"notes"`
}

// MagicBytes returns the NUL-terminated magic string at the start of every
// image in this format.
func (f Format) MagicBytes() []byte {
	return append([]byte(f.Magic), 0)
}

// MinImageSize returns the size of the smallest raw image that can be stored
// in this format.
func (f Format) MinImageSize() int64 {
	return int64(f.PageSize) * int64(f.MinPages)
}

//go:embed formats.csv
var formatsRawCSV string
var knownFormats map[string]Format

// Get returns the format with the given slug.
func Get(slug string) (Format, error) {
	format, ok := knownFormats[slug]
	if ok {
		return format, nil
	}
	return Format{}, sdimage.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("no format exists with slug %q", slug))
}

// ForMagic returns the format whose magic string begins `header`.
func ForMagic(header []byte) (Format, error) {
	for _, format := range knownFormats {
		if bytes.HasPrefix(header, format.MagicBytes()) {
			return format, nil
		}
	}
	return Format{}, sdimage.ErrBadMagic.WithMessage(
		fmt.Sprintf("%q doesn't start with the magic of any known format", header))
}

// All returns every known format, ordered by slug.
func All() []Format {
	result := make([]Format, 0, len(knownFormats))
	for _, format := range knownFormats {
		result = append(result, format)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Slug < result[j].Slug
	})
	return result
}

func parseCatalogue(rawCSV string) (map[string]Format, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'

	var rows []Format
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode format catalogue: %w", err)
	}

	catalogue := make(map[string]Format, len(rows))
	for i, row := range rows {
		_, exists := catalogue[row.Slug]
		if exists {
			return nil, fmt.Errorf(
				"duplicate definition for format %q found on row %d", row.Slug, i+1)
		}
		catalogue[row.Slug] = row
	}
	return catalogue, nil
}

func init() {
	var err error
	knownFormats, err = parseCatalogue(formatsRawCSV)
	if err != nil {
		panic(err)
	}
}

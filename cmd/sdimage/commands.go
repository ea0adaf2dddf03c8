package main

import (
	"bufio"
	_ "crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dargueta/sdimage"
	"github.com/dargueta/sdimage/container"
	"github.com/dargueta/sdimage/formats"
	"github.com/dargueta/sdimage/mount"
	"github.com/dargueta/sdimage/sector"
	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v2"
)

func requireArgs(context *cli.Context, count int) error {
	if context.Args().Len() != count {
		return fmt.Errorf(
			"%s: expected %d arguments, got %d (usage: %s)",
			context.Command.Name,
			count,
			context.Args().Len(),
			context.Command.ArgsUsage,
		)
	}
	return nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newCompressor(layoutName, formatSlug string, logger *slog.Logger) (sdimage.ImageCompressor, error) {
	if formatSlug != "" {
		format, err := formats.Get(formatSlug)
		if err != nil {
			return nil, err
		}
		layoutName = format.Layout
	}

	if layoutName == "sector" {
		return sector.NewWriter(sector.WriteOptions{Logger: logger}), nil
	}
	layout, err := container.ParseLayout(layoutName)
	if err != nil {
		return nil, err
	}
	return container.NewWriter(container.WriteOptions{Layout: layout, Logger: logger}), nil
}

func compressImage(context *cli.Context) error {
	err := requireArgs(context, 2)
	if err != nil {
		return err
	}
	inputPath := context.Args().Get(0)
	outputPath := context.Args().Get(1)

	compressor, err := newCompressor(
		context.String("layout"), context.String("format"), newLogger(context.Bool("verbose")))
	if err != nil {
		return err
	}

	stats, err := sdimage.CompressFileWithCleanup(compressor, inputPath, outputPath)
	if err != nil {
		return err
	}

	fmt.Printf(
		"Compressed %d pages of %d bytes to %d bytes (%d%%).\n",
		stats.PageCount,
		stats.PageSize,
		stats.TotalSize,
		stats.CompressionRatio(),
	)
	return nil
}

func writeRawImage(image *mount.Image, output io.Writer) error {
	pages := image.Pages()
	buffer := make([]byte, pages.PageSize())
	writer := bufio.NewWriter(output)

	for i := 0; i < pages.PageCount(); i++ {
		err := pages.ReadPage(i, buffer)
		if err != nil {
			return err
		}
		err = sdimage.WriteFull(writer, buffer)
		if err != nil {
			return err
		}
	}
	return writer.Flush()
}

func decompressImage(context *cli.Context) error {
	err := requireArgs(context, 2)
	if err != nil {
		return err
	}
	outputPath := context.Args().Get(1)

	image, err := mount.Open(context.Args().Get(0), 1)
	if err != nil {
		return err
	}
	defer image.Close()

	output, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	err = writeRawImage(image, output)
	closeErr := output.Close()
	if closeErr != nil {
		err = multierror.Append(err, closeErr).ErrorOrNil()
	}
	if err != nil {
		os.Remove(outputPath)
		return err
	}

	fmt.Printf("Expanded image to %d bytes.\n", image.Size())
	return nil
}

func showInfo(context *cli.Context) error {
	err := requireArgs(context, 1)
	if err != nil {
		return err
	}
	path := context.Args().Get(0)

	fileInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	image, err := mount.Open(path, 1)
	if err != nil {
		return err
	}
	defer image.Close()

	format := image.Format()
	fmt.Printf("Format:          %s (%s)\n", format.Name, format.Slug)
	fmt.Printf("Page size:       %d\n", image.PageSize())
	fmt.Printf("Pages:           %d\n", image.PageCount())
	fmt.Printf("Raw size:        %d\n", image.Size())
	fmt.Printf("Compressed size: %d (%d%%)\n",
		fileInfo.Size(), 100*fileInfo.Size()/image.Size())

	switch pages := image.Pages().(type) {
	case *container.Reader:
		header := pages.Header()
		fmt.Printf("Data offset:     %d\n", header.DataOffset)
		fmt.Printf("Directory:       %d bytes at %d\n",
			header.DirectorySize, header.DirectoryOffset)
		fmt.Printf("Largest page:    %d\n", header.MaxCompressedPageSize)

		omitted := 0
		for i := 0; i < pages.PageCount(); i++ {
			extent, err := pages.Locate(i)
			if err != nil {
				return err
			}
			if extent.Size == 0 {
				omitted++
			}
		}
		fmt.Printf("Omitted pages:   %d\n", omitted)
	case *sector.Reader:
		shared := 0
		for i := 0; i < pages.PageCount(); i++ {
			isShared, err := pages.IsShared(i)
			if err != nil {
				return err
			}
			if isShared {
				shared++
			}
		}
		fmt.Printf("Stored sectors:  %d\n", pages.StoredSectors())
		fmt.Printf("Shared sectors:  %d\n", shared)
	}
	return nil
}

func verifyImage(context *cli.Context) error {
	err := requireArgs(context, 2)
	if err != nil {
		return err
	}

	image, err := mount.Open(context.Args().Get(0), 1)
	if err != nil {
		return err
	}
	defer image.Close()

	rawFile, err := os.Open(context.Args().Get(1))
	if err != nil {
		return err
	}
	defer rawFile.Close()

	expected, err := digest.Canonical.FromReader(rawFile)
	if err != nil {
		return err
	}
	actual, err := digest.Canonical.FromReader(io.NewSectionReader(image, 0, image.Size()))
	if err != nil {
		return err
	}

	if expected != actual {
		return fmt.Errorf("image decodes to %s, expected %s", actual, expected)
	}
	fmt.Printf("OK %s\n", actual)
	return nil
}

func listFormats(context *cli.Context) error {
	for _, format := range formats.All() {
		fmt.Printf(
			"%-14s %-8s %6d bytes/page, >= %3d pages  %s\n",
			format.Slug,
			format.Layout,
			format.PageSize,
			format.MinPages,
			format.Name,
		)
	}
	return nil
}
